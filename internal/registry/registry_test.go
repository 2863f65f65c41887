package registry

import (
	"errors"
	"sort"
	"testing"

	"github.com/relaygo/hopper/internal/joberrors"
)

func TestResolveStatic(t *testing.T) {
	r := New(nil)
	r.RegisterStatic("mul", func(cfg map[string]any, status StatusPublisher) error {
		return nil
	})

	body, err := r.Resolve("mul")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if body == nil {
		t.Fatal("expected non-nil body")
	}
}

func TestResolveUnknownPlugin(t *testing.T) {
	r := New(nil)
	_, err := r.Resolve("does-not-exist")
	if !errors.Is(err, joberrors.ErrNoSuchPlugin) {
		t.Fatalf("expected ErrNoSuchPlugin, got %v", err)
	}
}

func TestListIncludesAllStatic(t *testing.T) {
	r := New(nil)
	r.RegisterStatic("a", func(map[string]any, StatusPublisher) error { return nil })
	r.RegisterStatic("b", func(map[string]any, StatusPublisher) error { return nil })

	names := r.List()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("got %v, want [a b]", names)
	}
}

func TestRefreshOnMissingDirIsNotAnError(t *testing.T) {
	r := New([]string{"/nonexistent/hopper/plugins"})
	if err := r.Refresh(); err != nil {
		t.Fatalf("Refresh on missing dir should be a no-op, got: %v", err)
	}
	if len(r.List()) != 0 {
		t.Errorf("expected no plugins discovered, got %v", r.List())
	}
}
