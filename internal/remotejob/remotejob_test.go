package remotejob

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/relaygo/hopper/internal/httpapi"
	"github.com/relaygo/hopper/internal/job"
	"github.com/relaygo/hopper/internal/registry"
)

type fakeHandle struct{ alive bool }

func (f *fakeHandle) Alive() bool { return f.alive }
func (f *fakeHandle) Kill() error { f.alive = false; return nil }

type fakeStarter struct{}

func (fakeStarter) Start(j *job.Job, body registry.Body) (job.WorkerHandle, error) {
	return &fakeHandle{alive: true}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, string, int) {
	t.Helper()
	reg := registry.New(nil)
	reg.RegisterStatic("mul", func(map[string]any, registry.StatusPublisher) error { return nil })
	mgr := job.NewManager(reg, fakeStarter{})
	srv := httptest.NewServer(httpapi.NewMux(httpapi.ServerConfig{Manager: mgr, Registry: reg}))

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	return srv, u.Hostname(), port
}

func TestCreateAdoptAndStart(t *testing.T) {
	srv, host, port := newTestServer(t)
	defer srv.Close()

	ctx := context.Background()
	rj, err := Create(ctx, host, port, "mul", map[string]any{"a": 2, "b": 3}, false, 0, Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rj.ID() == "" {
		t.Fatalf("expected non-empty id")
	}

	started, err := rj.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !started {
		t.Fatalf("expected started=true")
	}

	running, err := rj.Running(ctx, true)
	if err != nil {
		t.Fatalf("Running: %v", err)
	}
	if !running {
		t.Fatalf("expected running=true after start")
	}
}

func TestCreateUnknownPluginFails(t *testing.T) {
	srv, host, port := newTestServer(t)
	defer srv.Close()

	_, err := Create(context.Background(), host, port, "does-not-exist", nil, false, 0, Options{})
	if err == nil {
		t.Fatalf("expected error for unknown plugin")
	}
}

func TestAdoptMissingJobFails(t *testing.T) {
	srv, host, port := newTestServer(t)
	defer srv.Close()

	_, err := New(context.Background(), host, port, "missing-id", Options{})
	if err == nil {
		t.Fatalf("expected error for missing job")
	}
}

func TestJoinTimesOutWhenNeverFinished(t *testing.T) {
	srv, host, port := newTestServer(t)
	defer srv.Close()

	ctx := context.Background()
	rj, err := Create(ctx, host, port, "mul", nil, true, 0, Options{JoinInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = rj.Join(ctx, 30*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}
