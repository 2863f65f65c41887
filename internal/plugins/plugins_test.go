package plugins

import (
	"errors"
	"testing"
	"time"

	"github.com/relaygo/hopper/internal/joberrors"
	"github.com/relaygo/hopper/internal/statuschannel"
)

func TestMulPublishesResult(t *testing.T) {
	updater := statuschannel.NewLocalUpdater()
	if err := Mul(map[string]any{"a": 2.0, "b": 3.0}, updater); err != nil {
		t.Fatalf("Mul: %v", err)
	}
	if got := updater.Merged()["result"]; got != 6.0 {
		t.Fatalf("expected result=6.0, got %v", got)
	}
}

func TestMulMissingArgFails(t *testing.T) {
	updater := statuschannel.NewLocalUpdater()
	err := Mul(map[string]any{"a": 2.0}, updater)
	if !errors.Is(err, joberrors.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestSleepPublishesProgressThenCompletes(t *testing.T) {
	updater := statuschannel.NewLocalUpdater()
	if err := Sleep(map[string]any{"seconds": 0.01}, updater); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	merged := updater.Merged()
	if merged["progress"] != "done" {
		t.Fatalf("expected progress=done, got %v", merged["progress"])
	}
}

func TestSleepDefaultsToOneSecond(t *testing.T) {
	start := time.Now()
	updater := statuschannel.NewLocalUpdater()
	if err := Sleep(map[string]any{}, updater); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("expected the default one-second sleep, elapsed %v", elapsed)
	}
}

func TestRaiseTypeAlwaysFails(t *testing.T) {
	updater := statuschannel.NewLocalUpdater()
	err := RaiseType(nil, updater)
	var typed *joberrors.TypedError
	if !errors.As(err, &typed) {
		t.Fatalf("expected *joberrors.TypedError, got %T", err)
	}
	if typed.Type != "TypeError" || typed.Message != "THE SKY IS FALLING!!" {
		t.Fatalf("unexpected typed error: %+v", typed)
	}
}
