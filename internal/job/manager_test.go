package job

import (
	"errors"
	"testing"

	"github.com/relaygo/hopper/internal/joberrors"
	"github.com/relaygo/hopper/internal/registry"
)

// fakeHandle is a WorkerHandle controlled by tests.
type fakeHandle struct {
	alive bool
	killed bool
}

func (f *fakeHandle) Alive() bool { return f.alive }
func (f *fakeHandle) Kill() error { f.killed = true; f.alive = false; return nil }

// fakeStarter lets tests control what handle Start returns.
type fakeStarter struct {
	handle *fakeHandle
	err    error
}

func (s *fakeStarter) Start(j *Job, body registry.Body) (WorkerHandle, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.handle, nil
}

func newTestManager() (*Manager, *fakeStarter) {
	reg := registry.New(nil)
	reg.RegisterStatic("mul", func(cfg map[string]any, status registry.StatusPublisher) error {
		return nil
	})
	starter := &fakeStarter{handle: &fakeHandle{alive: true}}
	return NewManager(reg, starter), starter
}

func TestCreateUnknownPluginFails(t *testing.T) {
	m, _ := newTestManager()
	_, err := m.Create("does-not-exist", nil, 5000, false)
	if !errors.Is(err, joberrors.ErrNoSuchPlugin) {
		t.Fatalf("expected ErrNoSuchPlugin, got %v", err)
	}
}

func TestStartOnlyOnce(t *testing.T) {
	m, _ := newTestManager()
	j, err := m.Create("mul", map[string]any{"a": 1}, 5000, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.Start(j); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := m.Start(j); !errors.Is(err, joberrors.ErrAlreadyStarted) {
		t.Fatalf("second Start: expected ErrAlreadyStarted, got %v", err)
	}
}

func TestKillRequiresStarted(t *testing.T) {
	m, _ := newTestManager()
	j, _ := m.Create("mul", nil, 5000, false)

	if err := m.Kill(j); !errors.Is(err, joberrors.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestKillAfterStartTransitionsState(t *testing.T) {
	m, _ := newTestManager()
	j, _ := m.Create("mul", nil, 5000, false)
	if err := m.Start(j); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Kill(j); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if j.State() != Killed {
		t.Errorf("expected state Killed, got %v", j.State())
	}
}

func TestKillOnFinishedJobIsPermissive(t *testing.T) {
	m, _ := newTestManager()
	j, _ := m.Create("mul", nil, 5000, false)
	if err := m.Start(j); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.Finish(j, 10, nil)

	if err := m.Kill(j); err != nil {
		t.Fatalf("Kill on finished job should be accepted, got: %v", err)
	}
	if j.State() != Finished {
		t.Errorf("expected state to remain Finished, got %v", j.State())
	}
}

func TestUpdateStatusWrongTokenRejected(t *testing.T) {
	m, _ := newTestManager()
	j, _ := m.Create("mul", nil, 5000, false)

	err := m.UpdateStatus(j, "wrong-token", map[string]any{"k": 1})
	if !errors.Is(err, joberrors.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if len(j.Status()) != 0 {
		t.Errorf("expected status unchanged, got %v", j.Status())
	}
}

func TestUpdateStatusMergeIsMonotonic(t *testing.T) {
	m, _ := newTestManager()
	j, _ := m.Create("mul", nil, 5000, false)

	if err := m.UpdateStatus(j, j.AuthToken, map[string]any{"a": 1, "b": 2}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := m.UpdateStatus(j, j.AuthToken, map[string]any{"b": 3}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	status := j.Status()
	if status["a"] != 1 || status["b"] != 3 {
		t.Errorf("got %v, want a=1 b=3", status)
	}
}

func TestGetMissingJob(t *testing.T) {
	m, _ := newTestManager()
	_, err := m.Get("missing")
	if !errors.Is(err, joberrors.ErrNoSuchJob) {
		t.Fatalf("expected ErrNoSuchJob, got %v", err)
	}
}

func TestFinishWithFailureRecordSurfacesOnStatus(t *testing.T) {
	m, _ := newTestManager()
	m.registry.RegisterStatic("raise_type", func(map[string]any, registry.StatusPublisher) error { return nil })
	j, _ := m.Create("raise_type", map[string]any{}, 5000, false)
	if err := m.Start(j); err != nil {
		t.Fatalf("Start: %v", err)
	}

	failure := NewLeafFailure("traceback here", &joberrors.TypedError{Type: "TypeError", Message: "THE SKY IS FALLING!!"})
	m.Finish(j, 5, failure)

	status := j.Status()
	exc, ok := status["exception"].(*FailureRecord)
	if !ok {
		t.Fatalf("expected exception in status, got %v", status)
	}
	if exc.RootType() != "TypeError" || exc.RootMessage() != "THE SKY IS FALLING!!" {
		t.Errorf("got type=%s message=%s", exc.RootType(), exc.RootMessage())
	}
}
