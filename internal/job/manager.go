package job

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/relaygo/hopper/internal/joberrors"
	"github.com/relaygo/hopper/internal/logging"
	"github.com/relaygo/hopper/internal/metrics"
	"github.com/relaygo/hopper/internal/registry"
)

// Starter spawns a job's worker process and returns a handle the Job uses to
// query liveness and request termination. internal/supervisor implements
// this; Manager depends only on the interface so tests can substitute a
// fake.
type Starter interface {
	Start(j *Job, body registry.Body) (WorkerHandle, error)
}

// Manager is the in-memory registry of jobs keyed by id (spec §4.5). All
// shared state lives here; the HTTP surface and the supervisor call through
// this type rather than touching jobs directly.
type Manager struct {
	jobs     sync.Map // id -> *Job
	registry *registry.Registry
	starter  Starter
}

// NewManager builds a Manager backed by the given plugin registry and
// worker starter.
func NewManager(reg *registry.Registry, starter Starter) *Manager {
	return &Manager{registry: reg, starter: starter}
}

// Create allocates a job record. Fails with ErrNoSuchPlugin if name is
// unknown. If startNow, immediately invokes Start.
func (m *Manager) Create(name string, config map[string]any, port int, startNow bool) (*Job, error) {
	if _, err := m.registry.Resolve(name); err != nil {
		return nil, err
	}

	j := New(uuid.NewString(), name, config, uuid.NewString(), port)
	m.jobs.Store(j.ID, j)

	metrics.Global().RecordJobCreated(name)
	logging.Default().Log(&logging.JobLog{JobID: j.ID, Plugin: name, Event: "created", Success: true})

	if startNow {
		if err := m.Start(j); err != nil {
			return j, err
		}
	}
	return j, nil
}

// Get returns the job for id, or ErrNoSuchJob.
func (m *Manager) Get(id string) (*Job, error) {
	v, ok := m.jobs.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", joberrors.ErrNoSuchJob, id)
	}
	return v.(*Job), nil
}

// List returns every job, in no particular order.
func (m *Manager) List() []*Job {
	var out []*Job
	m.jobs.Range(func(_, v any) bool {
		out = append(out, v.(*Job))
		return true
	})
	return out
}

// ListRunning returns every job currently running.
func (m *Manager) ListRunning() []*Job {
	var out []*Job
	m.jobs.Range(func(_, v any) bool {
		j := v.(*Job)
		if j.Running() {
			out = append(out, j)
		}
		return true
	})
	return out
}

// Start transitions a job Created→Running, spawning its worker process.
// Fails with ErrAlreadyStarted on any re-entry.
func (m *Manager) Start(j *Job) error {
	body, err := m.registry.Resolve(j.Name)
	if err != nil {
		return err
	}

	// Reserve the transition before spawning so a racing second Start sees
	// Started()==true immediately, matching the "successful at most once"
	// invariant even under concurrent callers.
	placeholder := &pendingHandle{}
	if !j.MarkStarted(placeholder) {
		return fmt.Errorf("%w", joberrors.ErrAlreadyStarted)
	}

	handle, err := m.starter.Start(j, body)
	if err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	placeholder.set(handle)

	metrics.Global().RecordJobStarted(j.Name)
	logging.Default().Log(&logging.JobLog{JobID: j.ID, Plugin: j.Name, Event: "started", Success: true})
	return nil
}

// Kill transitions a job Running→Killed. Fails with ErrNotStarted if no
// worker has ever existed. Killing an already-finished job is accepted with
// no process-level effect.
func (m *Manager) Kill(j *Job) error {
	if !j.MarkKilled() {
		return fmt.Errorf("%w", joberrors.ErrNotStarted)
	}
	if err := j.Kill(); err != nil {
		logging.Op().Warn("kill signal failed", "job_id", j.ID, "error", err)
	}
	metrics.Global().RecordJobKilled(j.Name)
	logging.Default().Log(&logging.JobLog{JobID: j.ID, Plugin: j.Name, Event: "killed", Success: true})
	return nil
}

// UpdateStatus merges fields into the job's status, after checking token.
// Fails with ErrNotAuthorized on mismatch.
func (m *Manager) UpdateStatus(j *Job, token string, fields map[string]any) error {
	if token != j.AuthToken {
		return joberrors.ErrNotAuthorized
	}
	j.UpdateStatus(fields)
	metrics.RecordPrometheusStatusUpdate(j.Name)
	return nil
}

// Finish records a worker's terminal outcome: a nil failure means a clean
// exit, any other value is the delivered failure record. Called by the
// supervisor's drain loop, not by HTTP handlers.
func (m *Manager) Finish(j *Job, durationMs int64, failure *FailureRecord) {
	j.MarkFinished(failure)
	logging.Default().Log(&logging.JobLog{
		JobID:      j.ID,
		Plugin:     j.Name,
		Event:      "finished",
		DurationMs: durationMs,
		Success:    failure == nil,
	})
	if logfiles := logging.JobFiles(); logfiles != nil {
		logfiles.Close(j.ID)
	}
	metrics.Global().RecordJobFinished(j.Name, durationMs, failure == nil)
}

// pendingHandle is a placeholder WorkerHandle installed on the job the
// instant Start reserves the Created→Running transition, before the actual
// process has been spawned. This keeps the one-shot-start invariant atomic
// without holding the job's lock across process creation.
type pendingHandle struct {
	mu     sync.Mutex
	actual WorkerHandle
}

func (p *pendingHandle) set(h WorkerHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actual = h
}

func (p *pendingHandle) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.actual == nil {
		return true // spawn in flight; treat as alive
	}
	return p.actual.Alive()
}

func (p *pendingHandle) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.actual == nil {
		return nil
	}
	return p.actual.Kill()
}
