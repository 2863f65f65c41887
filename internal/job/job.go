// Package job implements the job record, its state machine, and the
// in-memory manager that enforces lifecycle invariants (spec §4.5, §3).
// A Job owns its own mutex guarding status/state/exception so that the
// manager's map-level concurrency (insert/remove/list) and a job's
// field-level concurrency (status merge, state transition) are independent
// locks, mirroring the teacher's separation of pool-level and
// invocation-level synchronization.
package job

import (
	"sync"
	"time"
)

// State is a job's lifecycle state.
type State int

const (
	Created State = iota
	Running
	Finished
	Killed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Killed:
		return "killed"
	default:
		return "unknown"
	}
}

// WorkerHandle is an opaque reference to a spawned worker process and its
// failure-delivery pipe, populated by the supervisor on Start. See
// internal/supervisor.
type WorkerHandle interface {
	Alive() bool
	Kill() error
}

// Job is one instance of a plugin invocation.
type Job struct {
	ID        string
	Name      string // plugin name
	Config    map[string]any
	AuthToken string
	Port      int

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	mu        sync.Mutex
	state     State
	started   bool
	status    map[string]any
	exception *FailureRecord
	worker    WorkerHandle
}

// New allocates a job record in the Created state. id and authToken are
// caller-supplied so the manager controls their generation (uuid.New()).
func New(id, name string, config map[string]any, authToken string, port int) *Job {
	return &Job{
		ID:        id,
		Name:      name,
		Config:    config,
		AuthToken: authToken,
		Port:      port,
		CreatedAt: time.Now(),
		state:     Created,
		status:    make(map[string]any),
	}
}

// State returns the job's current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Started reports whether Start has ever been called, regardless of current
// state — Kill requires this to be true (spec: "kill requires ≥ Running in
// history").
func (j *Job) Started() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.started
}

// MarkStarted transitions Created→Running and attaches the worker handle.
// Returns false if the job was not in Created state (caller should surface
// ErrAlreadyStarted).
func (j *Job) MarkStarted(worker WorkerHandle) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Created {
		return false
	}
	j.state = Running
	j.started = true
	j.worker = worker
	j.StartedAt = time.Now()
	return true
}

// MarkFinished transitions Running→Finished, recording the failure record if
// the worker exited abnormally (nil means a clean exit).
func (j *Job) MarkFinished(failure *FailureRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Running {
		return
	}
	j.state = Finished
	j.FinishedAt = time.Now()
	if failure != nil {
		j.exception = failure
	}
}

// MarkKilled transitions Running→Killed. Returns false if the job was never
// started (caller should surface ErrNotStarted). Killing an already-finished
// or already-killed job is accepted with no further effect, matching the
// source's permissive behavior (spec §9 Open Question, decided).
func (j *Job) MarkKilled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.started {
		return false
	}
	if j.state == Running {
		j.state = Killed
		j.FinishedAt = time.Now()
	}
	return true
}

// UpdateStatus merges fields into the job's status map. Later calls
// overwrite matching keys but never clear the map.
func (j *Job) UpdateStatus(fields map[string]any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for k, v := range fields {
		j.status[k] = v
	}
}

// Status returns a snapshot of the merged status map, including an
// "exception" key if a failure record has been delivered.
func (j *Job) Status() map[string]any {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]any, len(j.status)+1)
	for k, v := range j.status {
		out[k] = v
	}
	if j.exception != nil {
		out["exception"] = j.exception
	}
	return out
}

// Exception returns the delivered failure record, or nil.
func (j *Job) Exception() *FailureRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exception
}

// Running reports whether the worker exists and is alive.
func (j *Job) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.worker != nil && j.worker.Alive()
}

// Finished reports whether the worker existed and is no longer alive.
func (j *Job) Finished() (bool, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.worker == nil {
		return false, false // (value, hasWorker)
	}
	return !j.worker.Alive(), true
}

// Kill sends a termination signal to the live worker, if any. It is
// non-blocking: it does not wait for the worker to actually exit.
func (j *Job) Kill() error {
	j.mu.Lock()
	w := j.worker
	j.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Kill()
}

// ToView returns the wire-serializable projection used by the HTTP surface
// and the RemoteJob client (spec §4.5 to_view).
func (j *Job) ToView() map[string]any {
	j.mu.Lock()
	defer j.mu.Unlock()

	status := make(map[string]any, len(j.status)+1)
	for k, v := range j.status {
		status[k] = v
	}
	if j.exception != nil {
		status["exception"] = j.exception
	}

	finished := false
	if j.worker != nil {
		finished = !j.worker.Alive()
	}

	return map[string]any{
		"id":       j.ID,
		"name":     j.Name,
		"config":   j.Config,
		"status":   status,
		"running":  j.worker != nil && j.worker.Alive(),
		"killed":   j.state == Killed,
		"finished": finished,
	}
}
