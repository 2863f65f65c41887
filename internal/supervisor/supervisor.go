// Package supervisor spawns each job's worker as an isolated OS process
// (spec §4.4, §5). The worker is the daemon's own binary, re-executed with a
// hidden subcommand; a one-shot pipe carried in the child's ExtraFiles
// delivers at most one failure record before the process exits. The parent
// never blocks waiting for the worker: a dedicated goroutine drains the
// pipe, waits for the process to exit and reports the outcome through the
// OnFinish callback.
package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/relaygo/hopper/internal/job"
	"github.com/relaygo/hopper/internal/logging"
	"github.com/relaygo/hopper/internal/observability"
	"github.com/relaygo/hopper/internal/registry"
)

// WorkerSubcommand is the hidden first argument the re-exec'd child process
// runs with. cmd/hopperd checks for it before cobra parses the command
// line, so it is not a cobra subcommand and never appears in --help.
const WorkerSubcommand = "__run-worker"

// failureEnvelope is what the child writes to its pipe end: a single JSON
// object, newline-terminated.
type failureEnvelope struct {
	Traceback       string `json:"traceback"`
	PreviousJSON    []byte `json:"previous_json,omitempty"` // nested failureEnvelope, pre-encoded
	LeafType        string `json:"leaf_type,omitempty"`
	LeafMessage     string `json:"leaf_message,omitempty"`
	ExceptionObject []byte `json:"exception_object,omitempty"`
}

// Supervisor implements job.Starter by re-executing the current binary.
type Supervisor struct {
	BinaryPath string // defaults to os.Args[0]
	Address    string // address the worker's status updater dials back to
	DrainWait  time.Duration
	OnFinish   func(j *job.Job, durationMs int64, failure *job.FailureRecord)
}

// New builds a Supervisor. onFinish is called exactly once per job, from
// the drain goroutine, when the worker process exits (cleanly or not).
func New(address string, drainWait time.Duration, onFinish func(*job.Job, int64, *job.FailureRecord)) *Supervisor {
	return &Supervisor{
		BinaryPath: os.Args[0],
		Address:    address,
		DrainWait:  drainWait,
		OnFinish:   onFinish,
	}
}

// processHandle implements job.WorkerHandle for a spawned worker process.
type processHandle struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	alive     bool
	drainWait time.Duration
}

func (h *processHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

// Kill sends SIGTERM and, if the process is still alive after drainWait,
// escalates to SIGKILL. It does not wait for the worker to actually exit —
// the caller must poll Alive/Running to observe termination (spec §5).
func (h *processHandle) Kill() error {
	h.mu.Lock()
	cmd := h.cmd
	h.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal worker: %w", err)
	}
	if h.drainWait > 0 {
		go func() {
			time.Sleep(h.drainWait)
			if h.Alive() {
				cmd.Process.Signal(syscall.SIGKILL)
			}
		}()
	}
	return nil
}

// Start spawns a worker process for j and returns immediately; the worker
// resolves the plugin by name itself, so body is not used here. The
// worker's exit (and any delivered failure record) is observed
// asynchronously by the drain goroutine.
func (s *Supervisor) Start(j *job.Job, body registry.Body) (job.WorkerHandle, error) {
	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create failure pipe: %w", err)
	}

	cmd := exec.Command(s.BinaryPath, WorkerSubcommand, j.Name, j.ID, j.AuthToken, s.Address, fmt.Sprint(j.Port))
	cmd.ExtraFiles = []*os.File{writeEnd}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		readEnd.Close()
		writeEnd.Close()
		return nil, fmt.Errorf("spawn worker process: %w", err)
	}
	writeEnd.Close() // parent only reads

	handle := &processHandle{cmd: cmd, alive: true, drainWait: s.DrainWait}

	go s.drain(j, handle, readEnd, start)

	logging.Op().Info("worker spawned", "job_id", j.ID, "plugin", j.Name, "pid", cmd.Process.Pid)
	return handle, nil
}

func (s *Supervisor) drain(j *job.Job, handle *processHandle, readEnd *os.File, start time.Time) {
	_, span := observability.StartSpan(context.Background(), "supervisor.drain",
		observability.AttrJobID.String(j.ID),
		observability.AttrPlugin.String(j.Name),
	)
	defer span.End()

	var failure *job.FailureRecord

	scanner := bufio.NewScanner(readEnd)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if scanner.Scan() {
		var env failureEnvelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			logging.Op().Error("malformed failure envelope", "job_id", j.ID, "error", err)
		} else {
			failure = decodeEnvelope(&env)
		}
	}
	readEnd.Close()

	_ = handle.cmd.Wait()

	handle.mu.Lock()
	handle.alive = false
	handle.mu.Unlock()

	durationMs := time.Since(start).Milliseconds()
	if failure != nil {
		observability.SetSpanError(span, fmt.Errorf("worker failed: %s", failure.RootType()))
		logging.Op().Warn("worker exited with failure", "job_id", j.ID, "root_type", failure.RootType())
	} else {
		observability.SetSpanOK(span)
	}

	if s.OnFinish != nil {
		s.OnFinish(j, durationMs, failure)
	}
}

func decodeEnvelope(env *failureEnvelope) *job.FailureRecord {
	var previous *job.FailureRecord
	if len(env.PreviousJSON) > 0 {
		var nested failureEnvelope
		if err := json.Unmarshal(env.PreviousJSON, &nested); err == nil {
			previous = decodeEnvelope(&nested)
		}
	}

	if env.LeafType != "" || env.LeafMessage != "" {
		return &job.FailureRecord{
			Traceback: env.Traceback,
			Leaf: &job.LeafFailure{
				Type:            env.LeafType,
				Message:         env.LeafMessage,
				ExceptionObject: env.ExceptionObject,
			},
		}
	}

	return &job.FailureRecord{Traceback: env.Traceback, Previous: previous}
}
