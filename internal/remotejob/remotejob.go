// Package remotejob implements the client-side handle to a job running on
// a hopper daemon (spec §4.7): construction by create-or-adopt, rate-limited
// status refresh, and a polling Join.
package remotejob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaygo/hopper/internal/job"
	"github.com/relaygo/hopper/internal/joberrors"
	"github.com/relaygo/hopper/internal/logging"
)

const (
	defaultRefreshInterval = 200 * time.Millisecond
	defaultJoinInterval    = 50 * time.Millisecond
)

// RemoteJob is a client handle to one job on a remote daemon.
type RemoteJob struct {
	client *http.Client
	base   string // e.g. http://host:port

	id string

	refreshInterval time.Duration
	joinInterval    time.Duration

	mu          sync.Mutex
	lastRefresh time.Time
	view        map[string]any
}

// Options configures polling cadence; the zero value uses the spec's design
// defaults (200ms refresh rate limit, 50ms join poll).
type Options struct {
	HTTPClient      *http.Client
	RefreshInterval time.Duration
	JoinInterval    time.Duration
}

// New adopts an existing job id on the daemon at address:port, performing
// the one populating GET (spec §4.7 construction contract).
func New(ctx context.Context, address string, port int, id string, opts Options) (*RemoteJob, error) {
	rj := newHandle(address, port, opts)
	rj.id = id
	if err := rj.refresh(ctx, true); err != nil {
		return nil, err
	}
	return rj, nil
}

// Create posts a new job and adopts the returned id, then performs the same
// populating GET as New.
func Create(ctx context.Context, address string, port int, name string, config map[string]any, startNow bool, jobPort int, opts Options) (*RemoteJob, error) {
	rj := newHandle(address, port, opts)

	reqBody, err := json.Marshal(map[string]any{
		"name":    name,
		"config":  config,
		"running": startNow,
		"port":    jobPort,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", joberrors.ErrMalformedPayload, err)
	}

	// The create POST and a best-effort daemon health probe run concurrently
	// and join via errgroup, mirroring the teacher's fan-out-then-join
	// pattern in internal/executor. The probe's outcome is advisory only —
	// its failure never fails Create, it just skips a log line.
	var resp *http.Response
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		req, err := http.NewRequestWithContext(gctx, http.MethodPost, rj.base+"/jobs", bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("%w: %v", joberrors.ErrUnreachable, err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err = rj.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", joberrors.ErrUnreachable, err)
		}
		return nil
	})
	g.Go(func() error {
		probeCreateHealth(gctx, rj)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %s", joberrors.ErrNoSuchPlugin, name)
	}
	view, err := decodeView(resp)
	if err != nil {
		return nil, err
	}

	id, _ := view["id"].(string)
	rj.id = id
	rj.mu.Lock()
	rj.view = view
	rj.lastRefresh = time.Now()
	rj.mu.Unlock()
	if err := rj.refresh(ctx, true); err != nil {
		return nil, err
	}
	return rj, nil
}

func probeCreateHealth(ctx context.Context, rj *RemoteJob) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rj.base+"/health", nil)
	if err != nil {
		return
	}
	resp, err := rj.client.Do(req)
	if err != nil {
		logging.Op().Debug("daemon health probe failed during create", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logging.Op().Debug("daemon health probe returned non-200 during create", "status", resp.StatusCode)
	}
}

func newHandle(address string, port int, opts Options) *RemoteJob {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	refreshInterval := opts.RefreshInterval
	if refreshInterval <= 0 {
		refreshInterval = defaultRefreshInterval
	}
	joinInterval := opts.JoinInterval
	if joinInterval <= 0 {
		joinInterval = defaultJoinInterval
	}
	return &RemoteJob{
		client:          client,
		base:            fmt.Sprintf("http://%s:%d", address, port),
		refreshInterval: refreshInterval,
		joinInterval:    joinInterval,
	}
}

// ID returns the job's id.
func (rj *RemoteJob) ID() string { return rj.id }

// Config returns the cached config, refreshing first unless the last
// refresh is within the rate-limit window and force is false.
func (rj *RemoteJob) Config(ctx context.Context, force bool) (map[string]any, error) {
	if err := rj.refresh(ctx, force); err != nil {
		return nil, err
	}
	rj.mu.Lock()
	defer rj.mu.Unlock()
	cfg, _ := rj.view["config"].(map[string]any)
	return cfg, nil
}

// Running reports the cached running flag.
func (rj *RemoteJob) Running(ctx context.Context, force bool) (bool, error) {
	if err := rj.refresh(ctx, force); err != nil {
		return false, err
	}
	rj.mu.Lock()
	defer rj.mu.Unlock()
	v, _ := rj.view["running"].(bool)
	return v, nil
}

// Finished reports the cached finished flag.
func (rj *RemoteJob) Finished(ctx context.Context, force bool) (bool, error) {
	if err := rj.refresh(ctx, force); err != nil {
		return false, err
	}
	rj.mu.Lock()
	defer rj.mu.Unlock()
	v, _ := rj.view["finished"].(bool)
	return v, nil
}

// Status returns the cached status map. If the view carries an "exception"
// key, it raises *joberrors.RemoteFailure instead of returning normally.
func (rj *RemoteJob) Status(ctx context.Context, force bool) (map[string]any, error) {
	if err := rj.refresh(ctx, force); err != nil {
		return nil, err
	}
	rj.mu.Lock()
	status, _ := rj.view["status"].(map[string]any)
	rj.mu.Unlock()

	if status == nil {
		return nil, nil
	}
	if raw, ok := status["exception"]; ok {
		chain, err := decodeFailureRecord(raw)
		if err == nil {
			return status, &joberrors.RemoteFailure{JobID: rj.id, Host: rj.base, Chain: chain}
		}
	}
	return status, nil
}

// decodeFailureRecord re-marshals the generic JSON value the status map
// carried under "exception" into job.FailureRecord's shape. The wire form
// (traceback/previous_exception/leaf) round-trips exactly because the
// server encodes the same struct directly.
func decodeFailureRecord(raw any) (*job.FailureRecord, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var fr job.FailureRecord
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, err
	}
	return &fr, nil
}

// Start PUTs the start transition.
func (rj *RemoteJob) Start(ctx context.Context) (bool, error) {
	view, err := rj.put(ctx, "/jobs/"+rj.id+"/start")
	if err != nil {
		return false, err
	}
	started, _ := view["started"].(bool)
	return started, nil
}

// Kill PUTs the kill transition.
func (rj *RemoteJob) Kill(ctx context.Context) (bool, error) {
	view, err := rj.put(ctx, "/jobs/"+rj.id+"/kill")
	if err != nil {
		return false, err
	}
	killed, _ := view["killed"].(bool)
	return killed, nil
}

// Join polls Finished at joinInterval until it's true or timeout elapses.
// timeout <= 0 disables the deadline.
func (rj *RemoteJob) Join(ctx context.Context, timeout time.Duration) (bool, error) {
	start := time.Now()
	ticker := time.NewTicker(rj.joinInterval)
	defer ticker.Stop()

	for {
		finished, err := rj.Finished(ctx, true)
		if err != nil {
			return false, err
		}
		if finished {
			// Surface any exception now that the job has finished.
			if _, err := rj.Status(ctx, false); err != nil {
				return true, err
			}
			return true, nil
		}
		if timeout > 0 && time.Since(start) > timeout {
			return false, fmt.Errorf("%w: job %s", joberrors.ErrTimeout, rj.id)
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (rj *RemoteJob) put(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, rj.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", joberrors.ErrUnreachable, err)
	}
	resp, err := rj.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", joberrors.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", joberrors.ErrNoSuchJob, rj.id)
	case http.StatusForbidden:
		return nil, joberrors.ErrNotStarted
	}
	return decodeView(resp)
}

func (rj *RemoteJob) refresh(ctx context.Context, force bool) error {
	rj.mu.Lock()
	stale := force || time.Since(rj.lastRefresh) >= rj.refreshInterval
	rj.mu.Unlock()
	if !stale {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rj.base+"/jobs/"+rj.id, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", joberrors.ErrUnreachable, err)
	}
	resp, err := rj.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", joberrors.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", joberrors.ErrNoSuchJob, rj.id)
	}
	view, err := decodeView(resp)
	if err != nil {
		return err
	}

	rj.mu.Lock()
	rj.view = view
	rj.lastRefresh = time.Now()
	rj.mu.Unlock()
	return nil
}

func decodeView(resp *http.Response) (map[string]any, error) {
	if resp.StatusCode >= 500 {
		return nil, joberrors.ErrInternal
	}
	if resp.StatusCode >= 400 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return nil, fmt.Errorf("%w: %s", joberrors.ErrInternal, payload.Error)
	}
	var view map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, fmt.Errorf("%w: %v", joberrors.ErrMalformedPayload, err)
	}
	return view, nil
}
