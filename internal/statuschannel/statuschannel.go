// Package statuschannel implements the per-job side channel a worker uses to
// publish progress back to the server's in-memory job record (spec §4.3).
// Two implementations satisfy the same Updater contract: NetworkUpdater,
// used by a spawned worker process talking back to its own daemon over
// HTTP, and LocalUpdater, used by callers that invoke a plugin body directly
// without going through the supervisor (tests, local development).
package statuschannel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/relaygo/hopper/internal/joberrors"
)

// Updater is the contract a job body uses to publish status updates.
type Updater interface {
	Update(fields map[string]any) error
}

// NetworkUpdater targets the daemon that owns the job, authenticating with
// the job's auth token. It is the worker's only legitimate path for
// publishing progress once spawned by the supervisor.
type NetworkUpdater struct {
	Client    *http.Client
	Address   string
	Port      int
	JobID     string
	AuthToken string
}

// NewNetworkUpdater builds an Updater pointed at the given daemon address
// and port, pre-configured with the job's id and auth token.
func NewNetworkUpdater(address string, port int, jobID, authToken string) *NetworkUpdater {
	return &NetworkUpdater{
		Client:    &http.Client{Timeout: 10 * time.Second},
		Address:   address,
		Port:      port,
		JobID:     jobID,
		AuthToken: authToken,
	}
}

// Update PUTs the fields to the owning daemon's /jobs/{id} endpoint,
// attaching the job's auth token as api_key. Fails with ErrNoSuchJob on 404
// and ErrNotAuthorized on 401.
func (u *NetworkUpdater) Update(fields map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"api_key": u.AuthToken,
		"status":  fields,
	})
	if err != nil {
		return fmt.Errorf("encode status update: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d/jobs/%s", u.Address, u.Port, u.JobID)
	ctx, cancel := context.WithTimeout(context.Background(), u.Client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build status update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", joberrors.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", joberrors.ErrNoSuchJob, u.JobID)
	case http.StatusUnauthorized:
		return joberrors.ErrNotAuthorized
	default:
		return fmt.Errorf("%w: unexpected status %d", joberrors.ErrInternal, resp.StatusCode)
	}
}

// LocalUpdater buffers updates in-process, for developers exercising a
// plugin body outside the daemon (tests, local development).
type LocalUpdater struct {
	Updates []map[string]any
}

// NewLocalUpdater returns a ready-to-use in-process updater.
func NewLocalUpdater() *LocalUpdater {
	return &LocalUpdater{}
}

// Update appends fields to the buffered update log and never fails.
func (u *LocalUpdater) Update(fields map[string]any) error {
	u.Updates = append(u.Updates, fields)
	return nil
}

// Merged folds all buffered updates into a single map, later keys
// overwriting earlier ones, matching the server-side merge semantics.
func (u *LocalUpdater) Merged() map[string]any {
	out := make(map[string]any)
	for _, update := range u.Updates {
		for k, v := range update {
			out[k] = v
		}
	}
	return out
}
