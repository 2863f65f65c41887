package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/relaygo/hopper/internal/codec"
	"github.com/relaygo/hopper/internal/job"
	"github.com/relaygo/hopper/internal/joberrors"
	"github.com/relaygo/hopper/internal/logging"
	"github.com/relaygo/hopper/internal/registry"
)

// Handler groups the job-domain HTTP endpoints (spec §6).
type Handler struct {
	manager  *job.Manager
	registry *registry.Registry
}

// RegisterRoutes registers every job endpoint on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /jobs", h.listJobs)
	mux.HandleFunc("POST /jobs", h.createJob)
	mux.HandleFunc("GET /jobs/running", h.listRunning)
	mux.HandleFunc("GET /jobs/{id}", h.getJob)
	mux.HandleFunc("PUT /jobs/{id}", h.updateStatus)
	mux.HandleFunc("PUT /jobs/{id}/start", h.startJob)
	mux.HandleFunc("PUT /jobs/{id}/kill", h.killJob)
	mux.HandleFunc("GET /job_plugins", h.listPlugins)
	mux.HandleFunc("PUT /reload", h.reload)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": viewsOf(h.manager.List())})
}

func (h *Handler) listRunning(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": viewsOf(h.manager.ListRunning())})
}

type createJobRequest struct {
	Name    string         `json:"name"`
	Config  map[string]any `json:"config"`
	Running bool           `json:"running"`
	Port    int            `json:"port"`
}

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", joberrors.ErrMalformedPayload, err))
		return
	}
	var req createJobRequest
	if err := codec.DecodeInto(body, &req); err != nil {
		writeError(w, err)
		return
	}

	port := req.Port
	if port == 0 {
		// No port given: the worker dials back to the port this request
		// arrived on, i.e. the daemon's own.
		if addr, ok := r.Context().Value(http.LocalAddrContextKey).(*net.TCPAddr); ok {
			port = addr.Port
		}
	}

	j, err := h.manager.Create(req.Name, req.Config, port, req.Running)
	if err != nil && !errors.Is(err, joberrors.ErrAlreadyStarted) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j.ToView())
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j.ToView())
}

type updateStatusRequest struct {
	APIKey string         `json:"api_key"`
	Status map[string]any `json:"status"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	j, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", joberrors.ErrMalformedPayload, err))
		return
	}
	var req updateStatusRequest
	if err := codec.DecodeInto(body, &req); err != nil {
		writeError(w, err)
		return
	}

	if req.Status != nil {
		if err := h.manager.UpdateStatus(j, req.APIKey, req.Status); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, j.ToView())
}

func (h *Handler) startJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.manager.Start(j); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uuid": j.ID, "started": true})
}

func (h *Handler) killJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.manager.Kill(j); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uuid": j.ID, "killed": true})
}

func (h *Handler) listPlugins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"job_plugins": h.registry.List()})
}

func (h *Handler) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Refresh(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func viewsOf(jobs []*job.Job) []map[string]any {
	out := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ToView())
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	if status >= 500 {
		logging.Op().Error("http handler error", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a sentinel to its HTTP status and the human-readable
// message sent verbatim as the body's "error" field (spec §6/§7; scenario B
// requires the exact string "Job plugin '<name>' does not exist").
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, joberrors.ErrNoSuchPlugin):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, joberrors.ErrNoSuchJob):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, joberrors.ErrAlreadyStarted):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, joberrors.ErrNotStarted):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, joberrors.ErrNotAuthorized):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, joberrors.ErrMalformedPayload):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
