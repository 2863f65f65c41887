package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

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

func newTestHandler() *Handler {
	reg := registry.New(nil)
	reg.RegisterStatic("mul", func(map[string]any, registry.StatusPublisher) error { return nil })
	mgr := job.NewManager(reg, fakeStarter{})
	return &Handler{manager: mgr, registry: reg}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v, body=%s", err, rec.Body.String())
	}
	return out
}

func TestCreateJobThenGet(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	reqBody, _ := json.Marshal(map[string]any{"name": "mul", "config": map[string]any{"a": 2, "b": 3}})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	view := decodeBody(t, rec)
	id, ok := view["id"].(string)
	if !ok || id == "" {
		t.Fatalf("expected id in view, got %v", view)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil)
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", getRec.Code)
	}
}

func TestCreateUnknownPluginReturns400(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	reqBody, _ := json.Marshal(map[string]any{"name": "does-not-exist"})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetMissingJobReturns404(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStartThenDoubleStartReturns403(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	reqBody, _ := json.Marshal(map[string]any{"name": "mul"})
	createRec := httptest.NewRecorder()
	mux.ServeHTTP(createRec, httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(reqBody)))
	view := decodeBody(t, createRec)
	id := view["id"].(string)

	rec1 := httptest.NewRecorder()
	mux.ServeHTTP(rec1, httptest.NewRequest(http.MethodPut, "/jobs/"+id+"/start", nil))
	if rec1.Code != http.StatusOK {
		t.Fatalf("first start: expected 200, got %d", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, httptest.NewRequest(http.MethodPut, "/jobs/"+id+"/start", nil))
	if rec2.Code != http.StatusForbidden {
		t.Fatalf("second start: expected 403, got %d", rec2.Code)
	}
}

func TestUpdateStatusWrongTokenReturns401(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	reqBody, _ := json.Marshal(map[string]any{"name": "mul"})
	createRec := httptest.NewRecorder()
	mux.ServeHTTP(createRec, httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(reqBody)))
	view := decodeBody(t, createRec)
	id := view["id"].(string)

	body, _ := json.Marshal(map[string]any{"api_key": "wrong", "status": map[string]any{"progress": 1}})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/jobs/"+id, bytes.NewReader(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReloadSucceedsWithNoDirs(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/reload", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestListPlugins(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/job_plugins", nil))
	view := decodeBody(t, rec)
	plugins, ok := view["job_plugins"].([]any)
	if !ok || len(plugins) != 1 || plugins[0] != "mul" {
		t.Fatalf("expected [mul], got %v", view)
	}
}
