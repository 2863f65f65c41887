package remotify

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/relaygo/hopper/internal/httpapi"
	"github.com/relaygo/hopper/internal/job"
	"github.com/relaygo/hopper/internal/joberrors"
	"github.com/relaygo/hopper/internal/registry"
	"github.com/relaygo/hopper/internal/statuschannel"
)

type fakeHandle struct{ alive bool }

func (f *fakeHandle) Alive() bool { return f.alive }
func (f *fakeHandle) Kill() error { f.alive = false; return nil }

// inlineStarter runs a job body synchronously in a goroutine and reports
// status through a real NetworkUpdater against the test server, standing in
// for the supervisor's process-spawning Start without needing a child
// process.
type inlineStarter struct {
	mgr  *job.Manager
	host string
	port int
}

func (s *inlineStarter) Start(j *job.Job, body registry.Body) (job.WorkerHandle, error) {
	handle := &fakeHandle{alive: true}
	go func() {
		start := time.Now()
		updater := statuschannel.NewNetworkUpdater(s.host, s.port, j.ID, j.AuthToken)
		err := body(j.Config, updater)
		var failure *job.FailureRecord
		if err != nil {
			failure = job.NewLeafFailure("remotify system plugin failed", err)
		}
		s.mgr.Finish(j, time.Since(start).Milliseconds(), failure)
		handle.alive = false
	}()
	return handle, nil
}

func newTestServer(t *testing.T, reg *Registry) (*httptest.Server, *inlineStarter) {
	t.Helper()
	jobReg := registry.New(nil)
	for name, body := range reg.SystemPlugins() {
		jobReg.RegisterStatic(name, body)
	}

	starter := &inlineStarter{}
	mgr := job.NewManager(jobReg, starter)
	starter.mgr = mgr

	srv := httptest.NewServer(httpapi.NewMux(httpapi.ServerConfig{Manager: mgr, Registry: jobReg}))
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	starter.host = u.Hostname()
	starter.port = port
	return srv, starter
}

func add(a, b int) int { return a + b }

func TestBuildRemoteFuncRoundTrip(t *testing.T) {
	reg := NewRegistry()
	srv, starter := newTestServer(t, reg)
	defer srv.Close()

	wrapped, err := BuildRemoteFunc(reg, "add", add)
	if err != nil {
		t.Fatalf("BuildRemoteFunc: %v", err)
	}
	remoteAdd, ok := wrapped.(func(context.Context, string, int, int, int) (int, error))
	if !ok {
		t.Fatalf("unexpected wrapper type %T", wrapped)
	}

	sum, err := remoteAdd(context.Background(), starter.host, starter.port, 2, 3)
	if err != nil {
		t.Fatalf("remoteAdd: %v", err)
	}
	if sum != 5 {
		t.Fatalf("expected 5, got %d", sum)
	}
}

func failingDivide(a, b int) (int, error) {
	if b == 0 {
		return 0, &divideByZero{}
	}
	return a / b, nil
}

type divideByZero struct{}

func (divideByZero) Error() string { return "division by zero" }

func TestBuildRemoteFuncSurfacesError(t *testing.T) {
	reg := NewRegistry()
	srv, starter := newTestServer(t, reg)
	defer srv.Close()

	wrapped, err := BuildRemoteFunc(reg, "divide", failingDivide)
	if err != nil {
		t.Fatalf("BuildRemoteFunc: %v", err)
	}
	remoteDivide := wrapped.(func(context.Context, string, int, int, int) (int, error))

	_, err = remoteDivide(context.Background(), starter.host, starter.port, 1, 0)
	if err == nil {
		t.Fatalf("expected error for divide by zero")
	}
}

func raiseTyped(msg string) (int, error) {
	return 0, &joberrors.TypedError{Type: "TypeError", Message: msg}
}

func TestBuildRemoteFuncReconstructsRegisteredErrorType(t *testing.T) {
	reg := NewRegistry()
	srv, starter := newTestServer(t, reg)
	defer srv.Close()

	wrapped, err := BuildRemoteFunc(reg, "raise_typed", raiseTyped)
	if err != nil {
		t.Fatalf("BuildRemoteFunc: %v", err)
	}
	remoteRaise := wrapped.(func(context.Context, string, int, string) (int, error))

	_, err = remoteRaise(context.Background(), starter.host, starter.port, "THE SKY IS FALLING!!")
	var typed *joberrors.TypedError
	if !errors.As(err, &typed) {
		t.Fatalf("expected reconstructed *joberrors.TypedError, got %T: %v", err, err)
	}
	if typed.Type != "TypeError" || typed.Message != "THE SKY IS FALLING!!" {
		t.Fatalf("unexpected reconstructed error: %+v", typed)
	}
	var rf *joberrors.RemoteFailure
	if errors.As(err, &rf) {
		t.Fatalf("expected the raw RemoteFailure to be replaced by the reconstructed error")
	}
}

func TestRegisterFunctionRejectsReservedPrefix(t *testing.T) {
	reg := NewRegistry()
	if err := reg.RegisterFunction("remote_add", add); err == nil {
		t.Fatalf("expected name clash error")
	}
}

func TestRegisterFunctionIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	if err := reg.RegisterFunction("add", add); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.RegisterFunction("add", add); err != nil {
		t.Fatalf("second register should be a no-op, got: %v", err)
	}
}

type counter struct {
	N int
}

func (c *counter) Increment(by int) int {
	c.N += by
	return c.N
}

func TestBuildRemoteMethodRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterConstructor("counter", func() any { return &counter{} })
	srv, starter := newTestServer(t, reg)
	defer srv.Close()

	wrapped, err := reg.BuildRemoteMethod("counter", "Increment", (*counter).Increment, map[string]any{"N": 10})
	if err != nil {
		t.Fatalf("BuildRemoteMethod: %v", err)
	}
	remoteIncrement, ok := wrapped.(func(context.Context, string, int, *counter, int) (int, error))
	if !ok {
		t.Fatalf("unexpected wrapper type %T", wrapped)
	}

	result, err := remoteIncrement(context.Background(), starter.host, starter.port, &counter{}, 5)
	if err != nil {
		t.Fatalf("remoteIncrement: %v", err)
	}
	if result != 15 {
		t.Fatalf("expected 15 (10 from instance_fields + 5), got %d", result)
	}
}

func TestBuildRemoteAsyncFuncRoundTrip(t *testing.T) {
	reg := NewRegistry()
	srv, starter := newTestServer(t, reg)
	defer srv.Close()

	wrapped, err := BuildRemoteAsyncFunc(reg, "add-async", add)
	if err != nil {
		t.Fatalf("BuildRemoteAsyncFunc: %v", err)
	}
	remoteAddAsync, ok := wrapped.(func(context.Context, string, int, int, int) (*AsyncHandle, error))
	if !ok {
		t.Fatalf("unexpected wrapper type %T", wrapped)
	}

	ctx := context.Background()
	handle, err := remoteAddAsync(ctx, starter.host, starter.port, 4, 6)
	if err != nil {
		t.Fatalf("remoteAddAsync: %v", err)
	}

	results, err := handle.Join(ctx, time.Second)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(results) != 1 || results[0] != 10 {
		t.Fatalf("expected [10], got %v", results)
	}
}
