package remotify

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/relaygo/hopper/internal/remotejob"
)

// AsyncHandle is the Go counterpart of the source's RemoteAsyncJobWrapper:
// it exposes the same Start/Join/Kill/Running/Finished/Status surface as a
// plain remotejob.RemoteJob, but Join additionally unwraps return_values
// into the original function's result types.
type AsyncHandle struct {
	job     *remotejob.RemoteJob
	outType reflect.Type // the single fnType this handle was built for
	reg     *Registry    // for reconstructing a registered leaf type on Join
}

// Start begins execution of the job this handle was created for.
func (h *AsyncHandle) Start(ctx context.Context) (bool, error) { return h.job.Start(ctx) }

// Kill requests termination of the underlying job.
func (h *AsyncHandle) Kill(ctx context.Context) (bool, error) { return h.job.Kill(ctx) }

// Running reports whether the job is currently running.
func (h *AsyncHandle) Running(ctx context.Context, force bool) (bool, error) {
	return h.job.Running(ctx, force)
}

// Finished reports whether the job has finished.
func (h *AsyncHandle) Finished(ctx context.Context, force bool) (bool, error) {
	return h.job.Finished(ctx, force)
}

// Status returns the job's raw status map, surfacing a *joberrors.RemoteFailure
// if the remote call raised.
func (h *AsyncHandle) Status(ctx context.Context, force bool) (map[string]any, error) {
	return h.job.Status(ctx, force)
}

// Join waits for completion and returns the decoded results, typed and
// ordered according to the function/method this handle was built for.
func (h *AsyncHandle) Join(ctx context.Context, timeout time.Duration) ([]any, error) {
	if _, err := h.job.Join(ctx, timeout); err != nil {
		return nil, h.reg.reconstructError(err)
	}
	status, err := h.job.Status(ctx, false)
	if err != nil {
		return nil, h.reg.reconstructError(err)
	}
	raw, _ := status["return_values"].([]any)

	results := make([]any, h.outType.NumOut())
	for i := range results {
		v, err := convertJSONValue(valueAt(raw, i), h.outType.Out(i))
		if err != nil {
			return nil, fmt.Errorf("remotify: decode async result %d: %w", i, err)
		}
		results[i] = v.Interface()
	}
	return results, nil
}

func valueAt(raw []any, i int) any {
	if i < 0 || i >= len(raw) {
		return nil
	}
	return raw[i]
}

// BuildRemoteAsyncFunc is BuildRemoteFunc's deferred counterpart: the
// returned wrapper creates and starts the job but does not join it,
// returning an *AsyncHandle instead of the unwrapped results (source:
// remote_async_func_builder / RemoteAsyncJobWrapper).
func BuildRemoteAsyncFunc(reg *Registry, name string, fn any) (any, error) {
	fnType, err := registerAndType(reg, name, fn)
	if err != nil {
		return nil, err
	}

	asyncOut := []reflect.Type{reflect.TypeOf((*AsyncHandle)(nil)), errType}
	wrapperType := reflect.FuncOf(leadingIn(fnType), asyncOut, fnType.IsVariadic())
	wrapperVal := reflect.MakeFunc(wrapperType, func(in []reflect.Value) []reflect.Value {
		ctx := in[0].Interface().(context.Context)
		address := in[1].Interface().(string)
		port := in[2].Interface().(int)
		args := argsOf(in[3:])

		handle, callErr := startRemoteAsync(ctx, reg, address, port, "remote_enabler_function", map[string]any{
			"function_name": name,
			"args":          args,
		}, fnType)
		return packAsyncResult(handle, callErr)
	})
	return wrapperVal.Interface(), nil
}

// BuildRemoteAsyncMethod is BuildRemoteMethod's deferred counterpart.
func (r *Registry) BuildRemoteAsyncMethod(typeTag, methodName string, sampleMethod any, fields map[string]any) (any, error) {
	if _, ok := r.resolveConstructor(typeTag); !ok {
		return nil, fmt.Errorf("remotify: no constructor registered for type tag %q", typeTag)
	}
	fnType := reflect.TypeOf(sampleMethod)
	if fnType == nil || fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("remotify: sample method for %q is not a function", methodName)
	}

	asyncOut := []reflect.Type{reflect.TypeOf((*AsyncHandle)(nil)), errType}
	wrapperType := reflect.FuncOf(leadingIn(fnType), asyncOut, fnType.IsVariadic())
	wrapperVal := reflect.MakeFunc(wrapperType, func(in []reflect.Value) []reflect.Value {
		ctx := in[0].Interface().(context.Context)
		address := in[1].Interface().(string)
		port := in[2].Interface().(int)
		// in[3] is the receiver; see BuildRemoteMethod for why it's dropped
		// before building the wire args.
		args := argsOf(in[4:])

		handle, callErr := startRemoteAsync(ctx, r, address, port, "remote_enabler_method", map[string]any{
			"type_tag":        typeTag,
			"method_name":     methodName,
			"instance_fields": fields,
			"args":            args,
		}, fnType)
		return packAsyncResult(handle, callErr)
	})
	return wrapperVal.Interface(), nil
}

func startRemoteAsync(ctx context.Context, reg *Registry, address string, port int, pluginName string, config map[string]any, fnType reflect.Type) (*AsyncHandle, error) {
	rj, err := remotejob.Create(ctx, address, port, pluginName, config, false, 0, remotejob.Options{})
	if err != nil {
		return nil, err
	}
	if _, err := rj.Start(ctx); err != nil {
		return nil, err
	}
	return &AsyncHandle{job: rj, outType: fnType, reg: reg}, nil
}

func packAsyncResult(handle *AsyncHandle, callErr error) []reflect.Value {
	out := make([]reflect.Value, 2)
	if handle == nil {
		out[0] = reflect.Zero(reflect.TypeOf((*AsyncHandle)(nil)))
	} else {
		out[0] = reflect.ValueOf(handle)
	}
	errVal := reflect.New(errType).Elem()
	if callErr != nil {
		errVal.Set(reflect.ValueOf(callErr))
	}
	out[1] = errVal
	return out
}
