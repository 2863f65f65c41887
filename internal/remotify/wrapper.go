package remotify

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/relaygo/hopper/internal/remotejob"
)

// ctxType/errType are looked up once; reflect.FuncOf needs concrete
// reflect.Type values for the parameters every generated wrapper shares.
var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// BuildRemoteFunc registers fn under name and returns remote_<name>: a
// function value with fn's exact parameter and result types, but with a
// leading (ctx, address string, port int) and a trailing error added (when
// fn's last result is already an error, that one slot is kept and carries
// either fn's error or a transport failure). This
// is the Go analogue of the source's remote_func_builder, which wraps the
// original call signature with a leading remote_machine_address parameter;
// reflect.MakeFunc stands in for the pickling the source used to ship the
// call across the wire.
//
// The returned value must be type-asserted by the caller to the expected
// concrete function type, e.g.:
//
//	wrapped, err := remotify.BuildRemoteFunc(reg, "mul", Mul)
//	remoteMul := wrapped.(func(context.Context, string, int, int, int) (int, error))
func BuildRemoteFunc(reg *Registry, name string, fn any) (any, error) {
	fnType, err := registerAndType(reg, name, fn)
	if err != nil {
		return nil, err
	}

	wrapperType := reflect.FuncOf(leadingIn(fnType), appendError(fnType), fnType.IsVariadic())
	wrapperVal := reflect.MakeFunc(wrapperType, func(in []reflect.Value) []reflect.Value {
		ctx := in[0].Interface().(context.Context)
		address := in[1].Interface().(string)
		port := in[2].Interface().(int)
		args := argsOf(in[3:])

		results, callErr := invokeRemote(ctx, reg, address, port, "remote_enabler_function", map[string]any{
			"function_name": name,
			"args":          args,
		}, nil)
		return packResults(fnType, results, callErr)
	})
	return wrapperVal.Interface(), nil
}

// BuildRemoteMethod is BuildRemoteFunc's method counterpart. typeTag
// identifies a receiver previously registered with RegisterConstructor;
// fields carries the receiver's exported field values to rebuild it on the
// worker (the Go replacement for pickling `self`). methodName must name an
// exported method on the constructed receiver with the given signature.
func (r *Registry) BuildRemoteMethod(typeTag, methodName string, sampleMethod any, fields map[string]any) (any, error) {
	if _, ok := r.resolveConstructor(typeTag); !ok {
		return nil, fmt.Errorf("remotify: no constructor registered for type tag %q", typeTag)
	}
	if !r.markMethodAttached(typeTag, methodName) {
		return BuildRemoteMethodSkipRegistration(sampleMethod)
	}
	if err := checkNameClash(methodName); err != nil {
		return nil, err
	}

	fnType := reflect.TypeOf(sampleMethod)
	if fnType == nil || fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("remotify: sample method for %q is not a function", methodName)
	}

	wrapperType := reflect.FuncOf(leadingIn(fnType), appendError(fnType), fnType.IsVariadic())
	wrapperVal := reflect.MakeFunc(wrapperType, func(in []reflect.Value) []reflect.Value {
		ctx := in[0].Interface().(context.Context)
		address := in[1].Interface().(string)
		port := in[2].Interface().(int)
		// in[3] is the receiver, included in the wrapper's signature for
		// local type-safety but never sent: the worker reconstructs the
		// receiver from type_tag + instance_fields instead.
		args := argsOf(in[4:])

		results, callErr := invokeRemote(ctx, r, address, port, "remote_enabler_method", map[string]any{
			"type_tag":        typeTag,
			"method_name":     methodName,
			"instance_fields": fields,
			"args":            args,
		}, nil)
		return packResults(fnType, results, callErr)
	})
	return wrapperVal.Interface(), nil
}

// BuildRemoteMethodSkipRegistration builds a wrapper of the same type
// without re-checking idempotence, used when a method has already been
// attached through another instance of the same type tag (spec §4.8's
// "attaching twice is a no-op" rule, applied per type rather than per
// instance since Go has no runtime class object to tag). The returned
// wrapper never contacts a daemon: every call returns zero values and an
// error saying the method is already attached.
func BuildRemoteMethodSkipRegistration(sampleMethod any) (any, error) {
	fnType := reflect.TypeOf(sampleMethod)
	if fnType == nil || fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("remotify: sample method is not a function")
	}
	wrapperType := reflect.FuncOf(leadingIn(fnType), appendError(fnType), fnType.IsVariadic())
	wrapperVal := reflect.MakeFunc(wrapperType, func(in []reflect.Value) []reflect.Value {
		out := make([]reflect.Value, wrapperType.NumOut())
		for i := range out {
			out[i] = reflect.Zero(wrapperType.Out(i))
		}
		out[len(out)-1] = reflect.ValueOf(fmt.Errorf("remotify: method already attached under a different handle")).Convert(errType)
		return out
	})
	return wrapperVal.Interface(), nil
}

func registerAndType(reg *Registry, name string, fn any) (reflect.Type, error) {
	if err := reg.RegisterFunction(name, fn); err != nil {
		return nil, err
	}
	return reflect.TypeOf(fn), nil
}

func leadingIn(fnType reflect.Type) []reflect.Type {
	in := []reflect.Type{ctxType, reflect.TypeOf(""), reflect.TypeOf(0)}
	for i := 0; i < fnType.NumIn(); i++ {
		in = append(in, fnType.In(i))
	}
	return in
}

func appendError(fnType reflect.Type) []reflect.Type {
	out := make([]reflect.Type, 0, fnType.NumOut()+1)
	for i := 0; i < fnType.NumOut(); i++ {
		out = append(out, fnType.Out(i))
	}
	if n := fnType.NumOut(); n > 0 && fnType.Out(n-1) == errType {
		return out
	}
	return append(out, errType)
}

func argsOf(in []reflect.Value) []any {
	args := make([]any, len(in))
	for i, v := range in {
		args[i] = v.Interface()
	}
	return args
}

// packResults converts the worker's generic return_values back into
// fnType's declared result types and appends the call error in the last
// slot, matching the reflect.Type the wrapper was built with. A trailing
// error result of fnType is that same slot.
func packResults(fnType reflect.Type, results []any, callErr error) []reflect.Value {
	n := fnType.NumOut()
	if n > 0 && fnType.Out(n-1) == errType {
		n--
	}
	out := make([]reflect.Value, n+1)
	for i := 0; i < n; i++ {
		t := fnType.Out(i)
		if callErr != nil || i >= len(results) {
			out[i] = reflect.Zero(t)
			continue
		}
		v, err := convertJSONValue(results[i], t)
		if err != nil {
			out[i] = reflect.Zero(t)
			if callErr == nil {
				callErr = fmt.Errorf("remotify: decode result %d: %w", i, err)
			}
			continue
		}
		out[i] = v
	}
	errVal := reflect.New(errType).Elem()
	if callErr != nil {
		errVal.Set(reflect.ValueOf(callErr))
	}
	out[n] = errVal
	return out
}

// convertJSONValue round-trips v through JSON into a freshly allocated t,
// the same re-marshal trick internal/remotejob uses to reconstruct a typed
// struct from a map[string]any. It tolerates the precision and shape drift
// JSON decoding introduces (float64 for all numbers, etc.).
func convertJSONValue(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}

// invokeRemote is the shared create-then-join-then-unwrap sequence both
// BuildRemoteFunc and BuildRemoteMethod's synchronous path use. Any
// *joberrors.RemoteFailure surfaced by Join or Status is passed through
// reg.reconstructError before being returned, so a registered leaf type is
// raised locally instead of the raw RemoteFailure (spec §4.8).
func invokeRemote(ctx context.Context, reg *Registry, address string, port int, pluginName string, config map[string]any, opts *Options) ([]any, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	rj, err := remotejob.Create(ctx, address, port, pluginName, config, true, 0, remotejob.Options{})
	if err != nil {
		return nil, err
	}
	if _, err := rj.Join(ctx, o.Timeout); err != nil {
		return nil, reg.reconstructError(err)
	}
	status, err := rj.Status(ctx, true)
	if err != nil {
		return nil, reg.reconstructError(err)
	}
	raw, _ := status["return_values"].([]any)
	return raw, nil
}

// Options configures a single remote_<X>/remote_async_<X> call. The zero
// value disables the join deadline, matching the source's remote_timeout=-1
// default ("wait forever").
type Options struct {
	Timeout time.Duration
}
