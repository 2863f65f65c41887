package remotify

import (
	"fmt"
	"reflect"

	"github.com/relaygo/hopper/internal/registry"
)

// SystemPlugins returns the two job bodies a daemon registers under the
// fixed names "remote_enabler_function" and "remote_enabler_method" so that
// a job created against either name invokes a previously-registered Go
// function or method instead of running a plugin body directly. Grounded on
// the source's builtin_plugins/remote_enabler_job.py and
// remote_enabler_module_job.py, which play the same role for pickled
// instances and module functions respectively.
func (r *Registry) SystemPlugins() map[string]registry.Body {
	return map[string]registry.Body{
		"remote_enabler_function": r.runFunctionJob,
		"remote_enabler_method":   r.runMethodJob,
	}
}

func (r *Registry) runFunctionJob(config map[string]any, status registry.StatusPublisher) error {
	name, _ := config["function_name"].(string)
	if name == "" {
		return fmt.Errorf("remote_enabler_function: missing function_name")
	}
	fnVal, ok := r.resolveFunction(name)
	if !ok {
		return fmt.Errorf("remote_enabler_function: unknown function %q", name)
	}
	rawArgs, _ := config["args"].([]any)

	results, err := callReflect(fnVal, rawArgs)
	if err != nil {
		return err
	}
	return status.Update(map[string]any{"return_values": results})
}

func (r *Registry) runMethodJob(config map[string]any, status registry.StatusPublisher) error {
	typeTag, _ := config["type_tag"].(string)
	methodName, _ := config["method_name"].(string)
	if typeTag == "" || methodName == "" {
		return fmt.Errorf("remote_enabler_method: missing type_tag or method_name")
	}
	ctor, ok := r.resolveConstructor(typeTag)
	if !ok {
		return fmt.Errorf("remote_enabler_method: unknown type tag %q", typeTag)
	}
	instance := ctor()
	if fields, ok := config["instance_fields"].(map[string]any); ok {
		if err := applyFields(instance, fields); err != nil {
			return fmt.Errorf("remote_enabler_method: %w", err)
		}
	}

	method := reflect.ValueOf(instance).MethodByName(methodName)
	if !method.IsValid() {
		return fmt.Errorf("remote_enabler_method: %s has no method %q", typeTag, methodName)
	}
	rawArgs, _ := config["args"].([]any)

	results, err := callReflect(method, rawArgs)
	if err != nil {
		return err
	}
	return status.Update(map[string]any{"return_values": results})
}

// applyFields sets exported fields on a pointer-to-struct instance from a
// generically decoded JSON object — the Go replacement for pickling an
// instance's state across the wire.
func applyFields(instance any, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	v := reflect.ValueOf(instance)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("instance is not a settable struct pointer")
	}
	elem := v.Elem()
	for name, raw := range fields {
		f := elem.FieldByName(name)
		if !f.IsValid() || !f.CanSet() {
			continue
		}
		val, err := convertJSONValue(raw, f.Type())
		if err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		f.Set(val)
	}
	return nil
}

// callReflect invokes fn, a function or bound-method reflect.Value, with
// rawArgs converted to its declared parameter types. A final error result
// aborts the call; any other results are returned as a generic slice ready
// for JSON transport back to the caller.
func callReflect(fn reflect.Value, rawArgs []any) ([]any, error) {
	fnType := fn.Type()
	numIn := fnType.NumIn()
	if !fnType.IsVariadic() && len(rawArgs) != numIn {
		return nil, fmt.Errorf("expected %d arguments, got %d", numIn, len(rawArgs))
	}

	in := make([]reflect.Value, len(rawArgs))
	for i, raw := range rawArgs {
		paramType := fnType.In(i)
		if fnType.IsVariadic() && i >= numIn-1 {
			paramType = fnType.In(numIn - 1).Elem()
		}
		v, err := convertJSONValue(raw, paramType)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in[i] = v
	}

	out, callErr := safeCall(fn, in)
	if callErr != nil {
		return nil, callErr
	}

	results := make([]any, 0, len(out))
	for _, v := range out {
		if err, ok := v.Interface().(error); ok {
			if err != nil {
				return nil, err
			}
			continue
		}
		results = append(results, v.Interface())
	}
	return results, nil
}

func safeCall(fn reflect.Value, in []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	out = fn.Call(in)
	return out, nil
}
