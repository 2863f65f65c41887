// Package remotify gives any Go function or bound method a pair of sibling
// callables, remote_<X> and remote_async_<X>, that run it on a remote
// hopper daemon instead of locally (spec §4.8). It replaces the source's
// pickle-based instance/exception transport with two small registries: a
// constructor-factory registry keyed by a type tag (for method receivers)
// and a free-function registry keyed by name (for module-level functions).
package remotify

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/relaygo/hopper/internal/joberrors"
)

// Registry holds every piece remotify needs to serialize a call across the
// wire and reconstruct it on the worker side: free functions by name,
// receiver constructors by type tag, and the idempotence marker that makes
// a second Attach of the same (type, method) or function a no-op.
type Registry struct {
	mu sync.RWMutex

	functions    map[string]reflect.Value  // function name -> func value
	constructors map[string]func() any     // type tag -> zero-value constructor
	errorTypes   map[string]func(msg string) error // leaf failure type -> error constructor

	attached map[string]bool // "func:name" or "method:tag.name" -> true
}

// NewRegistry builds an empty registry. A process normally has exactly one,
// shared by the HTTP-facing wrapper builders and the worker-side system
// plugins.
func NewRegistry() *Registry {
	r := &Registry{
		functions:    make(map[string]reflect.Value),
		constructors: make(map[string]func() any),
		errorTypes:   make(map[string]func(msg string) error),
		attached:     make(map[string]bool),
	}
	r.RegisterErrorType("TypeError", func(msg string) error {
		return &joberrors.TypedError{Type: "TypeError", Message: msg}
	})
	return r
}

// RegisterFunction makes fn callable by name from the worker side. fn must
// be a function value; anything else is rejected, mirroring the source's own
// assumption that only functions/methods are ever passed to remotify.
func (r *Registry) RegisterFunction(name string, fn any) error {
	if err := checkNameClash(name); err != nil {
		return err
	}
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("remotify: %q is not a function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := "func:" + name
	if r.attached[key] {
		return nil // idempotent: already remotified
	}
	r.functions[name] = v
	r.attached[key] = true
	return nil
}

// RegisterConstructor associates a type tag with a zero-value factory, used
// to rebuild a method receiver on the worker side from its serialized
// fields (spec §9's replacement for pickling the instance).
func (r *Registry) RegisterConstructor(typeTag string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[typeTag] = ctor
}

// RegisterErrorType associates a leaf failure's Type string with a
// constructor that rebuilds a local error value from its message, used by
// Join's exception-reconstruction step (spec §4.8).
func (r *Registry) RegisterErrorType(typeName string, ctor func(msg string) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorTypes[typeName] = ctor
}

// markMethodAttached records a (type tag, method name) pair as remotified,
// returning false if it already was (the no-op idempotence case).
func (r *Registry) markMethodAttached(typeTag, methodName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := "method:" + typeTag + "." + methodName
	if r.attached[key] {
		return false
	}
	r.attached[key] = true
	return true
}

func (r *Registry) resolveFunction(name string) (reflect.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.functions[name]
	return v, ok
}

func (r *Registry) resolveConstructor(typeTag string) (func() any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.constructors[typeTag]
	return ctor, ok
}

func (r *Registry) resolveErrorType(typeName string) (func(msg string) error, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.errorTypes[typeName]
	return ctor, ok
}

// reconstructError implements the source's raise_remote_exception contract
// (spec §4.8): if err is a *joberrors.RemoteFailure whose leaf type is
// registered locally, the locally reconstructed error is returned in its
// place. Any other error, including a RemoteFailure with an unregistered
// leaf type, is returned unchanged so the caller re-raises it as-is.
func (r *Registry) reconstructError(err error) error {
	rf, ok := err.(*joberrors.RemoteFailure)
	if !ok || rf.Chain == nil {
		return err
	}
	ctor, ok := r.resolveErrorType(rf.Chain.RootType())
	if !ok {
		return err
	}
	return ctor(rf.Chain.RootMessage())
}

// checkNameClash rejects names that collide with the remote_/async_ naming
// convention itself (spec §4.8 attachment rules).
func checkNameClash(name string) error {
	if strings.HasPrefix(name, "remote_") || strings.HasPrefix(name, "async_") {
		return fmt.Errorf("%w: %q", joberrors.ErrNameClash, name)
	}
	return nil
}
