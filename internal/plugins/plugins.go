// Package plugins holds the statically linked demonstration plugins: small,
// self-contained job bodies that exercise the full config/status/failure
// contract a dynamically loaded .so plugin would also have to satisfy. They
// are registered by cmd/hopperd alongside anything discovered from disk.
package plugins

import (
	"fmt"
	"time"

	"github.com/relaygo/hopper/internal/joberrors"
	"github.com/relaygo/hopper/internal/registry"
)

// Register adds every built-in demonstration plugin to reg.
func Register(reg *registry.Registry) {
	reg.RegisterStatic("mul", Mul)
	reg.RegisterStatic("sleep", Sleep)
	reg.RegisterStatic("raise_type", RaiseType)
}

// Mul multiplies config["a"] by config["b"] and publishes the product as
// status["result"]. It is the package's minimal happy-path scenario.
func Mul(config map[string]any, status registry.StatusPublisher) error {
	a, err := numberArg(config, "a")
	if err != nil {
		return err
	}
	b, err := numberArg(config, "b")
	if err != nil {
		return err
	}
	return status.Update(map[string]any{"result": a * b})
}

// Sleep blocks for config["seconds"] (default 1), publishing a "progress"
// update once before returning. Used to exercise Kill and Join-with-timeout
// against a job that is still running.
func Sleep(config map[string]any, status registry.StatusPublisher) error {
	seconds := 1.0
	if v, ok := config["seconds"]; ok {
		n, err := toFloat(v)
		if err != nil {
			return fmt.Errorf("%w: seconds: %v", joberrors.ErrMalformedPayload, err)
		}
		seconds = n
	}
	if err := status.Update(map[string]any{"progress": "started"}); err != nil {
		return err
	}
	time.Sleep(time.Duration(seconds * float64(time.Second)))
	return status.Update(map[string]any{"progress": "done"})
}

// RaiseType always fails with a TypedError, the package's minimal
// failure-path scenario: it gives internal/supervisor's failure envelope
// and internal/job's FailureRecord chain something concrete to carry.
func RaiseType(config map[string]any, status registry.StatusPublisher) error {
	return &joberrors.TypedError{Type: "TypeError", Message: "THE SKY IS FALLING!!"}
}

func numberArg(config map[string]any, key string) (float64, error) {
	v, ok := config[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", joberrors.ErrMalformedPayload, key)
	}
	return toFloat(v)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w: expected a number, got %T", joberrors.ErrMalformedPayload, v)
	}
}
