// Package joberrors defines the sentinel error taxonomy shared by the
// manager, the HTTP surface, and the RemoteJob client. Every handler maps
// these through errors.Is rather than matching on string content.
package joberrors

import "errors"

var (
	// ErrNoSuchPlugin is returned when a job names a plugin the registry
	// does not know about.
	ErrNoSuchPlugin = errors.New("job plugin does not exist")

	// ErrNoSuchJob is returned when a job id is not present in the manager.
	ErrNoSuchJob = errors.New("no such job")

	// ErrAlreadyStarted is returned by Start on a job that has ever been
	// started before.
	ErrAlreadyStarted = errors.New("you cannot start a job more than once")

	// ErrNotStarted is returned by Kill/Finished on a job whose worker was
	// never spawned.
	ErrNotStarted = errors.New("job has not been started")

	// ErrNotAuthorized is returned when a status update carries the wrong
	// auth token.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrMalformedPayload is returned by the codec on invalid wire input.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrInternal stands in for any unmapped internal failure surfaced to
	// HTTP clients as 500.
	ErrInternal = errors.New("internal server error")

	// ErrUnreachable is a client-only error for transport failures reaching
	// the daemon.
	ErrUnreachable = errors.New("daemon unreachable")

	// ErrTimeout is a client-only error raised when Join's deadline elapses.
	ErrTimeout = errors.New("join timed out")

	// ErrNameClash is returned by the remotify layer when a callable name
	// collides with the remote_/async_ naming convention.
	ErrNameClash = errors.New("name clash with remote naming convention")
)

// RemoteFailure wraps a FailureChain delivered from the server, carrying the
// full provenance chain of a remote exception. See internal/job.FailureRecord.
type RemoteFailure struct {
	JobID string
	Host  string
	Chain FailureChainRenderer
}

// FailureChainRenderer is satisfied by internal/job.FailureRecord; kept as a
// narrow interface here so joberrors has no import-cycle dependency on job.
type FailureChainRenderer interface {
	RenderChain() string
	RootType() string
	RootMessage() string
}

func (e *RemoteFailure) Error() string {
	if e.Chain == nil {
		return "remote failure in job " + e.JobID + " on " + e.Host
	}
	return "remote failure in job " + e.JobID + " on " + e.Host + ":\n" + e.Chain.RenderChain()
}

// Unwrap lets callers match on the sentinel.
func (e *RemoteFailure) Unwrap() error { return errRemoteFailureSentinel }

var errRemoteFailureSentinel = errors.New("remote failure")

// ErrRemoteFailure is the sentinel matched by errors.Is(err, ErrRemoteFailure)
// for any *RemoteFailure.
var ErrRemoteFailure = errRemoteFailureSentinel

// TypedError reconstructs a leaf failure's type/message pair when the type
// is not registered locally as a Go error type. It satisfies the error
// interface so callers that only care about type/message can still treat it
// uniformly.
type TypedError struct {
	Type    string
	Message string
}

func (e *TypedError) Error() string {
	return e.Type + ": " + e.Message
}
