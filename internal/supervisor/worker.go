package supervisor

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/relaygo/hopper/internal/job"
	"github.com/relaygo/hopper/internal/joberrors"
	"github.com/relaygo/hopper/internal/registry"
	"github.com/relaygo/hopper/internal/statuschannel"
)

// RunWorker is the entry point executed inside the re-exec'd child process
// (spec §4.4 steps 3-7). args is [pluginName, jobID, authToken, address,
// port], matching the argv layout Start builds. The one-shot failure pipe
// is fd 3, inherited via cmd.ExtraFiles[0].
//
// On normal return it does nothing further: the process simply exits 0. On
// a caught *joberrors.RemoteFailure it sends a new frame whose previous
// frame is the received chain, unchanged. On any other error it constructs
// a leaf failure from the error value. Either way, at most one envelope is
// written before exit.
func RunWorker(reg *registry.Registry, args []string) error {
	if len(args) != 5 {
		return fmt.Errorf("worker: expected 5 args, got %d", len(args))
	}
	pluginName, jobID, authToken, address, portStr := args[0], args[1], args[2], args[3], args[4]

	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return fmt.Errorf("worker: invalid port %q: %w", portStr, err)
	}

	body, err := reg.Resolve(pluginName)
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	updater := statuschannel.NewNetworkUpdater(address, port, jobID, authToken)

	bodyErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%v", r)
			}
		}()
		return body(nil, updater)
	}()

	if bodyErr == nil {
		return nil
	}

	pipe := os.NewFile(3, "failure-pipe")
	if pipe == nil {
		return fmt.Errorf("worker: failure pipe (fd 3) not available")
	}
	defer pipe.Close()

	env := buildEnvelope(bodyErr)
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("worker: encode failure envelope: %w", err)
	}
	data = append(data, '\n')
	if _, err := pipe.Write(data); err != nil {
		return fmt.Errorf("worker: write failure envelope: %w", err)
	}
	return nil
}

func buildEnvelope(err error) *failureEnvelope {
	if rf, ok := err.(*joberrors.RemoteFailure); ok {
		// A new frame for this job is sent with the received chain nested,
		// unchanged, under previous_json, so the parent's Status() can walk
		// the full provenance down to the original leaf (spec §4.4 step 5,
		// testable property 6). If the new frame would exceed the chain
		// depth limit, the received chain is sent without it. Chain is
		// always a *job.FailureRecord in this binary; fall back to
		// flattening only if some other implementation ever supplies a
		// different FailureChainRenderer.
		if fr, ok := rf.Chain.(*job.FailureRecord); ok {
			traceback := fmt.Sprintf("job failed: remote job %s on %s failed", rf.JobID, rf.Host)
			if wrapped, werr := job.WrapRemoteFailure(traceback, fr); werr == nil {
				return envelopeFromFailureRecord(wrapped)
			}
			return envelopeFromFailureRecord(fr)
		}
		return &failureEnvelope{Traceback: rf.Error()}
	}

	typ := "error"
	msg := err.Error()
	if te, ok := err.(*joberrors.TypedError); ok {
		typ = te.Type
		msg = te.Message
	}

	return &failureEnvelope{
		Traceback:   fmt.Sprintf("job failed: %s", err.Error()),
		LeafType:    typ,
		LeafMessage: msg,
	}
}

// envelopeFromFailureRecord converts a job.FailureRecord chain into its
// failureEnvelope wire form, pre-encoding each nested frame into
// PreviousJSON the way decodeEnvelope expects to unmarshal it.
func envelopeFromFailureRecord(fr *job.FailureRecord) *failureEnvelope {
	env := &failureEnvelope{Traceback: fr.Traceback}
	if fr.Leaf != nil {
		env.LeafType = fr.Leaf.Type
		env.LeafMessage = fr.Leaf.Message
		env.ExceptionObject = fr.Leaf.ExceptionObject
	}
	if fr.Previous != nil {
		if data, err := json.Marshal(envelopeFromFailureRecord(fr.Previous)); err == nil {
			env.PreviousJSON = data
		}
	}
	return env
}
