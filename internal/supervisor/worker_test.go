package supervisor

import (
	"encoding/json"
	"testing"

	"github.com/relaygo/hopper/internal/job"
	"github.com/relaygo/hopper/internal/joberrors"
)

func TestBuildEnvelopePreservesNestedRemoteFailureChain(t *testing.T) {
	leaf := &job.FailureRecord{
		Traceback: "job C failed",
		Leaf:      &job.LeafFailure{Type: "TypeError", Message: "THE SKY IS FALLING!!"},
	}
	middle, err := job.WrapRemoteFailure("job B called job C", leaf)
	if err != nil {
		t.Fatalf("WrapRemoteFailure: %v", err)
	}

	bodyErr := &joberrors.RemoteFailure{JobID: "B", Host: "localhost", Chain: middle}
	env := buildEnvelope(bodyErr)

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	var roundTripped failureEnvelope
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	decoded := decodeEnvelope(&roundTripped)
	if decoded.Depth() != 3 {
		t.Fatalf("expected 3 frames, got %d", decoded.Depth())
	}
	if decoded.Previous == nil || decoded.Previous.Traceback != "job B called job C" {
		t.Fatalf("unexpected forwarded chain: %+v", decoded.Previous)
	}
	if decoded.RootType() != "TypeError" || decoded.RootMessage() != "THE SKY IS FALLING!!" {
		t.Fatalf("unexpected root cause: type=%q message=%q", decoded.RootType(), decoded.RootMessage())
	}
}

func TestBuildEnvelopeFlattensTypedError(t *testing.T) {
	env := buildEnvelope(&joberrors.TypedError{Type: "TypeError", Message: "THE SKY IS FALLING!!"})
	if env.LeafType != "TypeError" || env.LeafMessage != "THE SKY IS FALLING!!" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.PreviousJSON != nil {
		t.Fatalf("expected no previous_json for a leaf failure")
	}
}
