package job

import (
	"fmt"
	"strings"

	"github.com/relaygo/hopper/internal/joberrors"
)

// maxFailureChainDepth bounds FailureRecord construction against
// pathologically deep or cyclic chains (spec §9 design note).
const maxFailureChainDepth = 64

// FailureRecord is a recursive structure capturing a remote exception with
// its traceback, and (if this frame re-raised a failure bubbled up from a
// deeper remote call) the chain of causes beneath it.
type FailureRecord struct {
	Traceback string         `json:"traceback"`
	Previous  *FailureRecord `json:"previous_exception,omitempty"`
	Leaf      *LeafFailure   `json:"leaf,omitempty"`
}

// LeafFailure is the root cause at the bottom of a failure chain: a plain
// exception with no further remote provenance beneath it.
type LeafFailure struct {
	Type            string `json:"type"`
	Message         string `json:"message"`
	ExceptionObject []byte `json:"exception_object,omitempty"`
}

// NewLeafFailure constructs the bottom frame of a chain from a Go error.
func NewLeafFailure(traceback string, err error) *FailureRecord {
	typ := "error"
	msg := err.Error()
	if te, ok := err.(*joberrors.TypedError); ok {
		typ = te.Type
		msg = te.Message
	}
	return &FailureRecord{
		Traceback: traceback,
		Leaf: &LeafFailure{
			Type:    typ,
			Message: msg,
		},
	}
}

// WrapRemoteFailure builds a new frame whose Previous is the chain received
// from a deeper remote call, preserving full provenance unchanged (spec
// §4.4 step 5). Returns an error if appending would exceed
// maxFailureChainDepth.
func WrapRemoteFailure(traceback string, previous *FailureRecord) (*FailureRecord, error) {
	if depth(previous) >= maxFailureChainDepth {
		return nil, fmt.Errorf("%w: failure chain exceeds max depth %d", joberrors.ErrMalformedPayload, maxFailureChainDepth)
	}
	return &FailureRecord{Traceback: traceback, Previous: previous}, nil
}

func depth(f *FailureRecord) int {
	n := 0
	for f != nil {
		n++
		f = f.Previous
	}
	return n
}

// RootType walks the chain to the leaf and returns its type name, or "" if
// the chain has no leaf (unknown root cause).
func (f *FailureRecord) RootType() string {
	leaf := f.leaf()
	if leaf == nil {
		return ""
	}
	return leaf.Type
}

// RootMessage walks the chain to the leaf and returns its message.
func (f *FailureRecord) RootMessage() string {
	leaf := f.leaf()
	if leaf == nil {
		return ""
	}
	return leaf.Message
}

func (f *FailureRecord) leaf() *LeafFailure {
	cur := f
	for cur != nil {
		if cur.Leaf != nil {
			return cur.Leaf
		}
		cur = cur.Previous
	}
	return nil
}

// RenderChain prints the full failure chain: for each level, the traceback,
// followed by the root type/message (spec §7 RemoteFailure rendering).
func (f *FailureRecord) RenderChain() string {
	var b strings.Builder
	level := 0
	cur := f
	for cur != nil {
		fmt.Fprintf(&b, "  [frame %d] %s\n", level, cur.Traceback)
		if cur.Leaf != nil {
			fmt.Fprintf(&b, "  root cause: %s: %s\n", cur.Leaf.Type, cur.Leaf.Message)
		}
		cur = cur.Previous
		level++
	}
	return b.String()
}

// Depth returns the number of frames in the chain, for test assertions
// against property 6 (chains of k remote calls yield exactly k frames).
func (f *FailureRecord) Depth() int {
	return depth(f)
}
