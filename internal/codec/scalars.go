package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// DateValue is a timestamp expressed as milliseconds since the Unix epoch,
// wire-encoded as {"$date": <number>}. It is decoded naive: no timezone is
// attached.
type DateValue struct {
	EpochMillis int64
}

func (d DateValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date int64 `json:"$date"`
	}{Date: d.EpochMillis})
}

// BinaryValue is an opaque byte blob, wire-encoded as
// {"$binary": <base64>, "$type": <hex byte>}.
type BinaryValue struct {
	Data    []byte
	Subtype string // hex byte, e.g. "00"; empty means unspecified
}

func (b BinaryValue) MarshalJSON() ([]byte, error) {
	out := map[string]string{"$binary": base64.StdEncoding.EncodeToString(b.Data)}
	if b.Subtype != "" {
		out["$type"] = b.Subtype
	}
	return json.Marshal(out)
}

// ObjectID is an opaque hex-encoded identifier, wire-encoded as
// {"$oid": <hex>}.
type ObjectID struct {
	Hex string
}

func (o ObjectID) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OID string `json:"$oid"`
	}{OID: o.Hex})
}

// NumberLong carries an integer too large to round-trip safely through a
// JSON number, wire-encoded as {"$numberLong": <string>}.
type NumberLong struct {
	Value string
}

func (n NumberLong) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		NumberLong string `json:"$numberLong"`
	}{NumberLong: n.Value})
}

// Regex is a regular expression literal, wire-encoded as
// {"$regex": <pattern>, "$options": <flags>}. Options is a subset of
// "ilmsux".
type Regex struct {
	Pattern string
	Options string
}

func (r Regex) MarshalJSON() ([]byte, error) {
	out := map[string]string{"$regex": r.Pattern}
	if r.Options != "" {
		out["$options"] = r.Options
	}
	return json.Marshal(out)
}

// MinKey is the wire sentinel {"$minKey": 1}, used as a sort/range bound
// below every other value.
type MinKey struct{}

func (MinKey) MarshalJSON() ([]byte, error) {
	return []byte(`{"$minKey":1}`), nil
}

// MaxKey is the wire sentinel {"$maxKey": 1}, used as a sort/range bound
// above every other value.
type MaxKey struct{}

func (MaxKey) MarshalJSON() ([]byte, error) {
	return []byte(`{"$maxKey":1}`), nil
}

// Timestamp is a (seconds, counter) pair, wire-encoded as
// {"$timestamp": {"t": <sec>, "i": <counter>}}.
type Timestamp struct {
	Seconds int64
	Counter int64
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Timestamp struct {
			T int64 `json:"t"`
			I int64 `json:"i"`
		} `json:"$timestamp"`
	}{Timestamp: struct {
		T int64 `json:"t"`
		I int64 `json:"i"`
	}{T: t.Seconds, I: t.Counter}})
}

// Undefined is the wire sentinel {"$undefined": true}; it decodes to nil.
type Undefined struct{}

func (Undefined) MarshalJSON() ([]byte, error) {
	return []byte(`{"$undefined":true}`), nil
}

// Equal reports whether two decoded values are equivalent under the codec's
// round-trip contract: bitwise for BinaryValue, value-equality for other
// scalars, and deep equality for maps/slices.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case BinaryValue:
		bv, ok := b.(BinaryValue)
		return ok && av.Subtype == bv.Subtype && string(av.Data) == string(bv.Data)
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			ov, ok := bv[k]
			if !ok || !Equal(v, ov) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return fmt.Sprint(a) == fmt.Sprint(b) && fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
	}
}
