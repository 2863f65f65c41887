package codec

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/relaygo/hopper/internal/joberrors"
)

func TestRoundTripDate(t *testing.T) {
	v := DateValue{EpochMillis: 1700000000123}
	data, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	dv, ok := got.(DateValue)
	if !ok {
		t.Fatalf("expected DateValue, got %T", got)
	}
	if dv.EpochMillis != v.EpochMillis {
		t.Errorf("got %d, want %d", dv.EpochMillis, v.EpochMillis)
	}
}

func TestRoundTripBinary(t *testing.T) {
	v := BinaryValue{Data: []byte{0xde, 0xad, 0xbe, 0xef}, Subtype: "00"}
	data, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	bv, ok := got.(BinaryValue)
	if !ok {
		t.Fatalf("expected BinaryValue, got %T", got)
	}
	if string(bv.Data) != string(v.Data) || bv.Subtype != v.Subtype {
		t.Errorf("got %+v, want %+v", bv, v)
	}
}

func TestRoundTripRegex(t *testing.T) {
	v := Regex{Pattern: "^a.*z$", Options: "ims"}
	data, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	rv, ok := got.(Regex)
	if !ok {
		t.Fatalf("expected Regex, got %T", got)
	}
	if rv.Pattern != v.Pattern || rv.Options != v.Options {
		t.Errorf("got %+v, want %+v", rv, v)
	}
}

func TestRoundTripMinMaxKey(t *testing.T) {
	data, err := Encode(MinKey{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := got.(MinKey); !ok {
		t.Fatalf("expected MinKey, got %T", got)
	}

	data, err = Encode(MaxKey{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err = Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := got.(MaxKey); !ok {
		t.Fatalf("expected MaxKey, got %T", got)
	}
}

func TestRoundTripTimestamp(t *testing.T) {
	v := Timestamp{Seconds: 1700000000, Counter: 42}
	data, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tv, ok := got.(Timestamp)
	if !ok {
		t.Fatalf("expected Timestamp, got %T", got)
	}
	if tv.Seconds != v.Seconds || tv.Counter != v.Counter {
		t.Errorf("got %+v, want %+v", tv, v)
	}
}

func TestRoundTripUndefined(t *testing.T) {
	data, err := Encode(Undefined{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %#v", got)
	}
}

func TestPlainObjectDoesNotBecomeExtended(t *testing.T) {
	got, err := Decode([]byte(`{"x": 1}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", got)
	}
	if _, ok := m["x"].(json.Number); !ok {
		t.Errorf("expected json.Number for x, got %T", m["x"])
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
	if !errors.Is(err, joberrors.ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestDecodeMalformedRegexOptions(t *testing.T) {
	_, err := Decode([]byte(`{"$regex": "a.*", "$options": "z"}`))
	if err == nil {
		t.Fatal("expected error for invalid regex option")
	}
	if !errors.Is(err, joberrors.ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestNestedStructurePreserved(t *testing.T) {
	input := map[string]any{
		"list": []any{1, 2, DateValue{EpochMillis: 5}},
		"nested": map[string]any{
			"oid": ObjectID{Hex: "abc123"},
		},
	}
	data, err := Encode(input)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", got)
	}
	nested, ok := m["nested"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested map, got %T", m["nested"])
	}
	oid, ok := nested["oid"].(ObjectID)
	if !ok || oid.Hex != "abc123" {
		t.Errorf("expected ObjectID{abc123}, got %+v", nested["oid"])
	}
}
