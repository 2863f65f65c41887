// Package codec implements the wire encoding shared by the HTTP surface, the
// RemoteJob client, and the remotify layer. Payloads are JSON with a small
// set of extended scalar types encoded as single-key objects (see the
// Extended scalar types section below), so that values which don't survive a
// plain JSON round trip — timestamps, binary blobs, large integers,
// patterns, sentinels — still decode back to the same Go value.
//
// Decoding never partially populates a result: on any malformed input the
// whole call fails with ErrMalformedPayload and the caller's existing value,
// if any, is left untouched.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/relaygo/hopper/internal/joberrors"
)

// Encode marshals v to its wire representation. Extended scalar types
// (DateValue, BinaryValue, ObjectID, NumberLong, Regex, MinKey, MaxKey,
// Timestamp, Undefined) marshal to their single-key object form through
// their own MarshalJSON; everything else uses encoding/json directly.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", joberrors.ErrMalformedPayload, err)
	}
	return data, nil
}

// Decode unmarshals data into a generic value tree (map[string]any,
// []any, and scalars), recognizing the extended single-key object forms and
// converting them to their typed Go representation. Decode does not
// re-inject extended metadata the encoder did not emit — a plain
// {"x": 1} round-trips as a plain number, never as a NumberLong.
func Decode(data []byte) (any, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", joberrors.ErrMalformedPayload, err)
	}
	return normalize(raw)
}

// DecodeInto json.Unmarshals data into v, a non-nil pointer, for callers
// that want strict struct decoding instead of the generic value tree.
// Extended single-key objects are not converted; they reach v as plain JSON
// objects. Decoding goes into a fresh value that replaces *v only on
// success.
func DecodeInto(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: DecodeInto needs a non-nil pointer, got %T", joberrors.ErrMalformedPayload, v)
	}
	fresh := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal(data, fresh.Interface()); err != nil {
		return fmt.Errorf("%w: %v", joberrors.ErrMalformedPayload, err)
	}
	rv.Elem().Set(fresh.Elem())
	return nil
}

func normalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if scalar, ok, err := decodeExtendedScalar(val); ok || err != nil {
			return scalar, err
		}
		out := make(map[string]any, len(val))
		for k, elem := range val {
			n, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			n, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

func decodeExtendedScalar(m map[string]any) (any, bool, error) {
	if len(m) == 0 || len(m) > 2 {
		return nil, false, nil
	}

	if raw, ok := m["$date"]; ok && len(m) == 1 {
		n, ok := raw.(json.Number)
		if !ok {
			return nil, true, fmt.Errorf("%w: $date must be numeric", joberrors.ErrMalformedPayload)
		}
		ms, err := n.Int64()
		if err != nil {
			return nil, true, fmt.Errorf("%w: %v", joberrors.ErrMalformedPayload, err)
		}
		return DateValue{EpochMillis: ms}, true, nil
	}

	if _, ok := m["$binary"]; ok {
		return decodeBinary(m)
	}

	if raw, ok := m["$oid"]; ok && len(m) == 1 {
		hex, ok := raw.(string)
		if !ok {
			return nil, true, fmt.Errorf("%w: $oid must be a string", joberrors.ErrMalformedPayload)
		}
		return ObjectID{Hex: hex}, true, nil
	}

	if raw, ok := m["$numberLong"]; ok && len(m) == 1 {
		s, ok := raw.(string)
		if !ok {
			return nil, true, fmt.Errorf("%w: $numberLong must be a string", joberrors.ErrMalformedPayload)
		}
		return NumberLong{Value: s}, true, nil
	}

	if _, ok := m["$regex"]; ok {
		return decodeRegex(m)
	}

	if raw, ok := m["$minKey"]; ok && len(m) == 1 {
		if n, ok := raw.(json.Number); ok && n.String() == "1" {
			return MinKey{}, true, nil
		}
		return nil, true, fmt.Errorf("%w: $minKey must be 1", joberrors.ErrMalformedPayload)
	}

	if raw, ok := m["$maxKey"]; ok && len(m) == 1 {
		if n, ok := raw.(json.Number); ok && n.String() == "1" {
			return MaxKey{}, true, nil
		}
		return nil, true, fmt.Errorf("%w: $maxKey must be 1", joberrors.ErrMalformedPayload)
	}

	if raw, ok := m["$timestamp"]; ok && len(m) == 1 {
		return decodeTimestamp(raw)
	}

	if raw, ok := m["$undefined"]; ok && len(m) == 1 {
		if b, ok := raw.(bool); ok && b {
			return nil, true, nil
		}
		return nil, true, fmt.Errorf("%w: $undefined must be true", joberrors.ErrMalformedPayload)
	}

	return nil, false, nil
}

func decodeBinary(m map[string]any) (any, bool, error) {
	rawData, ok := m["$binary"].(string)
	if !ok {
		return nil, true, fmt.Errorf("%w: $binary must be a string", joberrors.ErrMalformedPayload)
	}
	data, err := base64.StdEncoding.DecodeString(rawData)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", joberrors.ErrMalformedPayload, err)
	}
	bv := BinaryValue{Data: data}
	if rawType, ok := m["$type"]; ok {
		s, ok := rawType.(string)
		if !ok {
			return nil, true, fmt.Errorf("%w: $type must be a string", joberrors.ErrMalformedPayload)
		}
		bv.Subtype = s
	}
	return bv, true, nil
}

func decodeRegex(m map[string]any) (any, bool, error) {
	pattern, ok := m["$regex"].(string)
	if !ok {
		return nil, true, fmt.Errorf("%w: $regex must be a string", joberrors.ErrMalformedPayload)
	}
	r := Regex{Pattern: pattern}
	if rawOpts, ok := m["$options"]; ok {
		opts, ok := rawOpts.(string)
		if !ok {
			return nil, true, fmt.Errorf("%w: $options must be a string", joberrors.ErrMalformedPayload)
		}
		for _, c := range opts {
			switch c {
			case 'i', 'l', 'm', 's', 'u', 'x':
			default:
				return nil, true, fmt.Errorf("%w: invalid regex option %q", joberrors.ErrMalformedPayload, c)
			}
		}
		r.Options = opts
	}
	return r, true, nil
}

func decodeTimestamp(raw any) (any, bool, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, true, fmt.Errorf("%w: $timestamp must be an object", joberrors.ErrMalformedPayload)
	}
	t, ok1 := obj["t"].(json.Number)
	i, ok2 := obj["i"].(json.Number)
	if !ok1 || !ok2 {
		return nil, true, fmt.Errorf("%w: $timestamp requires numeric t and i", joberrors.ErrMalformedPayload)
	}
	tv, err := t.Int64()
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", joberrors.ErrMalformedPayload, err)
	}
	iv, err := i.Int64()
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", joberrors.ErrMalformedPayload, err)
	}
	return Timestamp{Seconds: tv, Counter: iv}, true, nil
}
