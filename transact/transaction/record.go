package transaction

import (
	"bytes"
	"crypto/rand"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
)

const idEntropyBytes = 16

// Attributes is the open mapping persisted for a transaction. The status lives
// under the "status" key.
type Attributes map[string]any

// Clone returns a deep copy of the nested maps and slices in a.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}

	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = cloneValue(v)
	}

	return out
}

// Status returns the status stored in a, or "" when it is missing or not one
// of the known statuses.
func (a Attributes) Status() Status {
	status, err := resolveStatus(a[constant.StatusKey])
	if err != nil {
		return ""
	}

	return status
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return map[string]any(Attributes(typed).Clone())
	case Attributes:
		return typed.Clone()
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = cloneValue(typed[i])
		}

		return out
	default:
		return v
	}
}

// merge returns a copy of base with overlay applied on top.
func merge(base Attributes, overlay Attributes) Attributes {
	out := base.Clone()
	if out == nil {
		out = make(Attributes, len(overlay))
	}

	for k, v := range overlay {
		out[k] = cloneValue(v)
	}

	return out
}

// DecodeAttributes parses a persisted record. Numbers are kept as json.Number so
// they survive a rewrite unchanged. Any JSON object is accepted; a recognised
// status is canonicalised and anything else under "status" is left untouched.
func DecodeAttributes(data []byte) (Attributes, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedState, err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrMalformedState)
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected JSON object, got %s", ErrMalformedState, jsonKind(raw))
	}

	attrs := Attributes(obj)

	if rawStatus, ok := attrs[constant.StatusKey].(string); ok {
		if status, err := ParseStatus(rawStatus); err == nil {
			attrs[constant.StatusKey] = status.String()
		}
	}

	return attrs, nil
}

// EncodeAttributes serializes attrs as a JSON object.
func EncodeAttributes(attrs Attributes) ([]byte, error) {
	if attrs == nil {
		attrs = Attributes{}
	}

	data, err := json.Marshal(map[string]any(attrs))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return data, nil
}

// NormalizeAttributes converts a caller-supplied mapping into Attributes.
//
// Any map whose keys are strings, fmt.Stringer or encoding.TextMarshaler is
// accepted; keys are converted to their string form. Everything else fails with
// ErrInvalidArgument. Top-level Status values are stored as plain strings.
func NormalizeAttributes(v any) (Attributes, error) {
	switch typed := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w: attributes must be a mapping, got nil", ErrInvalidArgument)
	case Attributes:
		return normalizeValues(typed.Clone()), nil
	case map[string]any:
		return normalizeValues(Attributes(typed).Clone()), nil
	case map[string]string:
		out := make(Attributes, len(typed))
		for k, val := range typed {
			out[k] = val
		}

		return out, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return nil, fmt.Errorf("%w: attributes must be a mapping, got %T", ErrInvalidArgument, v)
	}

	out := make(Attributes, rv.Len())

	iter := rv.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return nil, err
		}

		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("%w: duplicate attribute key %q after normalization", ErrInvalidArgument, key)
		}

		out[key] = cloneValue(iter.Value().Interface())
	}

	return normalizeValues(out), nil
}

func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.Interface {
		if k.IsNil() {
			return "", fmt.Errorf("%w: nil attribute key", ErrInvalidArgument)
		}

		k = k.Elem()
	}

	if k.Kind() == reflect.String {
		return k.String(), nil
	}

	switch key := k.Interface().(type) {
	case fmt.Stringer:
		return key.String(), nil
	case encoding.TextMarshaler:
		text, err := key.MarshalText()
		if err != nil {
			return "", fmt.Errorf("%w: attribute key: %w", ErrInvalidArgument, err)
		}

		return string(text), nil
	}

	return "", fmt.Errorf("%w: attribute keys must be strings, got %s", ErrInvalidArgument, k.Type())
}

func normalizeValues(attrs Attributes) Attributes {
	for k, v := range attrs {
		if status, ok := v.(Status); ok {
			attrs[k] = status.String()
		}
	}

	return attrs
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// NewID returns a fresh identifier of the form "transact-<token>", where token
// is the unpadded URL-safe base64 encoding of 16 random bytes.
func NewID() (string, error) {
	buf := make([]byte, idEntropyBytes)

	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate transaction id: %w", err)
	}

	return constant.IDPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}
