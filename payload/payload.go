// Package payload carries the opaque JSON document that flows from one
// workflow state to the next.
//
// A Value is immutable: it holds compacted JSON bytes and is decoded on
// demand, so executions can share and log values without copying.
package payload

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ohler55/ojg/jp"
)

var (
	// ErrInvalid is returned when bytes are not a single JSON document.
	ErrInvalid = errors.New("payload: invalid json")

	// ErrNoMatch is returned by Select when the path matches nothing.
	ErrNoMatch = errors.New("payload: path matched nothing")
)

// Value is a JSON document. The zero Value is JSON null.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalJSON/Scan.
type Value struct {
	raw []byte
}

// Kind names the top-level JSON type of a Value.
type Kind string

// Kinds.
const (
	KindNull   Kind = "null"
	KindObject Kind = "object"
	KindArray  Kind = "array"
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
)

// Empty returns the empty object {}.
func Empty() Value { return Value{raw: []byte("{}")} }

// Parse validates and compacts data into a Value.
func Parse(data []byte) (Value, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return Value{}, fmt.Errorf("%w: %q", ErrInvalid, truncate(data))
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return Value{raw: buf.Bytes()}, nil
}

// MustParse is like Parse but panics on error. Use for literals.
func MustParse(s string) Value {
	v, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

// From encodes any JSON-marshalable Go value.
func From(v any) (Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("payload: encode %T: %w", v, err)
	}
	return Value{raw: data}, nil
}

// IsNull reports whether v is JSON null (including the zero Value).
func (v Value) IsNull() bool {
	return len(v.raw) == 0 || string(v.raw) == "null"
}

// Bytes returns a copy of the compacted JSON.
func (v Value) Bytes() []byte {
	if len(v.raw) == 0 {
		return []byte("null")
	}
	out := make([]byte, len(v.raw))
	copy(out, v.raw)
	return out
}

// String returns the compacted JSON text.
func (v Value) String() string {
	if len(v.raw) == 0 {
		return "null"
	}
	return string(v.raw)
}

// Equal reports whether both values have identical compacted encodings.
func (v Value) Equal(other Value) bool {
	return v.String() == other.String()
}

// Kind reports the top-level JSON type.
func (v Value) Kind() Kind {
	if v.IsNull() {
		return KindNull
	}
	switch v.raw[0] {
	case '{':
		return KindObject
	case '[':
		return KindArray
	case '"':
		return KindString
	case 't', 'f':
		return KindBool
	default:
		return KindNumber
	}
}

// Decode returns the generic Go form of v. Numbers decode as json.Number.
func (v Value) Decode() (any, error) {
	var out any
	if err := v.Unmarshal(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Unmarshal decodes v into dst.
func (v Value) Unmarshal(dst any) error {
	dec := json.NewDecoder(bytes.NewReader(v.Bytes()))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("payload: decode into %T: %w", dst, err)
	}
	return nil
}

// Select evaluates a JSONPath expression against v. "" and "$" return v
// unchanged. A single match is returned as-is; several matches are returned
// as an array.
func (v Value) Select(expr string) (Value, error) {
	if expr == "" || expr == "$" {
		return v, nil
	}

	path, err := jp.ParseString(expr)
	if err != nil {
		return Value{}, fmt.Errorf("payload: invalid path %q: %w", expr, err)
	}

	data, err := v.Decode()
	if err != nil {
		return Value{}, err
	}

	results := path.Get(data)
	switch len(results) {
	case 0:
		return Value{}, fmt.Errorf("%w: %s in %s", ErrNoMatch, expr, truncate(v.raw))
	case 1:
		return From(results[0])
	default:
		return From(results)
	}
}

// ValidatePath reports whether expr is a usable JSONPath expression.
func ValidatePath(expr string) error {
	if expr == "" || expr == "$" {
		return nil
	}
	if _, err := jp.ParseString(expr); err != nil {
		return fmt.Errorf("payload: invalid path %q: %w", expr, err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Encoding
// ──────────────────────────────────────────────────

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Value implements driver.Valuer for jsonb columns.
func (v Value) Value() (driver.Value, error) {
	return v.String(), nil
}

// Scan implements sql.Scanner.
func (v *Value) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		*v = Value{}
		return nil
	case string:
		return v.UnmarshalJSON([]byte(s))
	case []byte:
		return v.UnmarshalJSON(s)
	default:
		return fmt.Errorf("payload: cannot scan %T into Value", src)
	}
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
