package crm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
)

// Attributes is a set of attribute values keyed by logical attribute name.
type Attributes map[string]any

// Clone returns a shallow copy of the attributes.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Record is a single row returned by a query.
type Record struct {
	ID         uuid.UUID
	Attributes Attributes
}

// String returns a string attribute. Missing attributes yield "".
func (r Record) String(name string) (string, error) {
	v, ok := r.Attributes[name]
	if !ok || v == nil {
		return "", nil
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return "", fmt.Errorf("attribute %q is %T, not a string", name, v)
	}
}

// Int returns an integer attribute. Missing attributes yield 0.
func (r Record) Int(name string) (int, error) {
	v, ok := r.Attributes[name]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("attribute %q is not an integer: %v", name, n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("attribute %q is not an integer: %w", name, err)
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("attribute %q is not an integer: %w", name, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("attribute %q is %T, not an integer", name, v)
	}
}

// Bool returns a boolean attribute. Missing attributes yield false.
func (r Record) Bool(name string) (bool, error) {
	v, ok := r.Attributes[name]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("attribute %q is %T, not a bool", name, v)
	}
	return b, nil
}

// Bytes returns a binary attribute. Binary values travel base64 encoded;
// raw []byte values are accepted as-is.
func (r Record) Bytes(name string) ([]byte, error) {
	v, ok := r.Attributes[name]
	if !ok || v == nil {
		return nil, nil
	}
	switch b := v.(type) {
	case []byte:
		return append([]byte(nil), b...), nil
	case string:
		out, err := base64.StdEncoding.DecodeString(b)
		if err != nil {
			return nil, fmt.Errorf("attribute %q is not valid base64: %w", name, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("attribute %q is %T, not binary", name, v)
	}
}
