package crm

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Operator is a comparison operator in a query condition.
type Operator string

const (
	OperatorEqual    Operator = "eq"
	OperatorNotEqual Operator = "ne"
)

// Condition compares a single attribute against a value.
type Condition struct {
	Attribute string
	Operator  Operator
	Value     any
}

// Equal returns a condition that matches when attribute == value.
func Equal(attribute string, value any) Condition {
	return Condition{Attribute: attribute, Operator: OperatorEqual, Value: value}
}

// NotEqual returns a condition that matches when attribute != value.
func NotEqual(attribute string, value any) Condition {
	return Condition{Attribute: attribute, Operator: OperatorNotEqual, Value: value}
}

// Matches evaluates the condition against an attribute value taken from a
// record. A missing attribute is passed as nil. String comparison is exact.
func (c Condition) Matches(actual any) bool {
	eq := valuesEqual(actual, c.Value)
	switch c.Operator {
	case OperatorEqual:
		return eq
	case OperatorNotEqual:
		return !eq
	default:
		return false
	}
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Attribute, c.Operator, c.Value)
}

// Query selects records of one entity. All conditions are AND-ed together.
type Query struct {
	Entity     string
	Columns    []string
	Conditions []Condition
}

// Where appends conditions to the query and returns it.
func (q Query) Where(conds ...Condition) Query {
	q.Conditions = append(append([]Condition(nil), q.Conditions...), conds...)
	return q
}

// Matches reports whether a record satisfies every condition of the query.
func (q Query) Matches(r Record) bool {
	for _, c := range q.Conditions {
		if !c.Matches(r.Attributes[c.Attribute]) {
			return false
		}
	}
	return true
}

func (q Query) String() string {
	parts := make([]string, 0, len(q.Conditions))
	for _, c := range q.Conditions {
		parts = append(parts, c.String())
	}
	return fmt.Sprintf("%s where %s", q.Entity, strings.Join(parts, " and "))
}

// valuesEqual compares attribute values loosely enough that numbers decoded
// from JSON (float64) compare equal to the ints used when building queries.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
		return false
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	return reflect.DeepEqual(a, b)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		return float64(i), err == nil
	default:
		return 0, false
	}
}

// FormatValue renders a condition value as an OData literal.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
