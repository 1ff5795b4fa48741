package crm

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionMatches(t *testing.T) {
	tests := []struct {
		name   string
		cond   Condition
		actual any
		want   bool
	}{
		{name: "equal strings", cond: Equal("name", "Invoice"), actual: "Invoice", want: true},
		{name: "string comparison is exact", cond: Equal("name", "Invoice"), actual: "invoice", want: false},
		{name: "equal int and json float", cond: Equal("documenttype", 2), actual: float64(2), want: true},
		{name: "equal int and json number", cond: Equal("documenttype", 2), actual: json.Number("2"), want: true},
		{name: "different numbers", cond: Equal("documenttype", 2), actual: 1, want: false},
		{name: "equal bools", cond: Equal("status", false), actual: false, want: true},
		{name: "bool vs missing", cond: Equal("status", false), actual: nil, want: false},
		{name: "not equal matches different value", cond: NotEqual("createdbyname", "SYSTEM"), actual: "Alice", want: true},
		{name: "not equal rejects same value", cond: NotEqual("createdbyname", "SYSTEM"), actual: "SYSTEM", want: false},
		{name: "not equal matches missing", cond: NotEqual("createdbyname", "SYSTEM"), actual: nil, want: true},
		{name: "number vs string", cond: Equal("documenttype", 2), actual: "2", want: false},
		{name: "unknown operator", cond: Condition{Attribute: "x", Operator: "gt", Value: 1}, actual: 2, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Matches(tt.actual))
		})
	}
}

func TestQueryMatchesIsConjunctive(t *testing.T) {
	q := Query{Entity: "documenttemplate"}.Where(
		Equal("status", false),
		Equal("documenttype", 2),
	)

	assert.True(t, q.Matches(Record{Attributes: Attributes{"status": false, "documenttype": 2}}))
	assert.False(t, q.Matches(Record{Attributes: Attributes{"status": true, "documenttype": 2}}))
	assert.False(t, q.Matches(Record{Attributes: Attributes{"status": false, "documenttype": 1}}))
	assert.Equal(t, "documenttemplate where status eq false and documenttype eq 2", q.String())
}

func TestQueryWhereDoesNotAlias(t *testing.T) {
	base := Query{Entity: "documenttemplate", Conditions: make([]Condition, 0, 4)}
	a := base.Where(Equal("name", "a"))
	b := base.Where(Equal("name", "b"))

	require.Len(t, a.Conditions, 1)
	require.Len(t, b.Conditions, 1)
	assert.Equal(t, "a", a.Conditions[0].Value)
	assert.Equal(t, "b", b.Conditions[0].Value)
}

func TestFormatValue(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

	assert.Equal(t, "'O''Brien'", FormatValue("O'Brien"))
	assert.Equal(t, "false", FormatValue(false))
	assert.Equal(t, "2", FormatValue(2))
	assert.Equal(t, "null", FormatValue(nil))
	assert.Equal(t, id.String(), FormatValue(id))
}

func TestRecordGetters(t *testing.T) {
	payload := []byte("PK\x03\x04")
	r := Record{Attributes: Attributes{
		"name":    "Invoice",
		"count":   float64(3),
		"numstr":  "12",
		"flag":    true,
		"content": base64.StdEncoding.EncodeToString(payload),
		"bad":     1.5,
	}}

	s, err := r.String("name")
	require.NoError(t, err)
	assert.Equal(t, "Invoice", s)

	s, err = r.String("missing")
	require.NoError(t, err)
	assert.Empty(t, s)

	n, err := r.Int("count")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = r.Int("numstr")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = r.Int("bad")
	assert.Error(t, err)

	b, err := r.Bool("flag")
	require.NoError(t, err)
	assert.True(t, b)

	_, err = r.Bool("name")
	assert.Error(t, err)

	content, err := r.Bytes("content")
	require.NoError(t, err)
	assert.Equal(t, payload, content)

	_, err = r.Bytes("name")
	assert.Error(t, err, "Invoice is not valid base64")
}

func TestNotFoundError(t *testing.T) {
	err := fmt.Errorf("resolve: %w", &NotFoundError{Entity: "new_widget", Store: "destination"})

	assert.True(t, errors.Is(err, ErrMetadataNotFound))
	assert.Contains(t, err.Error(), `entity "new_widget" not found in destination`)
}

func TestFaultAndDiagnostic(t *testing.T) {
	inner := errors.New("principal user is missing prvCreateDocumentTemplate privilege")
	fault := &Fault{
		Op:         "create documenttemplate",
		StatusCode: 403,
		Code:       "0x80040220",
		Message:    "SecLib::AccessCheckEx failed",
		TraceText:  "at DocumentTemplateService.Create\n",
		Err:        inner,
	}
	err := fmt.Errorf("upsert %q: %w", "Invoice", fault)

	assert.True(t, IsFault(err))
	assert.False(t, IsFault(inner))
	assert.True(t, errors.Is(err, inner))
	assert.Equal(t,
		`create documenttemplate failed (status 403) [0x80040220]: SecLib::AccessCheckEx failed: principal user is missing prvCreateDocumentTemplate privilege`,
		fault.Error())

	diag := Diagnostic(err)
	assert.Contains(t, diag, "SecLib::AccessCheckEx failed")
	assert.Contains(t, diag, "at DocumentTemplateService.Create")
	assert.Empty(t, Diagnostic(nil))
}

type opaqueError struct{ err error }

func (e opaqueError) Error() string { return "request failed" }
func (e opaqueError) Unwrap() error { return e.err }

func TestDiagnosticAddsInnerCause(t *testing.T) {
	inner := errors.New("connection reset by peer")
	err := fmt.Errorf("list candidates: %w", opaqueError{err: inner})

	assert.Equal(t, "list candidates: request failed\nconnection reset by peer", Diagnostic(err))
}
