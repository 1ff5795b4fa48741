package crm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMetadataNotFound is returned when an entity has no metadata (and so no
// type code) in a store.
var ErrMetadataNotFound = errors.New("entity metadata not found")

// NotFoundError identifies the entity and store of a failed metadata lookup.
type NotFoundError struct {
	Entity string
	Store  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("entity %q not found in %s", e.Entity, e.Store)
}

func (e *NotFoundError) Unwrap() error {
	return ErrMetadataNotFound
}

// Fault is a request the store rejected: permissions, validation, transient
// service errors. The store's diagnostic text is kept so it can be reported.
type Fault struct {
	Op         string // Operation that failed (e.g. "create", "query")
	StatusCode int    // Transport status, 0 if not applicable
	Code       string // Store-specific error code
	Message    string
	TraceText  string // Server-side trace, if the store returned one
	Err        error  // Inner cause
}

func (f *Fault) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", f.Op)
	if f.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", f.StatusCode)
	}
	if f.Code != "" {
		fmt.Fprintf(&b, " [%s]", f.Code)
	}
	if f.Message != "" {
		fmt.Fprintf(&b, ": %s", f.Message)
	}
	if f.Err != nil {
		fmt.Fprintf(&b, ": %v", f.Err)
	}
	return b.String()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// IsFault reports whether err is, or wraps, a *Fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

// Diagnostic returns every piece of detail carried by err on separate lines:
// the error text, the fault trace text and the innermost cause.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	lines := []string{err.Error()}
	var f *Fault
	if errors.As(err, &f) && strings.TrimSpace(f.TraceText) != "" {
		lines = append(lines, strings.TrimSpace(f.TraceText))
	}
	inner := err
	for {
		next := errors.Unwrap(inner)
		if next == nil {
			break
		}
		inner = next
	}
	if inner != err && !strings.Contains(lines[0], inner.Error()) {
		lines = append(lines, inner.Error())
	}
	return strings.Join(lines, "\n")
}
