package docpkg

import (
	"errors"
	"fmt"
)

var (
	// ErrPackageCorrupt is returned when content cannot be opened as a
	// document package.
	ErrPackageCorrupt = errors.New("document package is corrupt")

	// ErrEmptyPattern is returned by Rewrite when the pattern is empty.
	ErrEmptyPattern = errors.New("rewrite pattern must not be empty")
)

// IOError is returned when a part of an opened package cannot be read,
// written or saved.
type IOError struct {
	Op   string // "read", "write" or "save"
	Part string // Part name; empty for whole-package operations
	Err  error
}

func (e *IOError) Error() string {
	if e.Part == "" {
		return fmt.Sprintf("failed to %s package: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("failed to %s part %q: %v", e.Op, e.Part, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPackageCorrupt, fmt.Sprintf(format, args...))
}
