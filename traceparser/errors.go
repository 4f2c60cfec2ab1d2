package traceparser

import (
	"github.com/pkg/errors"
)

// Errors that a parse can report.
var (
	// ErrFileAccess means the trace could not be opened, decompressed or
	// read. The parse result is empty.
	ErrFileAccess = errors.New("trace not accessible")

	// ErrOutputWrite means an output file could not be written. The parse
	// result is not affected.
	ErrOutputWrite = errors.New("output not writable")
)

// Error is a failure of one of the kinds above on a path.
type Error struct {
	Kind error
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return e.Kind.Error() + ": " + e.Err.Error()
	}

	return e.Kind.Error() + ": " + e.Path + ": " + e.Err.Error()
}

// Is matches the kind of the error.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}
