package world

import (
	"errors"
	"fmt"
)

// Severity classifies a failure at the physics boundary.
type Severity int

const (
	// SeverityRecoverable failures affect one call; the loop may continue.
	SeverityRecoverable Severity = iota
	// SeverityFatal failures mean the simulated body is gone.
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityRecoverable:
		return "recoverable"
	case SeverityFatal:
		return "fatal"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ErrDisconnected is wrapped by every call made after the physics
// server went away.
var ErrDisconnected = errors.New("physics server disconnected")

// Error is the typed error returned across the physics boundary.
type Error struct {
	Op       string
	Severity Severity
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("world %s (%s): %v", e.Op, e.Severity, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Recoverable wraps err as a recoverable failure of op.
func Recoverable(op string, err error) error {
	return &Error{Op: op, Severity: SeverityRecoverable, Err: err}
}

// Fatal wraps err as a fatal failure of op.
func Fatal(op string, err error) error {
	return &Error{Op: op, Severity: SeverityFatal, Err: err}
}

// IsFatal reports whether err should end the session. Untyped errors
// are recoverable unless they wrap ErrDisconnected.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var we *Error
	if errors.As(err, &we) && we.Severity == SeverityFatal {
		return true
	}
	return errors.Is(err, ErrDisconnected)
}
