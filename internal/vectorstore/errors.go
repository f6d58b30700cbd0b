package vectorstore

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by Insert/Search before Open has succeeded.
var ErrNotReady = errors.New("vector store not ready")

// ShapeMismatchError reports a chunk/vector count mismatch on insert. It is
// a programming-contract violation and is never retried.
type ShapeMismatchError struct {
	Chunks  int
	Vectors int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("chunk/vector count mismatch: %d chunks, %d vectors", e.Chunks, e.Vectors)
}

// UnavailableError reports that the backing store stayed unreachable
// through the whole bounded retry budget.
type UnavailableError struct {
	Attempts int
	Cause    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("vector store unreachable after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

// State describes store readiness. The health endpoint reports it instead
// of the process crash-looping on a dead backend.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}
