package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueClosed is returned by Submit after Close.
	ErrQueueClosed = errors.New("operation queue is closed")

	// ErrEmptyBatch is returned by Submit for a batch with no changes.
	ErrEmptyBatch = errors.New("batch has no changes")
)

// ApplyPanicError wraps a panic raised inside the Applier. The processor
// records it as the operation's error instead of crashing.
type ApplyPanicError struct {
	Value any
}

func (e *ApplyPanicError) Error() string {
	return fmt.Sprintf("apply layer panicked: %v", e.Value)
}

// IsApplyPanic reports whether err carries an ApplyPanicError.
func IsApplyPanic(err error) bool {
	var pe *ApplyPanicError
	return errors.As(err, &pe)
}
