package graph

import (
	"errors"
	"fmt"
)

// NotFoundError reports a reference to an entity that does not exist in the
// model.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("cannot find %s: %s", e.Entity, e.ID)
}

// ChangeError is returned by ExecuteBatch when a change fails. Index is the
// change's position in the submitted batch.
type ChangeError struct {
	Index int
	Op    string
	Err   error
}

func (e *ChangeError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ChangeError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err was caused by a missing entity.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

var (
	// ErrDuplicate is returned for a creator whose target already exists
	// under the "error" duplicate strategy.
	ErrDuplicate = errors.New("already exists")

	// ErrUnsupportedOp is returned for a change kind the apply layer does
	// not know.
	ErrUnsupportedOp = errors.New("unsupported operation")
)
