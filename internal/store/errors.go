package store

import (
	"errors"
	"fmt"
)

// ErrSubscriptionNotFound is returned when a push subscription lookup misses.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Error wraps a persistence failure with the operation that caused it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
