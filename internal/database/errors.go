package database

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by mutations that target a missing row.
var ErrNotFound = errors.New("record not found")

// DataAccessError wraps a failure of the underlying store.
type DataAccessError struct {
	Op  string
	Err error
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("data access: %s: %v", e.Op, e.Err)
}

func (e *DataAccessError) Unwrap() error {
	return e.Err
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var dataErr *DataAccessError
	if errors.Is(err, ErrNotFound) || errors.As(err, &dataErr) {
		return err
	}
	return &DataAccessError{Op: op, Err: err}
}
