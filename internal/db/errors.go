package db

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the gateway. Match them with errors.Is.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrQuery             = errors.New("query error")
	ErrWrite             = errors.New("write error")
)

// Error wraps a driver error with the kind, database and operation.
type Error struct {
	Kind     error
	Database string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s on %s: %v", e.Kind, e.Op, e.Database, e.Err)
}

// Unwrap exposes both the kind and the underlying error to errors.Is/As.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newError(kind error, database, op string, err error) *Error {
	return &Error{Kind: kind, Database: database, Op: op, Err: err}
}
