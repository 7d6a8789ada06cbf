package etl

import (
	"errors"
	"fmt"
)

var (
	// ErrColumnNotFound is returned when an expansion names a column the table lacks.
	ErrColumnNotFound = errors.New("column not found")
	// ErrUnexpectedType is returned when a cell cannot be expanded as requested.
	ErrUnexpectedType = errors.New("unexpected cell type")
	// ErrUnparseable is returned for serialized cells that are not a JSON object.
	ErrUnparseable = errors.New("unparseable nested value")
)

// ExpansionError reports a failed row or column explosion.
// Row is -1 when the failure is not tied to a single row.
type ExpansionError struct {
	Op     string
	Column string
	Row    int
	Err    error
}

func (e *ExpansionError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("%s %q (row %d): %v", e.Op, e.Column, e.Row, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Column, e.Err)
}

func (e *ExpansionError) Unwrap() error { return e.Err }
