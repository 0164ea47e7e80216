package sqlbuilder

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOperator is returned by a terminal call on a Table whose Where
	// chain used an operator outside the allow-list.
	ErrInvalidOperator = errors.New("invalid operator")

	// ErrMissingWhere guards Update against unfiltered statements.
	ErrMissingWhere = errors.New("WHERE condition is required to execute UPDATE")

	// ErrRowShape is returned when rows in one Insert batch do not share the
	// same columns in the same order, or a row has no columns.
	ErrRowShape = errors.New("rows must share identical columns")

	// ErrExec marks failures reported by the database while executing a statement.
	ErrExec = errors.New("statement execution failed")
)

// Error describes a statement that reached the database and failed there.
type Error struct {
	Op    string // get, insert, update
	Table string
	SQL   string // interpolated statement, for diagnostics only
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sqlbuilder: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports ErrExec so callers can tell execution failures from validation ones.
func (e *Error) Is(target error) bool { return target == ErrExec }
