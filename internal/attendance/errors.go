package attendance

import (
	"errors"
	"fmt"
)

// Error kinds reported by the attendance core. Match them with errors.Is.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrStorage  = errors.New("storage failure")
	ErrInvalid  = errors.New("invalid input")
)

// Conflicting fields.
const (
	FieldMatric        = "matric"
	FieldIdentityToken = "fingerprint_id"
)

// Error describes a failed operation with enough context for an operator to act on it.
type Error struct {
	Kind  error
	Op    string
	Field string
	Value string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

// Is reports whether target is the error's kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func notFound(op, field, value, msg string) error {
	return &Error{Kind: ErrNotFound, Op: op, Field: field, Value: value, Msg: msg}
}

func conflict(op, field, value string) error {
	var msg string
	switch field {
	case FieldMatric:
		msg = fmt.Sprintf("a student with matriculation number %q is already registered", value)
	default:
		msg = fmt.Sprintf("a student with fingerprint ID %q is already registered", value)
	}
	return &Error{Kind: ErrConflict, Op: op, Field: field, Value: value, Msg: msg}
}

func invalid(op, field, msg string) error {
	return &Error{Kind: ErrInvalid, Op: op, Field: field, Msg: msg}
}

// storageErr wraps a persistence failure. Errors that already carry a kind pass through.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: ErrStorage, Op: op, Err: err}
}
