package graph

import (
	"errors"
	"fmt"
)

// Sentinel causes wrapped by StructuralError.
var (
	ErrDuplicateID      = errors.New("id already in use")
	ErrUnknownNode      = errors.New("node not found")
	ErrUnknownLink      = errors.New("link not found")
	ErrUnknownPort      = errors.New("port not found")
	ErrLinkTypeMismatch = errors.New("incompatible link types")
	ErrPortOccupied     = errors.New("input port accepts a single connection")
	ErrDuplicateLink    = errors.New("ports are already connected")
	ErrCycle            = errors.New("link would create a cycle")
	ErrInvalid          = errors.New("invalid argument")
)

// StructuralError is returned by every rejected graph edit. The graph is
// left unchanged.
type StructuralError struct {
	Op     string
	ID     string
	Detail string
	Err    error
}

func (e *StructuralError) Error() string {
	msg := fmt.Sprintf("%s %q: %v", e.Op, e.ID, e.Err)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Unwrap returns the sentinel cause.
func (e *StructuralError) Unwrap() error {
	return e.Err
}

func structural(op, id string, err error, detail string, args ...any) *StructuralError {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &StructuralError{Op: op, ID: id, Err: err, Detail: detail}
}

// IsStructural reports whether err is (or wraps) a StructuralError.
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}
