package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/nodeflow/internal/graph"
)

var (
	// ErrNoProgress is returned by Wait when pending nodes can never become ready.
	ErrNoProgress = errors.New("no progress possible: pending nodes can never become ready")

	// ErrUnknownNode is returned for operations on a node id not in the graph.
	ErrUnknownNode = graph.ErrUnknownNode

	// ErrUnknownLink is returned for lookups of a link id not in the graph.
	ErrUnknownLink = graph.ErrUnknownLink

	// ErrClosed is returned once the engine has shut down.
	ErrClosed = errors.New("engine is shut down")
)

// StallError lists the nodes left pending when the engine went idle.
type StallError struct {
	Pending []string
}

func (e *StallError) Error() string {
	return fmt.Sprintf("%v: %s", ErrNoProgress, strings.Join(e.Pending, ", "))
}

// Unwrap returns ErrNoProgress.
func (e *StallError) Unwrap() error {
	return ErrNoProgress
}
