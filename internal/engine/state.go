package engine

import (
	"fmt"

	"github.com/gyaneshwarpardhi/nodeflow/internal/node"
)

// State is the execution state of a node.
type State int

const (
	Pending State = iota
	Executing
	Executed
	Failed
	// Clear is only ever notified, for nodes that left the graph.
	Clear
)

var stateNames = [...]string{"pending", "executing", "executed", "failed", "clear"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether s ends a node's current cycle.
func (s State) Terminal() bool {
	return s == Executed || s == Failed
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is the last message reported for a node.
type Status struct {
	Severity node.Severity `json:"severity"`
	Message  string        `json:"message"`
}

// NodeSnapshot is an immutable view of one node.
type NodeSnapshot struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	State      State          `json:"state"`
	Status     Status         `json:"status"`
	Held       bool           `json:"held,omitempty"`
	BlockedBy  string         `json:"blocked_by,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}
