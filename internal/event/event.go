package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/nodeflow/internal/engine"
	"github.com/gyaneshwarpardhi/nodeflow/internal/node"
)

// Kind is the type of a notification.
type Kind string

const (
	KindState  Kind = "state"
	KindStatus Kind = "status"
	KindIdle   Kind = "idle"
)

// Event is the canonical model for engine notifications sent to clients.
type Event struct {
	ID       string        `json:"id"`
	Kind     Kind          `json:"kind"`
	NodeID   string        `json:"node_id,omitempty"`
	State    string        `json:"state,omitempty"`
	Severity node.Severity `json:"severity,omitempty"`
	Message  string        `json:"message,omitempty"`
	At       time.Time     `json:"at"`
}

// StateChanged builds a state notification.
func StateChanged(nodeID string, s engine.State) *Event {
	return &Event{ID: uuid.NewString(), Kind: KindState, NodeID: nodeID, State: s.String(), At: time.Now()}
}

// StatusChanged builds a status notification. An empty severity means the
// status was cleared.
func StatusChanged(nodeID string, sev node.Severity, msg string) *Event {
	return &Event{ID: uuid.NewString(), Kind: KindStatus, NodeID: nodeID, Severity: sev, Message: msg, At: time.Now()}
}

// Idle builds an idle notification.
func Idle() *Event {
	return &Event{ID: uuid.NewString(), Kind: KindIdle, At: time.Now()}
}
