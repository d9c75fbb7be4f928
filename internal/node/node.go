// Package node defines the contract every node implementation satisfies and
// the Wrapper through which the engine calls into implementation code.
package node

import (
	"context"

	"github.com/gyaneshwarpardhi/nodeflow/internal/schema"
)

// Inputs maps an input port name to the values of its incoming links, in
// connection order. Unconnected ports are absent or empty.
type Inputs map[string][]any

// First returns the first value on a port.
func (in Inputs) First(port string) (any, bool) {
	vs := in[port]
	if len(vs) == 0 {
		return nil, false
	}
	return vs[0], true
}

// Outputs maps an output port name to the value produced on it. A port
// missing from the map produced nothing this time.
type Outputs map[string]any

// Executor is the interface all node implementations must satisfy.
type Executor interface {
	// Execute computes outputs from inputs. A returned error marks the node failed.
	Execute(ctx context.Context, inputs Inputs) (Outputs, error)
}

// Resetter is implemented by nodes that keep computed state which must be
// dropped when their inputs become invalid.
type Resetter interface {
	ResetExecution(ctx context.Context) error
}

// Configurable is implemented by nodes that accept property updates after
// construction.
type Configurable interface {
	SetProperties(props map[string]any) error
}

// Severity of a node status message.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityClear   Severity = ""
)

// Service is handed to each implementation so it can talk back to the engine.
type Service interface {
	NodeID() string
	RequestExecution()
	SetStatus(severity Severity, message string)
	ClearStatus()
}

// Factory builds an implementation for one node instance.
type Factory func(props map[string]any, svc Service) (Executor, error)

// Definition binds a node type descriptor to its factory. Type.ID is the
// id local to the package.
type Definition struct {
	Type schema.NodeType
	New  Factory
}

// Package is a set of node definitions and the link types they use.
type Package struct {
	ID        string
	Name      string
	LinkTypes []schema.LinkType
	Nodes     []Definition
}
