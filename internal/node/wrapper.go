package node

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("nodeflow.node")

// ExecutionError is the failure of a call into implementation code.
type ExecutionError struct {
	NodeID   string
	Op       string
	Err      error
	Panicked bool
	Stack    []byte
}

func (e *ExecutionError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("node %q: %s panicked: %v", e.NodeID, e.Op, e.Err)
	}
	return fmt.Sprintf("node %q: %s: %v", e.NodeID, e.Op, e.Err)
}

// Unwrap returns the implementation's error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Wrapper isolates the engine from an implementation: every call recovers
// panics and converts them, like returned errors, into *ExecutionError.
type Wrapper struct {
	id     string
	typeID string
	impl   Executor
}

// Instantiate runs the factory behind the isolation boundary.
func Instantiate(id, typeID string, f Factory, props map[string]any, svc Service) (w *Wrapper, err error) {
	defer func() {
		if r := recover(); r != nil {
			w, err = nil, panicError(id, "instantiate", r)
		}
	}()
	impl, ferr := f(maps.Clone(props), svc)
	if ferr != nil {
		return nil, &ExecutionError{NodeID: id, Op: "instantiate", Err: ferr}
	}
	if impl == nil {
		return nil, &ExecutionError{NodeID: id, Op: "instantiate", Err: errors.New("factory returned nil")}
	}
	return &Wrapper{id: id, typeID: typeID, impl: impl}, nil
}

// NewWrapper wraps an already constructed implementation.
func NewWrapper(id, typeID string, impl Executor) *Wrapper {
	return &Wrapper{id: id, typeID: typeID, impl: impl}
}

// ID returns the node id.
func (w *Wrapper) ID() string { return w.id }

// TypeID returns the qualified node type id.
func (w *Wrapper) TypeID() string { return w.typeID }

// Execute calls the implementation. It never panics.
func (w *Wrapper) Execute(ctx context.Context, inputs Inputs) (out Outputs, err error) {
	ctx, span := tracer.Start(ctx, "node.execute",
		trace.WithAttributes(
			attribute.String("node.id", w.id),
			attribute.String("node.type", w.typeID),
		),
	)
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, panicError(w.id, "execute", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("node.outputs", len(out)))
		}
		span.End()
	}()

	out, err = w.impl.Execute(ctx, inputs)
	if err != nil {
		return nil, &ExecutionError{NodeID: w.id, Op: "execute", Err: err}
	}
	return maps.Clone(out), nil
}

// ResetExecution calls the implementation's ResetExecution when it has one.
func (w *Wrapper) ResetExecution(ctx context.Context) (err error) {
	r, ok := w.impl.(Resetter)
	if !ok {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = panicError(w.id, "reset", p)
		}
	}()
	if rerr := r.ResetExecution(ctx); rerr != nil {
		return &ExecutionError{NodeID: w.id, Op: "reset", Err: rerr}
	}
	return nil
}

// SetProperties forwards new properties when the implementation accepts them.
// It reports false when the implementation is not Configurable.
func (w *Wrapper) SetProperties(props map[string]any) (applied bool, err error) {
	c, ok := w.impl.(Configurable)
	if !ok {
		return false, nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = panicError(w.id, "configure", p)
		}
	}()
	if cerr := c.SetProperties(maps.Clone(props)); cerr != nil {
		return true, &ExecutionError{NodeID: w.id, Op: "configure", Err: cerr}
	}
	return true, nil
}

func panicError(id, op string, r any) *ExecutionError {
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("%v", r)
	}
	return &ExecutionError{NodeID: id, Op: op, Err: err, Panicked: true, Stack: debug.Stack()}
}
