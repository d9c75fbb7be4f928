// Package builtin provides the "core" node package: constants, expressions,
// gates, collectors and sinks over a single "value" link type.
package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/gyaneshwarpardhi/nodeflow/internal/expr"
	"github.com/gyaneshwarpardhi/nodeflow/internal/node"
	"github.com/gyaneshwarpardhi/nodeflow/internal/schema"
)

// PackageID is the id every core type is qualified with.
const PackageID = "core"

// Qualified type ids.
const (
	Constant   = PackageID + ":constant"
	Expression = PackageID + ":expression"
	Gate       = PackageID + ":gate"
	Collect    = PackageID + ":collect"
	Sink       = PackageID + ":sink"
)

const valueLink = "value"

var single = false

// Package returns the core package definition.
func Package() node.Package {
	return node.Package{
		ID:   PackageID,
		Name: "Core",
		LinkTypes: []schema.LinkType{
			{ID: valueLink, Name: "Value", Description: "Any JSON-compatible value."},
		},
		Nodes: []node.Definition{
			{
				Type: schema.NodeType{
					ID:          "constant",
					Name:        "Constant",
					Description: "Emits the \"value\" property.",
					Outputs:     []schema.PortType{{Name: "value", LinkType: valueLink}},
				},
				New: newConstant,
			},
			{
				Type: schema.NodeType{
					ID:          "expression",
					Name:        "Expression",
					Description: "Evaluates the \"expr\" property over inputs.<port> and props.<name>.",
					Inputs: []schema.PortType{
						{Name: "a", LinkType: valueLink, AllowMultiple: &single},
						{Name: "b", LinkType: valueLink, AllowMultiple: &single},
					},
					Outputs: []schema.PortType{{Name: "value", LinkType: valueLink}},
				},
				New: newExpression,
			},
			{
				Type: schema.NodeType{
					ID:          "gate",
					Name:        "Gate",
					Description: "Forwards its input while the \"condition\" property holds.",
					Inputs:      []schema.PortType{{Name: "in", LinkType: valueLink, AllowMultiple: &single}},
					Outputs:     []schema.PortType{{Name: "out", LinkType: valueLink}},
				},
				New: newGate,
			},
			{
				Type: schema.NodeType{
					ID:          "collect",
					Name:        "Collect",
					Description: "Emits every value on \"in\" as a list, in connection order.",
					Inputs:      []schema.PortType{{Name: "in", LinkType: valueLink}},
					Outputs:     []schema.PortType{{Name: "values", LinkType: valueLink}},
				},
				New: newCollect,
			},
			{
				Type: schema.NodeType{
					ID:          "sink",
					Name:        "Sink",
					Description: "Records and logs the values it receives.",
					Inputs:      []schema.PortType{{Name: "in", LinkType: valueLink}},
				},
				New: newSink,
			},
		},
	}
}

// Register adds the core package to reg.
func Register(reg *node.Registry) {
	reg.Register(Package())
}

// -----------------------------------------------------------------------
// constant
// -----------------------------------------------------------------------

type constant struct {
	mu    sync.Mutex
	value any
}

func newConstant(props map[string]any, _ node.Service) (node.Executor, error) {
	c := &constant{}
	return c, c.SetProperties(props)
}

func (c *constant) SetProperties(props map[string]any) error {
	v, ok := props["value"]
	if !ok {
		return fmt.Errorf("property %q is required", "value")
	}
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
	return nil
}

func (c *constant) Execute(context.Context, node.Inputs) (node.Outputs, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return node.Outputs{"value": c.value}, nil
}

// -----------------------------------------------------------------------
// expression
// -----------------------------------------------------------------------

type expression struct {
	mu    sync.Mutex
	ast   expr.Expr
	props map[string]any
}

func newExpression(props map[string]any, _ node.Service) (node.Executor, error) {
	e := &expression{}
	return e, e.SetProperties(props)
}

func (e *expression) SetProperties(props map[string]any) error {
	ast, err := compileProp(props, "expr")
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.ast, e.props = ast, props
	e.mu.Unlock()
	return nil
}

func (e *expression) Execute(_ context.Context, in node.Inputs) (node.Outputs, error) {
	e.mu.Lock()
	ast, props := e.ast, e.props
	e.mu.Unlock()

	v, err := expr.Evaluate(ast, inputVars(in, props))
	if err != nil {
		return nil, err
	}
	return node.Outputs{"value": v}, nil
}

// -----------------------------------------------------------------------
// gate
// -----------------------------------------------------------------------

type gate struct {
	mu   sync.Mutex
	cond expr.Expr
	svc  node.Service
}

func newGate(props map[string]any, svc node.Service) (node.Executor, error) {
	g := &gate{svc: svc}
	return g, g.SetProperties(props)
}

func (g *gate) SetProperties(props map[string]any) error {
	cond, err := compileProp(props, "condition")
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.cond = cond
	g.mu.Unlock()
	return nil
}

// Execute omits "out" while the condition is false, which clears the
// values downstream nodes see.
func (g *gate) Execute(_ context.Context, in node.Inputs) (node.Outputs, error) {
	g.mu.Lock()
	cond := g.cond
	g.mu.Unlock()

	v, ok := in.First("in")
	if !ok {
		g.svc.SetStatus(node.SeverityWarning, "no input")
		return node.Outputs{}, nil
	}
	pass, err := expr.EvaluateBool(cond, expr.Vars{"value": v})
	if err != nil {
		return nil, err
	}
	if !pass {
		g.svc.SetStatus(node.SeverityInfo, "closed")
		return node.Outputs{}, nil
	}
	g.svc.ClearStatus()
	return node.Outputs{"out": v}, nil
}

// -----------------------------------------------------------------------
// collect
// -----------------------------------------------------------------------

type collect struct{}

func newCollect(map[string]any, node.Service) (node.Executor, error) {
	return collect{}, nil
}

func (collect) Execute(_ context.Context, in node.Inputs) (node.Outputs, error) {
	vals := append([]any{}, in["in"]...)
	return node.Outputs{"values": vals}, nil
}

// -----------------------------------------------------------------------
// sink
// -----------------------------------------------------------------------

// SinkNode records what it received. It is exported so callers embedding
// the engine can read results back.
type SinkNode struct {
	mu       sync.Mutex
	svc      node.Service
	label    string
	received []any
	runs     int
}

func newSink(props map[string]any, svc node.Service) (node.Executor, error) {
	label, _ := props["label"].(string)
	if label == "" {
		label = svc.NodeID()
	}
	return &SinkNode{svc: svc, label: label}, nil
}

func (s *SinkNode) Execute(_ context.Context, in node.Inputs) (node.Outputs, error) {
	vals := append([]any{}, in["in"]...)

	s.mu.Lock()
	s.received = vals
	s.runs++
	s.mu.Unlock()

	slog.Info("sink received", "node", s.svc.NodeID(), "label", s.label, "values", vals)
	s.svc.SetStatus(node.SeverityInfo, fmt.Sprintf("%s: %v", s.label, vals))
	return node.Outputs{}, nil
}

// ResetExecution drops what the sink last received.
func (s *SinkNode) ResetExecution(context.Context) error {
	s.mu.Lock()
	s.received = nil
	s.mu.Unlock()
	s.svc.ClearStatus()
	return nil
}

// Received returns the values of the last execution.
func (s *SinkNode) Received() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.received...)
}

// Runs returns how many times the sink executed.
func (s *SinkNode) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// -----------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------

func compileProp(props map[string]any, key string) (expr.Expr, error) {
	src, ok := props[key].(string)
	if !ok || src == "" {
		return nil, fmt.Errorf("property %q must be a non-empty string", key)
	}
	ast, err := expr.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("property %q: %w", key, err)
	}
	return ast, nil
}

// inputVars exposes the first value of each port as inputs.<port>, every
// value as all.<port>, and properties as props.<name>.
func inputVars(in node.Inputs, props map[string]any) expr.Vars {
	first := make(map[string]any, len(in))
	all := make(map[string]any, len(in))
	for port, vals := range in {
		if len(vals) > 0 {
			first[port] = vals[0]
		}
		all[port] = append([]any{}, vals...)
	}
	return expr.Vars{
		"inputs": first,
		"all":    all,
		"props":  maps.Clone(props),
	}
}
