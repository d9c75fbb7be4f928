package engine_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/nodeflow/internal/config"
	"github.com/gyaneshwarpardhi/nodeflow/internal/engine"
	"github.com/gyaneshwarpardhi/nodeflow/internal/node"
	"github.com/gyaneshwarpardhi/nodeflow/internal/schema"
)

const probeType = "t:probe"

// behaviour overrides what a probe does when executed.
type behaviour func(ctx context.Context, in node.Inputs, svc node.Service) (node.Outputs, error)

// harness runs an engine over "probe" nodes that record every call.
type harness struct {
	t   *testing.T
	eng *engine.Engine

	mu         sync.Mutex
	behaviours map[string]behaviour
	runs       []string
	inputs     map[string][]node.Inputs
	resets     map[string]int
	active     map[string]int
	total      int
	maxTotal   int
	overlap    bool
	states     map[string][]string
	idles      int
}

func newHarness(t *testing.T, conf config.EngineConf) *harness {
	t.Helper()
	h := &harness{
		t:          t,
		behaviours: make(map[string]behaviour),
		inputs:     make(map[string][]node.Inputs),
		resets:     make(map[string]int),
		active:     make(map[string]int),
		states:     make(map[string][]string),
	}

	single := false
	reg := node.NewRegistry()
	reg.Register(node.Package{
		ID:        "t",
		LinkTypes: []schema.LinkType{{ID: "v", Name: "Value"}},
		Nodes: []node.Definition{{
			Type: schema.NodeType{
				ID: "probe",
				Inputs: []schema.PortType{
					{Name: "in", LinkType: "v"},
					{Name: "x", LinkType: "v", AllowMultiple: &single},
				},
				Outputs: []schema.PortType{
					{Name: "out", LinkType: "v"},
					{Name: "alt", LinkType: "v"},
				},
			},
			New: func(_ map[string]any, svc node.Service) (node.Executor, error) {
				return &probe{h: h, svc: svc}, nil
			},
		}},
	})

	obs := engine.ObserverFuncs{
		StateChanged: func(id string, s engine.State) {
			h.mu.Lock()
			h.states[id] = append(h.states[id], s.String())
			h.mu.Unlock()
		},
		Idle: func() {
			h.mu.Lock()
			h.idles++
			h.mu.Unlock()
		},
	}
	h.eng = engine.New(context.Background(), reg, conf, engine.WithObserver(obs))
	t.Cleanup(h.eng.Shutdown)
	return h
}

type probe struct {
	h   *harness
	svc node.Service
}

func (p *probe) Execute(ctx context.Context, in node.Inputs) (node.Outputs, error) {
	id := p.svc.NodeID()
	fn := p.h.enter(id, in)
	defer p.h.leave(id)
	if fn != nil {
		return fn(ctx, in, p.svc)
	}
	return echo(id, in), nil
}

func (p *probe) ResetExecution(context.Context) error {
	p.h.mu.Lock()
	p.h.resets[p.svc.NodeID()]++
	p.h.mu.Unlock()
	return nil
}

// echo is the default output: the node id followed by its "in" values.
func echo(id string, in node.Inputs) node.Outputs {
	return node.Outputs{"out": fmt.Sprintf("%s%v", id, in["in"])}
}

func (h *harness) enter(id string, in node.Inputs) behaviour {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, id)
	h.inputs[id] = append(h.inputs[id], in)
	h.active[id]++
	if h.active[id] > 1 {
		h.overlap = true
	}
	h.total++
	if h.total > h.maxTotal {
		h.maxTotal = h.total
	}
	return h.behaviours[id]
}

func (h *harness) leave(id string) {
	h.mu.Lock()
	h.active[id]--
	h.total--
	h.mu.Unlock()
}

func (h *harness) behave(id string, fn behaviour) {
	h.mu.Lock()
	h.behaviours[id] = fn
	h.mu.Unlock()
}

func (h *harness) runsOf(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.runs {
		if r == id {
			n++
		}
	}
	return n
}

func (h *harness) allRuns() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.runs...)
}

func (h *harness) inputsOf(id string, run int) node.Inputs {
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Greater(h.t, len(h.inputs[id]), run, "node %s ran fewer than %d times", id, run+1)
	return h.inputs[id][run]
}

func (h *harness) resetsOf(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resets[id]
}

func (h *harness) statesOf(id string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.states[id]...)
}

func (h *harness) load(d *config.Design) {
	h.t.Helper()
	require.NoError(h.t, h.eng.LoadDesign(d))
}

func (h *harness) wait() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.eng.Wait(ctx)
}

func (h *harness) node(id string) engine.NodeSnapshot {
	h.t.Helper()
	snap, err := h.eng.Node(id)
	require.NoError(h.t, err)
	return snap
}

func (h *harness) eventually(id string, want engine.State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		snap, err := h.eng.Node(id)
		return err == nil && snap.State == want
	}, 5*time.Second, 5*time.Millisecond, "node %s never reached %s", id, want)
}

// design builds a probe design. Links are written "A->B", meaning A.out to
// B.in; either side may name a port explicitly, as in "A.alt->B.x".
func design(ids []string, links ...string) *config.Design {
	d := &config.Design{}
	for _, id := range ids {
		d.Nodes = append(d.Nodes, config.NodeDef{ID: id, Type: probeType})
	}
	for _, l := range links {
		from, to, _ := strings.Cut(l, "->")
		d.Links = append(d.Links, config.LinkDef{
			ID:   l,
			From: endpoint(from, "out"),
			To:   endpoint(to, "in"),
		})
	}
	return d
}

func executed(d *config.Design) *config.Design {
	for i := range d.Nodes {
		d.Nodes[i].Executed = true
	}
	return d
}

func endpoint(s, port string) config.Endpoint {
	n, p, ok := strings.Cut(s, ".")
	if ok {
		port = p
	}
	return config.Endpoint{Node: n, Port: port}
}

// blockUntil returns a behaviour that waits for release before echoing.
func blockUntil(release <-chan struct{}) behaviour {
	return func(ctx context.Context, in node.Inputs, svc node.Service) (node.Outputs, error) {
		select {
		case <-release:
			return echo(svc.NodeID(), in), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
