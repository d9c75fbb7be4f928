package node

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/nodeflow/internal/schema"
)

type nopService struct{ id string }

func (s nopService) NodeID() string             { return s.id }
func (s nopService) RequestExecution()          {}
func (s nopService) SetStatus(Severity, string) {}
func (s nopService) ClearStatus()               {}

type execFunc func(ctx context.Context, in Inputs) (Outputs, error)

func (f execFunc) Execute(ctx context.Context, in Inputs) (Outputs, error) { return f(ctx, in) }

// full implements every optional interface.
type full struct {
	props  map[string]any
	resets int
	err    error
	panic  any
}

func (f *full) Execute(context.Context, Inputs) (Outputs, error) {
	if f.panic != nil {
		panic(f.panic)
	}
	return Outputs{"out": f.props["v"]}, f.err
}

func (f *full) ResetExecution(context.Context) error {
	f.resets++
	return f.err
}

func (f *full) SetProperties(props map[string]any) error {
	if f.panic != nil {
		panic(f.panic)
	}
	f.props = props
	return f.err
}

func TestWrapperExecute(t *testing.T) {
	w := NewWrapper("n1", "t:x", execFunc(func(_ context.Context, in Inputs) (Outputs, error) {
		v, _ := in.First("in")
		return Outputs{"out": v}, nil
	}))

	out, err := w.Execute(context.Background(), Inputs{"in": {1, 2}})
	require.NoError(t, err)
	assert.Equal(t, Outputs{"out": 1}, out)
	assert.Equal(t, "n1", w.ID())
	assert.Equal(t, "t:x", w.TypeID())
}

func TestWrapperConvertsErrorsAndPanics(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		impl      *full
		wantCause error
		panicked  bool
	}{
		{"returned error", &full{err: boom}, boom, false},
		{"panic with error", &full{panic: boom}, boom, true},
		{"panic with value", &full{panic: "bad"}, nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := NewWrapper("n1", "t:x", tc.impl)
			out, err := w.Execute(context.Background(), nil)
			assert.Nil(t, out)

			var ee *ExecutionError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, "n1", ee.NodeID)
			assert.Equal(t, "execute", ee.Op)
			assert.Equal(t, tc.panicked, ee.Panicked)
			if tc.panicked {
				assert.NotEmpty(t, ee.Stack)
				assert.Contains(t, err.Error(), "panicked")
			}
			if tc.wantCause != nil {
				assert.ErrorIs(t, err, tc.wantCause)
			}
		})
	}
}

func TestWrapperOptionalInterfaces(t *testing.T) {
	plain := NewWrapper("p", "t:x", execFunc(func(context.Context, Inputs) (Outputs, error) { return nil, nil }))
	assert.NoError(t, plain.ResetExecution(context.Background()))
	applied, err := plain.SetProperties(map[string]any{"v": 1})
	assert.False(t, applied)
	assert.NoError(t, err)

	impl := &full{}
	w := NewWrapper("f", "t:x", impl)
	require.NoError(t, w.ResetExecution(context.Background()))
	assert.Equal(t, 1, impl.resets)

	props := map[string]any{"v": 7}
	applied, err = w.SetProperties(props)
	assert.True(t, applied)
	require.NoError(t, err)
	props["v"] = 8
	assert.Equal(t, 7, impl.props["v"], "implementation must get its own copy")

	impl.err = errors.New("bad props")
	applied, err = w.SetProperties(props)
	assert.True(t, applied)
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "configure", ee.Op)

	err = w.ResetExecution(context.Background())
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "reset", ee.Op)
}

func TestInstantiate(t *testing.T) {
	var gotID string
	w, err := Instantiate("n1", "t:x", func(props map[string]any, svc Service) (Executor, error) {
		gotID = svc.NodeID()
		return &full{props: props}, nil
	}, map[string]any{"v": 1}, nopService{id: "n1"})
	require.NoError(t, err)
	assert.Equal(t, "n1", gotID)
	out, err := w.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out["out"])

	_, err = Instantiate("n2", "t:x", func(map[string]any, Service) (Executor, error) {
		return nil, nil
	}, nil, nopService{id: "n2"})
	assert.ErrorContains(t, err, "factory returned nil")

	_, err = Instantiate("n3", "t:x", func(map[string]any, Service) (Executor, error) {
		panic("factory exploded")
	}, nil, nopService{id: "n3"})
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.True(t, ee.Panicked)
	assert.Equal(t, "instantiate", ee.Op)
}

func testPackage(id string, types ...string) Package {
	p := Package{
		ID:        id,
		LinkTypes: []schema.LinkType{{ID: "v", Name: "Value"}},
	}
	for _, tid := range types {
		p.Nodes = append(p.Nodes, Definition{
			Type: schema.NodeType{
				ID:      tid,
				Inputs:  []schema.PortType{{Name: "in", LinkType: "v"}},
				Outputs: []schema.PortType{{Name: "out", LinkType: "v"}},
			},
			New: func(map[string]any, Service) (Executor, error) { return &full{}, nil },
		})
	}
	return p
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(testPackage("pkg", "b", "a"))

	assert.Equal(t, []string{"pkg:a", "pkg:b"}, reg.Types())

	_, err := reg.Get("pkg:a")
	require.NoError(t, err)

	_, err = reg.Get("pkg:zzz")
	assert.ErrorIs(t, err, ErrUnknownType)

	nt, ok := reg.NodeType("pkg:a")
	require.True(t, ok)
	assert.Equal(t, "pkg", nt.Package)
	assert.Equal(t, "pkg:v", nt.Inputs[0].LinkType)
	assert.Equal(t, schema.Input, nt.Inputs[0].Direction)
	assert.Equal(t, schema.Output, nt.Outputs[0].Direction)
}

func TestRegistryPanicsOnMisconfiguration(t *testing.T) {
	reg := NewRegistry()
	reg.Register(testPackage("pkg", "a"))

	assert.Panics(t, func() { reg.Register(testPackage("pkg", "a")) }, "duplicate type")
	assert.Panics(t, func() {
		reg.Register(Package{ID: "bad", Nodes: []Definition{{Type: schema.NodeType{ID: "x"}}}})
	}, "missing factory")
	assert.Panics(t, func() {
		p := testPackage("other", "y")
		p.LinkTypes = nil
		reg.Register(p)
	}, "unknown link type")
}
