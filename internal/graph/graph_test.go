package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/nodeflow/internal/config"
	"github.com/gyaneshwarpardhi/nodeflow/internal/schema"
)

var (
	multi  = true
	single = false
)

// op has a multi-connection input "in", a single-connection input "one",
// and outputs "out" and "txt" of different link types.
var op = &schema.NodeType{
	ID: "t:op",
	Inputs: []schema.PortType{
		{Name: "in", LinkType: "t:num", AllowMultiple: &multi},
		{Name: "one", LinkType: "t:num", AllowMultiple: &single},
	},
	Outputs: []schema.PortType{
		{Name: "out", LinkType: "t:num"},
		{Name: "txt", LinkType: "t:text"},
	},
}

type types map[string]*schema.NodeType

func (t types) NodeType(id string) (*schema.NodeType, bool) {
	nt, ok := t[id]
	return nt, ok
}

func newGraph(t *testing.T, ids ...string) *Graph {
	t.Helper()
	g := New()
	for _, id := range ids {
		require.NoError(t, g.AddNode(id, op, nil))
	}
	return g
}

func link(id, from, to string) Link {
	return Link{ID: id, FromNode: from, FromPort: "out", ToNode: to, ToPort: "in"}
}

func TestAddNode(t *testing.T) {
	g := newGraph(t, "a")

	props := map[string]any{"k": 1}
	require.NoError(t, g.AddNode("b", op, props))
	props["k"] = 2
	n, ok := g.Node("b")
	require.True(t, ok)
	assert.Equal(t, 1, n.Properties["k"], "properties are copied")

	err := g.AddNode("a", op, nil)
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.True(t, IsStructural(err))

	assert.ErrorIs(t, g.AddNode("", op, nil), ErrInvalid)
	assert.ErrorIs(t, g.AddNode("c", nil, nil), ErrInvalid)

	assert.Equal(t, []string{"a", "b"}, g.NodeIDs())
	assert.Equal(t, 2, g.NodeCount())
}

func TestAddLinkValidation(t *testing.T) {
	tests := []struct {
		name string
		link Link
		want error
	}{
		{"empty id", Link{FromNode: "a", FromPort: "out", ToNode: "b", ToPort: "in"}, ErrInvalid},
		{"duplicate id", link("ab", "a", "c"), ErrDuplicateID},
		{"unknown source", link("x", "ghost", "b"), ErrUnknownNode},
		{"unknown destination", link("x", "a", "ghost"), ErrUnknownNode},
		{"unknown output", Link{ID: "x", FromNode: "a", FromPort: "nope", ToNode: "c", ToPort: "in"}, ErrUnknownPort},
		{"input used as output", Link{ID: "x", FromNode: "a", FromPort: "in", ToNode: "c", ToPort: "in"}, ErrUnknownPort},
		{"unknown input", Link{ID: "x", FromNode: "a", FromPort: "out", ToNode: "c", ToPort: "nope"}, ErrUnknownPort},
		{"type mismatch", Link{ID: "x", FromNode: "a", FromPort: "txt", ToNode: "c", ToPort: "in"}, ErrLinkTypeMismatch},
		{"same ports twice", link("x", "a", "b"), ErrDuplicateLink},
		{"single input occupied", Link{ID: "x", FromNode: "c", FromPort: "out", ToNode: "b", ToPort: "one"}, ErrPortOccupied},
		{"self link", link("x", "a", "a"), ErrCycle},
		{"back edge", link("x", "b", "a"), ErrCycle},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := newGraph(t, "a", "b", "c")
			_, err := g.AddLink(link("ab", "a", "b"))
			require.NoError(t, err)
			_, err = g.AddLink(Link{ID: "ab1", FromNode: "a", FromPort: "out", ToNode: "b", ToPort: "one"})
			require.NoError(t, err)

			_, err = g.AddLink(tc.link)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)

			var se *StructuralError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "add_link", se.Op)
			assert.Equal(t, 2, g.LinkCount(), "graph must be unchanged")
		})
	}
}

func TestAddLinkStoresTypeAndOrder(t *testing.T) {
	g := newGraph(t, "a", "b", "c")
	for _, l := range []Link{link("l2", "b", "c"), link("l1", "a", "c")} {
		_, err := g.AddLink(l)
		require.NoError(t, err)
	}

	in := g.InputLinks("c", "in")
	require.Len(t, in, 2)
	assert.Equal(t, "l2", in[0].ID, "connection order, not id order")
	assert.Equal(t, "l1", in[1].ID)
	assert.Equal(t, "t:num", in[0].LinkType)

	stored, ok := g.Link("l1")
	require.True(t, ok)
	assert.Greater(t, stored.Seq, in[0].Seq)
}

func TestCyclesWhenAllowed(t *testing.T) {
	g := New(WithAcyclic(false))
	for _, id := range []string{"a", "b"} {
		require.NoError(t, g.AddNode(id, op, nil))
	}
	_, err := g.AddLink(link("ab", "a", "b"))
	require.NoError(t, err)
	_, err = g.AddLink(link("ba", "b", "a"))
	require.NoError(t, err)
	assert.False(t, g.Acyclic())

	assert.Equal(t, []string{"a", "b"}, g.Downstream("a"), "a reaches itself through the cycle")
	assert.Equal(t, []string{"a", "b"}, g.Upstream("b"))
}

func TestReachability(t *testing.T) {
	// a -> b -> d, a -> c -> d, e isolated
	g := newGraph(t, "a", "b", "c", "d", "e")
	for _, l := range []Link{link("ab", "a", "b"), link("ac", "a", "c"), link("bd", "b", "d"), link("cd", "c", "d")} {
		_, err := g.AddLink(l)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"b", "c", "d"}, g.Downstream("a"))
	assert.Equal(t, []string{"a", "b", "c"}, g.Upstream("d"))
	assert.Empty(t, g.Downstream("e"))
	assert.Empty(t, g.Upstream("a"))
	assert.Equal(t, []string{"b", "c"}, g.Consumers("a"))
	assert.Equal(t, []string{"b", "c"}, g.Producers("d"))

	out := g.OutgoingLinks("a")
	require.Len(t, out, 2)
	assert.Equal(t, "ab", out[0].ID)
	assert.Len(t, g.IncomingLinks("d"), 2)
}

func TestRemoveNodeCascades(t *testing.T) {
	g := newGraph(t, "a", "b", "c")
	for _, l := range []Link{link("ab", "a", "b"), link("bc", "b", "c"), link("ac", "a", "c")} {
		_, err := g.AddLink(l)
		require.NoError(t, err)
	}

	removed, err := g.RemoveNode("b")
	require.NoError(t, err)
	require.Len(t, removed, 2)
	assert.Equal(t, "ab", removed[0].ID)
	assert.Equal(t, "bc", removed[1].ID)
	assert.False(t, g.HasNode("b"))
	assert.Equal(t, 1, g.LinkCount())

	_, err = g.RemoveNode("b")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestRemoveLinkAndSetProperties(t *testing.T) {
	g := newGraph(t, "a", "b")
	_, err := g.AddLink(link("ab", "a", "b"))
	require.NoError(t, err)

	l, err := g.RemoveLink("ab")
	require.NoError(t, err)
	assert.Equal(t, "a", l.FromNode)
	_, err = g.RemoveLink("ab")
	assert.ErrorIs(t, err, ErrUnknownLink)

	require.NoError(t, g.SetProperties("a", map[string]any{"x": 1}))
	n, _ := g.Node("a")
	assert.Equal(t, map[string]any{"x": 1}, n.Properties)
	assert.ErrorIs(t, g.SetProperties("ghost", nil), ErrUnknownNode)
}

func TestNodePropertiesAreDeepCopies(t *testing.T) {
	g := newGraph(t, "a")
	props := map[string]any{
		"limits": map[string]any{"max": 3},
		"tags":   []any{"x", map[string]any{"k": "v"}},
	}
	require.NoError(t, g.SetProperties("a", props))

	props["limits"].(map[string]any)["max"] = 4
	n, _ := g.Node("a")
	assert.Equal(t, 3, n.Properties["limits"].(map[string]any)["max"])

	n.Properties["tags"].([]any)[1].(map[string]any)["k"] = "changed"
	n.Properties["tags"].([]any)[0] = "y"
	again, _ := g.Node("a")
	assert.Equal(t, []any{"x", map[string]any{"k": "v"}}, again.Properties["tags"])

	assert.Nil(t, CloneProperties(nil))
}

func TestBuild(t *testing.T) {
	d := &config.Design{
		Nodes: []config.NodeDef{
			{ID: "a", Type: "t:op"},
			{ID: "b", Type: "t:op", Properties: map[string]any{"k": "v"}},
		},
		Links: []config.LinkDef{
			{From: config.Endpoint{Node: "a", Port: "out"}, To: config.Endpoint{Node: "b", Port: "in"}},
		},
	}
	g, err := Build(d, types{"t:op": op})
	require.NoError(t, err)
	assert.Equal(t, 2, g.NodeCount())
	links := g.Links()
	require.Len(t, links, 1)
	assert.Equal(t, "a.out->b.in", links[0].ID)

	d.Nodes[1].Type = "t:missing"
	_, err = Build(d, types{"t:op": op})
	assert.ErrorContains(t, err, "unknown node type")

	d.Nodes[1].Type = "t:op"
	d.Links = append(d.Links, config.LinkDef{
		ID: "back", From: config.Endpoint{Node: "b", Port: "out"}, To: config.Endpoint{Node: "a", Port: "in"},
	})
	_, err = Build(d, types{"t:op": op})
	assert.ErrorIs(t, err, ErrCycle)

	g, err = Build(d, types{"t:op": op}, WithAcyclic(false))
	require.NoError(t, err)
	assert.Equal(t, 2, g.LinkCount())
}
