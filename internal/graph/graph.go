package graph

import (
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/nodeflow/internal/schema"
)

// Node is a vertex of the graph. Relationships to links are kept by id in
// the Graph, never on the node itself.
type Node struct {
	ID         string
	Type       *schema.NodeType
	Properties map[string]any
}

// Link connects an output port of one node to an input port of another.
// Seq orders links by creation so inputs keep their connection order.
type Link struct {
	ID       string `json:"id"`
	FromNode string `json:"from_node"`
	FromPort string `json:"from_port"`
	ToNode   string `json:"to_node"`
	ToPort   string `json:"to_port"`
	LinkType string `json:"link_type"`
	Seq      uint64 `json:"-"`
}

// Graph holds nodes and links in id-keyed maps. All methods are safe for
// concurrent use.
type Graph struct {
	mu      sync.RWMutex
	acyclic bool
	nodes   map[string]*Node
	links   map[string]*Link
	seq     uint64
}

// Option configures a Graph.
type Option func(*Graph)

// WithAcyclic controls whether AddLink rejects cycle-forming edges.
// Graphs are acyclic by default.
func WithAcyclic(acyclic bool) Option {
	return func(g *Graph) { g.acyclic = acyclic }
}

// New allocates an empty Graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		acyclic: true,
		nodes:   make(map[string]*Node),
		links:   make(map[string]*Link),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acyclic reports whether the graph rejects cycles.
func (g *Graph) Acyclic() bool {
	return g.acyclic
}

// AddNode registers a node of the given type.
func (g *Graph) AddNode(id string, t *schema.NodeType, props map[string]any) error {
	if id == "" {
		return structural("add_node", id, ErrInvalid, "empty id")
	}
	if t == nil {
		return structural("add_node", id, ErrInvalid, "nil node type")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; ok {
		return structural("add_node", id, ErrDuplicateID, "")
	}
	g.nodes[id] = &Node{ID: id, Type: t, Properties: CloneProperties(props)}
	return nil
}

// RemoveNode removes a node after removing every link incident to it. The
// removed links are returned in creation order.
func (g *Graph) RemoveNode(id string) ([]*Link, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return nil, structural("remove_node", id, ErrUnknownNode, "")
	}
	var removed []*Link
	for lid, l := range g.links {
		if l.FromNode == id || l.ToNode == id {
			removed = append(removed, l)
			delete(g.links, lid)
		}
	}
	delete(g.nodes, id)
	sortBySeq(removed)
	return removed, nil
}

// AddLink validates and stores a link. The stored copy, with its link type
// and sequence number filled in, is returned.
func (g *Graph) AddLink(l Link) (*Link, error) {
	const op = "add_link"
	if l.ID == "" {
		return nil, structural(op, l.ID, ErrInvalid, "empty id")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.links[l.ID]; ok {
		return nil, structural(op, l.ID, ErrDuplicateID, "")
	}
	from, ok := g.nodes[l.FromNode]
	if !ok {
		return nil, structural(op, l.ID, ErrUnknownNode, "source %q", l.FromNode)
	}
	to, ok := g.nodes[l.ToNode]
	if !ok {
		return nil, structural(op, l.ID, ErrUnknownNode, "destination %q", l.ToNode)
	}
	out, ok := from.Type.Output(l.FromPort)
	if !ok {
		return nil, structural(op, l.ID, ErrUnknownPort, "%s has no output port %q", l.FromNode, l.FromPort)
	}
	in, ok := to.Type.Input(l.ToPort)
	if !ok {
		return nil, structural(op, l.ID, ErrUnknownPort, "%s has no input port %q", l.ToNode, l.ToPort)
	}
	if out.LinkType != in.LinkType {
		return nil, structural(op, l.ID, ErrLinkTypeMismatch, "%s != %s", out.LinkType, in.LinkType)
	}
	for _, existing := range g.links {
		if existing.ToNode != l.ToNode || existing.ToPort != l.ToPort {
			continue
		}
		if existing.FromNode == l.FromNode && existing.FromPort == l.FromPort {
			return nil, structural(op, l.ID, ErrDuplicateLink, "already linked by %q", existing.ID)
		}
		if !in.Multiple() {
			return nil, structural(op, l.ID, ErrPortOccupied, "%s.%s is connected by %q", l.ToNode, l.ToPort, existing.ID)
		}
	}
	if g.acyclic {
		if l.FromNode == l.ToNode {
			return nil, structural(op, l.ID, ErrCycle, "self link on %q", l.FromNode)
		}
		if _, reaches := g.reach(l.ToNode, forward)[l.FromNode]; reaches {
			return nil, structural(op, l.ID, ErrCycle, "%s is downstream of %s", l.FromNode, l.ToNode)
		}
	}

	g.seq++
	stored := l
	stored.LinkType = out.LinkType
	stored.Seq = g.seq
	g.links[l.ID] = &stored
	return &stored, nil
}

// RemoveLink deletes a link and returns it.
func (g *Graph) RemoveLink(id string) (*Link, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.links[id]
	if !ok {
		return nil, structural("remove_link", id, ErrUnknownLink, "")
	}
	delete(g.links, id)
	return l, nil
}

// SetProperties replaces the properties of a node.
func (g *Graph) SetProperties(id string, props map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return structural("set_properties", id, ErrUnknownNode, "")
	}
	n.Properties = CloneProperties(props)
	return nil
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return Node{ID: n.ID, Type: n.Type, Properties: CloneProperties(n.Properties)}, true
}

// Link returns a copy of the link with the given id.
func (g *Graph) Link(id string) (Link, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	l, ok := g.links[id]
	if !ok {
		return Link{}, false
	}
	return *l, true
}

// HasNode reports whether a node exists.
func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// NodeIDs returns all node ids in lexical order.
func (g *Graph) NodeIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Links returns copies of all links in creation order.
func (g *Graph) Links() []Link {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collect(func(*Link) bool { return true })
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// LinkCount returns the number of links.
func (g *Graph) LinkCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.links)
}

// InputLinks returns the links ending at the given input port in
// connection order.
func (g *Graph) InputLinks(id, port string) []Link {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collect(func(l *Link) bool { return l.ToNode == id && l.ToPort == port })
}

// IncomingLinks returns every link ending at the node in connection order.
func (g *Graph) IncomingLinks(id string) []Link {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collect(func(l *Link) bool { return l.ToNode == id })
}

// OutgoingLinks returns every link starting at the node in connection order.
func (g *Graph) OutgoingLinks(id string) []Link {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collect(func(l *Link) bool { return l.FromNode == id })
}

// Producers returns the ids of nodes with a link into id.
func (g *Graph) Producers(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.neighbours(id, backward)
}

// Consumers returns the ids of nodes fed by a link out of id.
func (g *Graph) Consumers(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.neighbours(id, forward)
}

// Upstream returns every node from which id can be reached.
func (g *Graph) Upstream(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.reach(id, backward))
}

// Downstream returns every node reachable from id.
func (g *Graph) Downstream(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.reach(id, forward))
}

type direction bool

const (
	forward  direction = true
	backward direction = false
)

// reach walks links breadth first from start, one frontier at a time, until
// no new node is discovered. start itself is only included when a cycle
// leads back to it. Caller holds g.mu.
func (g *Graph) reach(start string, dir direction) map[string]struct{} {
	seen := make(map[string]struct{})
	frontier := map[string]struct{}{start: {}}
	for len(frontier) > 0 {
		next := make(map[string]struct{})
		for _, l := range g.links {
			src, dst := l.FromNode, l.ToNode
			if dir == backward {
				src, dst = dst, src
			}
			if _, ok := frontier[src]; !ok {
				continue
			}
			if _, ok := seen[dst]; ok {
				continue
			}
			seen[dst] = struct{}{}
			next[dst] = struct{}{}
		}
		frontier = next
	}
	return seen
}

// neighbours returns the direct neighbours of id. Caller holds g.mu.
func (g *Graph) neighbours(id string, dir direction) []string {
	set := make(map[string]struct{})
	for _, l := range g.links {
		switch {
		case dir == forward && l.FromNode == id:
			set[l.ToNode] = struct{}{}
		case dir == backward && l.ToNode == id:
			set[l.FromNode] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// collect copies matching links in creation order. Caller holds g.mu.
func (g *Graph) collect(match func(*Link) bool) []Link {
	var ptrs []*Link
	for _, l := range g.links {
		if match(l) {
			ptrs = append(ptrs, l)
		}
	}
	sortBySeq(ptrs)
	out := make([]Link, len(ptrs))
	for i, l := range ptrs {
		out[i] = *l
	}
	return out
}

func sortBySeq(links []*Link) {
	sort.Slice(links, func(i, j int) bool { return links[i].Seq < links[j].Seq })
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
