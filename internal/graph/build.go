package graph

import (
	"fmt"

	"github.com/gyaneshwarpardhi/nodeflow/internal/config"
	"github.com/gyaneshwarpardhi/nodeflow/internal/schema"
)

// TypeResolver looks up node type descriptors by qualified id.
type TypeResolver interface {
	NodeType(id string) (*schema.NodeType, bool)
}

// Build constructs a Graph from a validated Design. Nodes are added before
// links, and links in declaration order, so input ordering follows the file.
func Build(d *config.Design, types TypeResolver, opts ...Option) (*Graph, error) {
	g := New(opts...)
	for _, nd := range d.Nodes {
		t, ok := types.NodeType(nd.Type)
		if !ok {
			return nil, fmt.Errorf("node %s: unknown node type %q", nd.ID, nd.Type)
		}
		if err := g.AddNode(nd.ID, t, nd.Properties); err != nil {
			return nil, err
		}
	}
	for _, ld := range d.Links {
		if _, err := g.AddLink(LinkFromDef(ld)); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// LinkFromDef converts a design link, deriving an id from the endpoints
// when none is given.
func LinkFromDef(ld config.LinkDef) Link {
	id := ld.ID
	if id == "" {
		id = fmt.Sprintf("%s.%s->%s.%s", ld.From.Node, ld.From.Port, ld.To.Node, ld.To.Port)
	}
	return Link{
		ID:       id,
		FromNode: ld.From.Node,
		FromPort: ld.From.Port,
		ToNode:   ld.To.Node,
		ToPort:   ld.To.Port,
	}
}
