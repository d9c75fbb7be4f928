package node

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/nodeflow/internal/schema"
)

// ErrUnknownType is returned for a node type id no package registered.
var ErrUnknownType = errors.New("unknown node type")

// Registry maps qualified node type ids to their factories. It owns the
// Schema the descriptors are loaded into.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu        sync.RWMutex
	schema    *schema.Schema
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		schema:    schema.New(),
		factories: make(map[string]Factory),
	}
}

// Register loads a package. Panics on a duplicate package or type to
// surface misconfiguration early.
func (r *Registry) Register(p Package) {
	if err := r.register(p); err != nil {
		panic(fmt.Sprintf("node registry: %v", err))
	}
}

func (r *Registry) register(p Package) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sp := schema.Package{ID: p.ID, Name: p.Name, LinkTypes: p.LinkTypes}
	for _, d := range p.Nodes {
		if d.New == nil {
			return fmt.Errorf("package %q: node type %q has no factory", p.ID, d.Type.ID)
		}
		qid := schema.QualifiedID(p.ID, d.Type.ID)
		if _, exists := r.factories[qid]; exists {
			return fmt.Errorf("duplicate node type %q", qid)
		}
		sp.NodeTypes = append(sp.NodeTypes, d.Type)
	}
	if err := r.schema.Load(sp); err != nil {
		return err
	}
	for _, d := range p.Nodes {
		r.factories[schema.QualifiedID(p.ID, d.Type.ID)] = d.New
	}
	return nil
}

// Get returns the factory for the given qualified type id.
func (r *Registry) Get(typeID string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typeID]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownType, typeID)
	}
	return f, nil
}

// NodeType returns the descriptor for a qualified type id.
func (r *Registry) NodeType(id string) (*schema.NodeType, bool) {
	return r.schema.NodeType(id)
}

// Schema returns the schema holding every registered descriptor.
func (r *Registry) Schema() *schema.Schema {
	return r.schema
}

// Types returns all registered type ids, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
