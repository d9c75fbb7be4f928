package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Direction tells whether a port consumes or produces values.
type Direction string

const (
	Input  Direction = "input"
	Output Direction = "output"
)

// LinkType describes a kind of value that may travel along a link.
type LinkType struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// PortType is a named slot on a node type.
type PortType struct {
	Name      string    `yaml:"name" json:"name"`
	Direction Direction `yaml:"-" json:"direction"`
	LinkType  string    `yaml:"link_type" json:"link_type"`
	// AllowMultiple is only meaningful for inputs. Nil means true.
	AllowMultiple *bool `yaml:"allow_multiple_connections,omitempty" json:"allow_multiple_connections,omitempty"`
}

// Multiple reports whether more than one link may end at this port.
func (p PortType) Multiple() bool {
	return p.AllowMultiple == nil || *p.AllowMultiple
}

// NodeType is the descriptor of a node kind. ID is qualified once the
// type belongs to a Schema.
type NodeType struct {
	ID          string     `json:"id"`
	Package     string     `json:"package"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Inputs      []PortType `json:"inputs"`
	Outputs     []PortType `json:"outputs"`
}

// Input returns the input port with the given name.
func (t *NodeType) Input(name string) (PortType, bool) {
	return findPort(t.Inputs, name)
}

// Output returns the output port with the given name.
func (t *NodeType) Output(name string) (PortType, bool) {
	return findPort(t.Outputs, name)
}

func findPort(ports []PortType, name string) (PortType, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}
	return PortType{}, false
}

// Package groups link and node types under one id.
type Package struct {
	ID        string
	Name      string
	LinkTypes []LinkType
	NodeTypes []NodeType
}

// QualifiedID joins a package id and a local type id.
func QualifiedID(pkg, id string) string {
	return pkg + ":" + id
}

// SplitID splits a qualified id into package and local parts.
func SplitID(qualified string) (pkg, id string, ok bool) {
	return strings.Cut(qualified, ":")
}

// SchemaError reports an invalid package definition.
type SchemaError struct {
	Package string
	Reason  string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: package %q: %s", e.Package, e.Reason)
}

// Schema holds every loaded package, indexed by qualified ids.
// Safe for concurrent reads; packages are normally added at startup.
type Schema struct {
	mu        sync.RWMutex
	packages  map[string]*Package
	nodeTypes map[string]*NodeType
	linkTypes map[string]*LinkType
}

// New allocates an empty Schema.
func New() *Schema {
	return &Schema{
		packages:  make(map[string]*Package),
		nodeTypes: make(map[string]*NodeType),
		linkTypes: make(map[string]*LinkType),
	}
}

// Load validates a package and adds its types. Loading the same package id
// twice is a no-op.
func (s *Schema) Load(pkg Package) error {
	if pkg.ID == "" || strings.Contains(pkg.ID, ":") {
		return &SchemaError{Package: pkg.ID, Reason: "package id must be non-empty and must not contain ':'"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.packages[pkg.ID]; ok {
		return nil
	}

	links := make(map[string]*LinkType, len(pkg.LinkTypes))
	for i := range pkg.LinkTypes {
		lt := pkg.LinkTypes[i]
		if lt.ID == "" {
			return &SchemaError{Package: pkg.ID, Reason: fmt.Sprintf("link_types[%d]: id is required", i)}
		}
		lt.ID = QualifiedID(pkg.ID, lt.ID)
		if _, dup := links[lt.ID]; dup {
			return &SchemaError{Package: pkg.ID, Reason: fmt.Sprintf("duplicate link type %q", lt.ID)}
		}
		links[lt.ID] = &lt
	}

	nodes := make(map[string]*NodeType, len(pkg.NodeTypes))
	for i := range pkg.NodeTypes {
		nt := pkg.NodeTypes[i]
		if nt.ID == "" {
			return &SchemaError{Package: pkg.ID, Reason: fmt.Sprintf("node_types[%d]: id is required", i)}
		}
		nt.ID = QualifiedID(pkg.ID, nt.ID)
		nt.Package = pkg.ID
		if _, dup := nodes[nt.ID]; dup {
			return &SchemaError{Package: pkg.ID, Reason: fmt.Sprintf("duplicate node type %q", nt.ID)}
		}
		var err error
		if nt.Inputs, err = s.qualifyPorts(pkg.ID, nt.ID, Input, nt.Inputs, links); err != nil {
			return err
		}
		if nt.Outputs, err = s.qualifyPorts(pkg.ID, nt.ID, Output, nt.Outputs, links); err != nil {
			return err
		}
		nodes[nt.ID] = &nt
	}

	p := pkg
	s.packages[pkg.ID] = &p
	for id, lt := range links {
		s.linkTypes[id] = lt
	}
	for id, nt := range nodes {
		s.nodeTypes[id] = nt
	}
	return nil
}

// qualifyPorts resolves each port's link type against the package being
// loaded first, then against already loaded packages. Caller holds s.mu.
func (s *Schema) qualifyPorts(pkgID, typeID string, dir Direction, ports []PortType, local map[string]*LinkType) ([]PortType, error) {
	out := make([]PortType, 0, len(ports))
	seen := make(map[string]struct{}, len(ports))
	for _, p := range ports {
		if p.Name == "" {
			return nil, &SchemaError{Package: pkgID, Reason: fmt.Sprintf("%s: %s port without a name", typeID, dir)}
		}
		if _, dup := seen[p.Name]; dup {
			return nil, &SchemaError{Package: pkgID, Reason: fmt.Sprintf("%s: duplicate %s port %q", typeID, dir, p.Name)}
		}
		seen[p.Name] = struct{}{}

		lt := p.LinkType
		if _, _, qualified := SplitID(lt); !qualified {
			lt = QualifiedID(pkgID, lt)
		}
		_, inPkg := local[lt]
		_, loaded := s.linkTypes[lt]
		if !inPkg && !loaded {
			return nil, &SchemaError{Package: pkgID, Reason: fmt.Sprintf("%s: port %q uses unknown link type %q", typeID, p.Name, p.LinkType)}
		}
		p.LinkType = lt
		p.Direction = dir
		out = append(out, p)
	}
	return out, nil
}

// NodeType returns the node type with the given qualified id.
func (s *Schema) NodeType(id string) (*NodeType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nt, ok := s.nodeTypes[id]
	return nt, ok
}

// LinkType returns the link type with the given qualified id.
func (s *Schema) LinkType(id string) (*LinkType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lt, ok := s.linkTypes[id]
	return lt, ok
}

// NodeTypes returns all node types sorted by id.
func (s *Schema) NodeTypes() []*NodeType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*NodeType, 0, len(s.nodeTypes))
	for _, nt := range s.nodeTypes {
		out = append(out, nt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
