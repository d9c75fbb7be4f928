package config

import (
	"fmt"
	"strings"
)

// Validate checks the config for:
//   - Required fields
//   - Duplicate node and link ids
//   - Links whose endpoints name undeclared nodes
//
// Port names, link types and cycles are checked when the graph is built.
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	if cfg.Engine.ExecutionLimit < 1 {
		errs = append(errs, fmt.Sprintf("engine: execution_limit must be at least 1, got %d", cfg.Engine.ExecutionLimit))
	}
	if cfg.Engine.NodeTimeoutMs < 0 {
		errs = append(errs, fmt.Sprintf("engine: node_timeout_ms must not be negative, got %d", cfg.Engine.NodeTimeoutMs))
	}
	if cfg.Engine.CommandQueue < 0 {
		errs = append(errs, fmt.Sprintf("engine: command_queue must not be negative, got %d", cfg.Engine.CommandQueue))
	}

	validateDesign(&cfg.Design, &errs)

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateDesign runs the design checks of Validate on their own.
func ValidateDesign(d *Design) error {
	var errs []string
	validateDesign(d, &errs)
	if len(errs) > 0 {
		return fmt.Errorf("design validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateDesign(d *Design, errs *[]string) {
	nodes := make(map[string]int, len(d.Nodes))
	for i, n := range d.Nodes {
		if n.ID == "" {
			*errs = append(*errs, fmt.Sprintf("design.nodes[%d]: id is required", i))
			continue
		}
		if prev, ok := nodes[n.ID]; ok {
			*errs = append(*errs, fmt.Sprintf("duplicate node id %q (first seen at nodes[%d], again at nodes[%d])", n.ID, prev, i))
		} else {
			nodes[n.ID] = i
		}
		if n.Type == "" {
			*errs = append(*errs, fmt.Sprintf("node %s: type is required", n.ID))
		}
	}

	links := make(map[string]int, len(d.Links))
	for i, l := range d.Links {
		loc := fmt.Sprintf("design.links[%d]", i)
		if l.ID != "" {
			loc = "link " + l.ID
			if prev, ok := links[l.ID]; ok {
				*errs = append(*errs, fmt.Sprintf("duplicate link id %q (first seen at links[%d], again at links[%d])", l.ID, prev, i))
			} else {
				links[l.ID] = i
			}
		}
		for _, end := range []struct {
			name string
			ep   Endpoint
		}{{"from", l.From}, {"to", l.To}} {
			switch {
			case end.ep.Node == "" || end.ep.Port == "":
				*errs = append(*errs, fmt.Sprintf("%s: %s.node and %s.port are required", loc, end.name, end.name))
			default:
				if _, ok := nodes[end.ep.Node]; !ok {
					*errs = append(*errs, fmt.Sprintf("%s: %s references unknown node %q", loc, end.name, end.ep.Node))
				}
			}
		}
	}
}
