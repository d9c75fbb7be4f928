package engine

import (
	"fmt"

	"github.com/gyaneshwarpardhi/nodeflow/internal/config"
	"github.com/gyaneshwarpardhi/nodeflow/internal/graph"
	"github.com/gyaneshwarpardhi/nodeflow/internal/metrics"
	"github.com/gyaneshwarpardhi/nodeflow/internal/node"
)

// newRecord instantiates the implementation for a node.
func (e *Engine) newRecord(id, typeID string, props map[string]any) (*nodeRecord, error) {
	f, err := e.reg.Get(typeID)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", id, err)
	}
	rec := &nodeRecord{factory: f}
	rec.svc = &service{e: e, id: id, rec: rec}
	w, err := node.Instantiate(id, typeID, f, props, rec.svc)
	if err != nil {
		return nil, err
	}
	rec.wrapper = w
	return rec, nil
}

func (e *Engine) addNode(spec NodeSpec) error {
	t, ok := e.reg.NodeType(spec.Type)
	if !ok {
		return fmt.Errorf("node %s: %w %q", spec.ID, node.ErrUnknownType, spec.Type)
	}
	if err := e.graph.AddNode(spec.ID, t, spec.Properties); err != nil {
		return err
	}
	rec, err := e.newRecord(spec.ID, spec.Type, spec.Properties)
	if err != nil {
		_, _ = e.graph.RemoveNode(spec.ID)
		return err
	}
	e.nodes[spec.ID] = rec
	e.updateGauges()
	e.log.Info("node added", "node", spec.ID, "type", spec.Type)

	if spec.Executed {
		rec.state = Executed
		e.notifyState(spec.ID, Executed)
		return nil
	}
	e.notifyState(spec.ID, Pending)
	e.request(spec.ID)
	return nil
}

func (e *Engine) removeNode(id string) error {
	rec, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("remove node %s: %w", id, ErrUnknownNode)
	}
	consumers := e.graph.Consumers(id)
	links, err := e.graph.RemoveNode(id)
	if err != nil {
		return err
	}
	for _, l := range links {
		e.cache.Delete(l.ID)
	}
	delete(e.nodes, id)
	e.updateGauges()
	e.log.Info("node removed", "node", id, "links", len(links))

	e.notifyState(id, Clear)
	if rec.status.Severity != node.SeverityClear {
		e.notifyStatus(id, node.SeverityClear, "")
	}
	for _, c := range consumers {
		if c != id {
			e.invalidate(c)
		}
	}
	return nil
}

func (e *Engine) addLink(l graph.Link) (*graph.Link, error) {
	stored, err := e.graph.AddLink(l)
	if err != nil {
		return nil, err
	}
	e.cache.Clear(stored.ID)
	if from := e.nodes[stored.FromNode]; from.state == Executed {
		if v, ok := from.outputs[stored.FromPort]; ok {
			e.cache.Set(stored.ID, v)
		}
	}
	e.updateGauges()
	e.log.Info("link added", "link", stored.ID,
		"from", stored.FromNode+"."+stored.FromPort, "to", stored.ToNode+"."+stored.ToPort)
	e.request(stored.ToNode)
	return stored, nil
}

func (e *Engine) removeLink(id string) error {
	l, err := e.graph.RemoveLink(id)
	if err != nil {
		return err
	}
	e.cache.Delete(id)
	e.updateGauges()
	e.log.Info("link removed", "link", id)
	if _, ok := e.nodes[l.ToNode]; ok {
		e.invalidate(l.ToNode)
	}
	return nil
}

func (e *Engine) setProperties(id string, props map[string]any) error {
	rec, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("set properties %s: %w", id, ErrUnknownNode)
	}
	if err := e.graph.SetProperties(id, props); err != nil {
		return err
	}
	if rec.state == Executing {
		rec.props = props
		rec.rerun = true
		return nil
	}
	if err := e.applyProperties(id, rec, props); err != nil {
		e.fail(id, rec, err)
		return err
	}
	e.request(id)
	return nil
}

// loadDesign builds and instantiates the new graph completely before
// swapping it in, so a bad design leaves the running one untouched.
func (e *Engine) loadDesign(d *config.Design) error {
	if err := config.ValidateDesign(d); err != nil {
		return err
	}
	g, err := graph.Build(d, e.reg, graph.WithAcyclic(!e.conf.AllowCycles))
	if err != nil {
		return err
	}
	nodes := make(map[string]*nodeRecord, len(d.Nodes))
	executed := make(map[string]bool, len(d.Nodes))
	for _, nd := range d.Nodes {
		rec, err := e.newRecord(nd.ID, nd.Type, nd.Properties)
		if err != nil {
			return err
		}
		nodes[nd.ID] = rec
		executed[nd.ID] = nd.Executed
	}

	for _, id := range e.graph.NodeIDs() {
		e.notifyState(id, Clear)
	}
	e.graph, e.nodes, e.cache = g, nodes, NewLinkCache()
	for _, l := range g.Links() {
		e.cache.Clear(l.ID)
	}
	e.updateGauges()
	e.log.Info("design loaded", "nodes", g.NodeCount(), "links", g.LinkCount())

	for _, id := range g.NodeIDs() {
		if executed[id] {
			nodes[id].state = Executed
			e.notifyState(id, Executed)
		} else {
			e.notifyState(id, Pending)
		}
	}
	return nil
}

func (e *Engine) updateGauges() {
	metrics.GraphNodes.Set(float64(e.graph.NodeCount()))
	metrics.GraphLinks.Set(float64(e.graph.LinkCount()))
}
