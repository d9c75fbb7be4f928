package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/gyaneshwarpardhi/nodeflow/internal/metrics"
	"github.com/gyaneshwarpardhi/nodeflow/internal/node"
)

// nodeRecord is the engine's bookkeeping for one node instance. A node
// removed and re-added under the same id gets a new record, which is how
// results of the old instance are recognised and dropped.
type nodeRecord struct {
	wrapper *node.Wrapper
	factory node.Factory
	svc     *service

	state  State
	status Status
	// sysStatus is set when the engine, not the node, wrote status.
	sysStatus bool

	// held keeps a reset node pending until it is requested again.
	held bool
	// rerun asks for one more execution after the running one.
	rerun bool
	// blockedBy names the failed ancestor that blocked this node.
	blockedBy string
	// props are properties to apply once the running execution ends.
	props map[string]any

	// outputs are the last successful outputs, used to seed new links.
	outputs node.Outputs
}

type job struct {
	id     string
	rec    *nodeRecord
	inputs node.Inputs
}

type completion struct {
	id       string
	rec      *nodeRecord
	outputs  node.Outputs
	err      error
	duration time.Duration
}

var errPoolFull = errors.New("worker pool queue full")

// execute runs on a pool worker.
func (e *Engine) execute(ctx context.Context, j *job) *completion {
	if e.conf.NodeTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.conf.NodeTimeoutMs)*time.Millisecond)
		defer cancel()
	}
	start := time.Now()
	out, err := j.rec.wrapper.Execute(ctx, j.inputs)
	return &completion{
		id:       j.id,
		rec:      j.rec,
		outputs:  out,
		err:      err,
		duration: time.Since(start),
	}
}

// schedule dispatches every ready node, in id order, up to the execution
// limit, then reports idleness.
func (e *Engine) schedule() {
	metrics.SchedulingPasses.Inc()

	waiting := 0
	for again := true; again; {
		again = false
		waiting = 0
		for _, id := range e.graph.NodeIDs() {
			rec := e.nodes[id]
			if !e.ready(id, rec) {
				continue
			}
			if e.paused || e.running >= e.conf.ExecutionLimit {
				waiting++
				continue
			}
			if by := e.failedProducer(id); by != "" {
				e.block(id, rec, by)
				again = true
				continue
			}
			e.dispatch(id, rec)
		}
	}

	if e.running > 0 || waiting > 0 {
		e.idle = false
		return
	}
	if e.idle {
		return
	}
	e.idle = true
	err := e.stallErr()
	if err != nil {
		metrics.Stalls.Inc()
		e.log.Warn("engine idle with unreachable pending nodes", "err", err)
	}
	e.notifyIdle()
	e.releaseWaiters(err)
}

// ready reports whether a node may be dispatched: it is pending, not held,
// and every direct producer has finished.
func (e *Engine) ready(id string, rec *nodeRecord) bool {
	if rec.state != Pending || rec.held {
		return false
	}
	for _, p := range e.graph.Producers(id) {
		if !e.nodes[p].state.Terminal() {
			return false
		}
	}
	return true
}

func (e *Engine) failedProducer(id string) string {
	for _, p := range e.graph.Producers(id) {
		if e.nodes[p].state == Failed {
			return p
		}
	}
	return ""
}

func (e *Engine) dispatch(id string, rec *nodeRecord) {
	inputs := e.gatherInputs(id)
	e.setState(id, rec, Executing)
	e.running++
	metrics.ExecutionsInFlight.Inc()
	if !e.pool.Submit(&job{id: id, rec: rec, inputs: inputs}) {
		e.complete(&completion{id: id, rec: rec, err: errPoolFull})
	}
}

// gatherInputs collects, per declared input port, the cached values of its
// links in connection order. Links without a value are skipped.
func (e *Engine) gatherInputs(id string) node.Inputs {
	n, _ := e.graph.Node(id)
	in := make(node.Inputs, len(n.Type.Inputs))
	for _, p := range n.Type.Inputs {
		vals := []any{}
		for _, l := range e.graph.InputLinks(id, p.Name) {
			if v, ok := e.cache.Value(l.ID); ok {
				vals = append(vals, v)
			}
		}
		in[p.Name] = vals
	}
	return in
}

func (e *Engine) complete(c *completion) {
	e.running--
	metrics.ExecutionsInFlight.Dec()

	rec, ok := e.nodes[c.id]
	if !ok || rec != c.rec {
		e.log.Debug("discarding result of removed node", "node", c.id)
		return
	}
	typ := rec.wrapper.TypeID()
	metrics.NodeExecutionDuration.WithLabelValues(typ).Observe(float64(c.duration.Milliseconds()))

	switch {
	case rec.blockedBy != "":
		rec.rerun = false
		e.markBlocked(c.id, rec, rec.blockedBy)
	case rec.held:
		rec.rerun = false
		e.resetNode(c.id, rec)
	case c.err != nil:
		metrics.NodeExecutions.WithLabelValues(typ, "failure").Inc()
		e.fail(c.id, rec, c.err)
	default:
		metrics.NodeExecutions.WithLabelValues(typ, "success").Inc()
		e.succeed(c.id, rec, c.outputs)
	}

	if rec.props != nil {
		props := rec.props
		rec.props = nil
		if err := e.applyProperties(c.id, rec, props); err != nil {
			rec.rerun = false
			e.fail(c.id, rec, err)
			return
		}
	}
	if rec.rerun {
		rec.rerun = false
		e.request(c.id)
	}
}

func (e *Engine) succeed(id string, rec *nodeRecord, out node.Outputs) {
	for _, l := range e.graph.OutgoingLinks(id) {
		if v, ok := out[l.FromPort]; ok {
			e.cache.Set(l.ID, v)
		} else {
			e.cache.Clear(l.ID)
		}
	}
	rec.outputs = out
	if rec.sysStatus {
		e.setStatus(id, rec, node.SeverityClear, "", false)
	}
	e.setState(id, rec, Executed)
	e.log.Debug("node executed", "node", id, "outputs", len(out))

	for _, c := range e.graph.Consumers(id) {
		crec := e.nodes[c]
		switch {
		case crec.state == Executing:
			crec.rerun = true
		case crec.state != Pending:
			crec.blockedBy = ""
			e.setState(c, crec, Pending)
		}
	}
}

// fail marks a node failed and blocks everything downstream of it.
func (e *Engine) fail(id string, rec *nodeRecord, err error) {
	e.log.Warn("node execution failed", "node", id, "err", err)
	e.clearOutputs(id, rec)
	e.setStatus(id, rec, node.SeverityError, err.Error(), true)
	e.setState(id, rec, Failed)
	e.blockDownstream(id, id)
}

// block fails a node that cannot run because producer by failed.
func (e *Engine) block(id string, rec *nodeRecord, by string) {
	e.markBlocked(id, rec, by)
	e.blockDownstream(id, by)
}

func (e *Engine) blockDownstream(id, by string) {
	for _, d := range e.graph.Downstream(id) {
		if d == id {
			continue
		}
		drec := e.nodes[d]
		if drec.state == Executing {
			drec.blockedBy = by
			continue
		}
		e.markBlocked(d, drec, by)
	}
}

func (e *Engine) markBlocked(id string, rec *nodeRecord, by string) {
	rec.blockedBy = by
	rec.held = false
	e.clearOutputs(id, rec)
	metrics.NodesBlocked.Inc()
	e.setStatus(id, rec, node.SeverityWarning, fmt.Sprintf("blocked by failure of %s", by), true)
	e.setState(id, rec, Failed)
}

// request marks id and its downstream pending and releases held ancestors.
// Running nodes are flagged to run again once they finish.
func (e *Engine) request(id string) {
	metrics.ExecutionRequests.WithLabelValues("request").Inc()
	for _, x := range e.withDownstream(id) {
		rec := e.nodes[x]
		rec.held = false
		rec.blockedBy = ""
		if rec.state == Executing {
			rec.rerun = true
			continue
		}
		e.setState(x, rec, Pending)
	}
	for _, u := range e.graph.Upstream(id) {
		e.nodes[u].held = false
	}
}

// reset invalidates id and its downstream and holds them pending. Running
// nodes are reset when their execution ends.
func (e *Engine) reset(id string) {
	metrics.ExecutionRequests.WithLabelValues("reset").Inc()
	for _, x := range e.withDownstream(id) {
		rec := e.nodes[x]
		rec.held = true
		rec.rerun = false
		rec.blockedBy = ""
		if rec.state == Executing {
			continue
		}
		e.resetNode(x, rec)
	}
}

func (e *Engine) resetNode(id string, rec *nodeRecord) {
	if err := rec.wrapper.ResetExecution(e.ctx); err != nil {
		e.log.Warn("node reset failed", "node", id, "err", err)
	}
	e.clearOutputs(id, rec)
	if rec.sysStatus {
		e.setStatus(id, rec, node.SeverityClear, "", false)
	}
	e.setState(id, rec, Pending)
}

// clearOutputs drops the last outputs of id and the values on its links.
func (e *Engine) clearOutputs(id string, rec *nodeRecord) {
	for _, l := range e.graph.OutgoingLinks(id) {
		e.cache.Clear(l.ID)
	}
	rec.outputs = nil
}

// invalidate resets a node whose inputs changed shape, then requests it.
func (e *Engine) invalidate(id string) {
	e.reset(id)
	e.request(id)
}

func (e *Engine) withDownstream(id string) []string {
	ids := []string{id}
	for _, d := range e.graph.Downstream(id) {
		if d != id {
			ids = append(ids, d)
		}
	}
	return ids
}

// stallErr reports pending nodes that are neither held nor waiting on a
// held ancestor. Once the engine is idle such nodes can never run.
func (e *Engine) stallErr() error {
	var stuck []string
	for _, id := range e.graph.NodeIDs() {
		rec := e.nodes[id]
		if rec.state != Pending || rec.held || e.heldUpstream(id) {
			continue
		}
		stuck = append(stuck, id)
	}
	if len(stuck) == 0 {
		return nil
	}
	return &StallError{Pending: stuck}
}

func (e *Engine) heldUpstream(id string) bool {
	for _, u := range e.graph.Upstream(id) {
		if r := e.nodes[u]; r.state == Pending && r.held {
			return true
		}
	}
	return false
}

func (e *Engine) releaseWaiters(err error) {
	for _, ch := range e.waiters {
		ch <- err
	}
	e.waiters = nil
}

func (e *Engine) setState(id string, rec *nodeRecord, s State) {
	if rec.state == s {
		return
	}
	rec.state = s
	e.notifyState(id, s)
}

func (e *Engine) setStatus(id string, rec *nodeRecord, sev node.Severity, msg string, sys bool) {
	rec.sysStatus = sys
	if rec.status.Severity == sev && rec.status.Message == msg {
		return
	}
	rec.status = Status{Severity: sev, Message: msg}
	e.notifyStatus(id, sev, msg)
}

// applyProperties forwards props to the implementation, rebuilding it from
// its factory when it cannot be reconfigured in place.
func (e *Engine) applyProperties(id string, rec *nodeRecord, props map[string]any) error {
	applied, err := rec.wrapper.SetProperties(props)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	w, err := node.Instantiate(id, rec.wrapper.TypeID(), rec.factory, maps.Clone(props), rec.svc)
	if err != nil {
		return err
	}
	rec.wrapper = w
	return nil
}
