package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/nodeflow/internal/config"
	"github.com/gyaneshwarpardhi/nodeflow/internal/graph"
	"github.com/gyaneshwarpardhi/nodeflow/internal/node"
)

// NodeSpec describes a node to add. An empty ID is replaced by a generated one.
type NodeSpec struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	// Executed restores a node as already executed instead of requesting it.
	Executed bool `json:"executed"`
}

// Stats is a point-in-time summary of the engine.
type Stats struct {
	Nodes   int  `json:"nodes"`
	Links   int  `json:"links"`
	Running int  `json:"running"`
	Paused  bool `json:"paused"`
	Idle    bool `json:"idle"`
}

// Engine owns a graph and executes its nodes. All state is confined to one
// loop goroutine; exported methods hand work to it and wait for the result.
type Engine struct {
	reg  *node.Registry
	conf config.EngineConf
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	cmds      chan func()
	results   chan *completion
	inbox     *mailbox
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	pool *workerPool[*job, *completion]

	// Loop-owned.
	graph     *graph.Graph
	nodes     map[string]*nodeRecord
	cache     *LinkCache
	running   int
	paused    bool
	idle      bool
	waiters   []chan error
	observers []*subscription
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithObserver subscribes o before the loop starts.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, &subscription{o: o}) }
}

// New creates an Engine with an empty graph and starts its loop and
// worker pool. Cancelling ctx stops the engine like Shutdown.
func New(ctx context.Context, reg *node.Registry, conf config.EngineConf, opts ...Option) *Engine {
	config.ApplyDefaults(&conf)
	ctx, cancel := context.WithCancel(ctx)
	e := &Engine{
		reg:     reg,
		conf:    conf,
		log:     slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan func(), conf.CommandQueue),
		results: make(chan *completion, conf.ExecutionLimit),
		inbox:   newMailbox(),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		graph:   graph.New(graph.WithAcyclic(!conf.AllowCycles)),
		nodes:   make(map[string]*nodeRecord),
		cache:   NewLinkCache(),
		idle:    true,
	}
	for _, opt := range opts {
		opt(e)
	}

	// Queue capacity equals the limit: the loop never has more jobs out.
	e.pool = newWorkerPool[*job, *completion](
		ctx,
		conf.ExecutionLimit,
		conf.ExecutionLimit,
		e.execute,
		func(c *completion) {
			select {
			case e.results <- c:
			case <-e.closing:
			}
		},
	)

	go e.loop()
	return e
}

// Shutdown stops the loop, cancels running nodes and drains the pool.
// Waiters are released with ErrClosed.
func (e *Engine) Shutdown() {
	e.closeOnce.Do(func() { close(e.closing) })
	<-e.done
	e.cancel()
	e.pool.Drain()
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case fn := <-e.cmds:
			fn()
		case c := <-e.results:
			e.complete(c)
		case <-e.inbox.kick:
			for _, fn := range e.inbox.drain() {
				fn()
			}
		case <-e.closing:
			e.releaseWaiters(ErrClosed)
			return
		case <-e.ctx.Done():
			e.releaseWaiters(ErrClosed)
			return
		}
		e.schedule()
	}
}

// do runs fn on the loop goroutine and returns its error.
func (e *Engine) do(fn func() error) error {
	res := make(chan error, 1)
	select {
	case e.cmds <- func() { res <- fn() }:
	case <-e.done:
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-e.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrClosed
		}
	}
}

// AddNode instantiates and adds a node. Unless spec.Executed is set the
// node is requested. It returns the node id.
func (e *Engine) AddNode(spec NodeSpec) (string, error) {
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	err := e.do(func() error { return e.addNode(spec) })
	if err != nil {
		return "", err
	}
	return spec.ID, nil
}

// RemoveNode removes a node and every link touching it. Former consumers
// are reset and requested.
func (e *Engine) RemoveNode(id string) error {
	return e.do(func() error { return e.removeNode(id) })
}

// AddLink connects two ports and requests the consumer. An empty l.ID is
// replaced by a generated one. It returns the stored link.
func (e *Engine) AddLink(l graph.Link) (graph.Link, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	var stored graph.Link
	err := e.do(func() error {
		s, err := e.addLink(l)
		if err != nil {
			return err
		}
		stored = *s
		return nil
	})
	return stored, err
}

// RemoveLink disconnects a link. Its consumer is reset and requested.
func (e *Engine) RemoveLink(id string) error {
	return e.do(func() error { return e.removeLink(id) })
}

// SetProperties replaces a node's properties and requests it.
func (e *Engine) SetProperties(id string, props map[string]any) error {
	return e.do(func() error { return e.setProperties(id, props) })
}

// RequestExecution marks id and everything downstream of it pending.
func (e *Engine) RequestExecution(id string) error {
	return e.do(func() error {
		if _, ok := e.nodes[id]; !ok {
			return fmt.Errorf("request %s: %w", id, ErrUnknownNode)
		}
		e.request(id)
		return nil
	})
}

// ResetExecution invalidates id and everything downstream of it without
// running them again. Held nodes run once they, a descendant, or an
// ancestor of theirs is requested.
func (e *Engine) ResetExecution(id string) error {
	return e.do(func() error {
		if _, ok := e.nodes[id]; !ok {
			return fmt.Errorf("reset %s: %w", id, ErrUnknownNode)
		}
		e.reset(id)
		return nil
	})
}

// Pause stops dispatching new executions. Running ones complete.
func (e *Engine) Pause() error {
	return e.do(func() error {
		if !e.paused {
			e.paused = true
			e.log.Info("engine paused")
		}
		return nil
	})
}

// Resume undoes Pause.
func (e *Engine) Resume() error {
	return e.do(func() error {
		if e.paused {
			e.paused = false
			e.log.Info("engine resumed")
		}
		return nil
	})
}

// Clear removes every node and link.
func (e *Engine) Clear() error {
	return e.LoadDesign(&config.Design{})
}

// LoadDesign replaces the whole graph with one built from d. On error the
// current graph is left untouched.
func (e *Engine) LoadDesign(d *config.Design) error {
	return e.do(func() error { return e.loadDesign(d) })
}

// Wait blocks until no node is running and none is ready. It returns a
// *StallError when pending nodes are left that can never become ready.
func (e *Engine) Wait(ctx context.Context) error {
	ch := make(chan error, 1)
	err := e.do(func() error {
		if e.idle {
			ch <- e.stallErr()
		} else {
			e.waiters = append(e.waiters, ch)
		}
		return nil
	})
	if err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		select {
		case err := <-ch:
			return err
		default:
			return ErrClosed
		}
	}
}

// Subscribe registers o for notifications. The returned func unsubscribes.
func (e *Engine) Subscribe(o Observer) (unsubscribe func()) {
	sub := &subscription{o: o}
	if err := e.do(func() error {
		e.observers = append(e.observers, sub)
		return nil
	}); err != nil {
		return func() {}
	}
	return e.unsubscriber(sub)
}

// SubscribeSnapshot registers o and returns every node as of the moment of
// registration. Notifications delivered to o are all newer than the snapshot.
func (e *Engine) SubscribeSnapshot(o Observer) ([]NodeSnapshot, func(), error) {
	sub := &subscription{o: o}
	var snaps []NodeSnapshot
	if err := e.do(func() error {
		snaps = e.snapshotAll()
		e.observers = append(e.observers, sub)
		return nil
	}); err != nil {
		return nil, func() {}, err
	}
	return snaps, e.unsubscriber(sub), nil
}

func (e *Engine) unsubscriber(sub *subscription) func() {
	return func() {
		_ = e.do(func() error {
			for i, s := range e.observers {
				if s == sub {
					e.observers = append(e.observers[:i], e.observers[i+1:]...)
					break
				}
			}
			return nil
		})
	}
}

// Node returns a snapshot of one node.
func (e *Engine) Node(id string) (NodeSnapshot, error) {
	var snap NodeSnapshot
	err := e.do(func() error {
		rec, ok := e.nodes[id]
		if !ok {
			return fmt.Errorf("node %s: %w", id, ErrUnknownNode)
		}
		snap = e.snapshot(id, rec)
		return nil
	})
	return snap, err
}

// Snapshot returns every node, sorted by id.
func (e *Engine) Snapshot() ([]NodeSnapshot, error) {
	var out []NodeSnapshot
	err := e.do(func() error {
		out = e.snapshotAll()
		return nil
	})
	return out, err
}

func (e *Engine) snapshotAll() []NodeSnapshot {
	ids := e.graph.NodeIDs()
	out := make([]NodeSnapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.snapshot(id, e.nodes[id]))
	}
	return out
}

// Links returns every link in creation order.
func (e *Engine) Links() ([]graph.Link, error) {
	var out []graph.Link
	err := e.do(func() error {
		out = e.graph.Links()
		return nil
	})
	return out, err
}

// LinkValue returns the cached value of a link and whether it has one.
func (e *Engine) LinkValue(id string) (v any, ok bool, err error) {
	err = e.do(func() error {
		if _, exists := e.graph.Link(id); !exists {
			return fmt.Errorf("link %s: %w", id, ErrUnknownLink)
		}
		v, ok = e.cache.Value(id)
		return nil
	})
	return v, ok, err
}

// Stats returns counters describing the engine.
func (e *Engine) Stats() (Stats, error) {
	var s Stats
	err := e.do(func() error {
		s = Stats{
			Nodes:   e.graph.NodeCount(),
			Links:   e.graph.LinkCount(),
			Running: e.running,
			Paused:  e.paused,
			Idle:    e.idle,
		}
		return nil
	})
	return s, err
}

// Registry returns the node type registry the engine instantiates from.
func (e *Engine) Registry() *node.Registry {
	return e.reg
}

func (e *Engine) snapshot(id string, rec *nodeRecord) NodeSnapshot {
	n, _ := e.graph.Node(id)
	return NodeSnapshot{
		ID:         id,
		Type:       rec.wrapper.TypeID(),
		State:      rec.state,
		Status:     rec.status,
		Held:       rec.held,
		BlockedBy:  rec.blockedBy,
		Properties: n.Properties,
	}
}
