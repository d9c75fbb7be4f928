package engine

import (
	"sync"

	"github.com/gyaneshwarpardhi/nodeflow/internal/node"
)

// service is the node.Service handed to one node instance. Calls may come
// from any goroutine, including the loop itself while it runs a factory,
// so they are posted to the mailbox instead of sent as commands.
type service struct {
	e   *Engine
	id  string
	rec *nodeRecord
}

var _ node.Service = (*service)(nil)

func (s *service) NodeID() string { return s.id }

func (s *service) RequestExecution() {
	s.post(func() { s.e.request(s.id) })
}

func (s *service) SetStatus(severity node.Severity, message string) {
	s.post(func() { s.e.setStatus(s.id, s.rec, severity, message, false) })
}

func (s *service) ClearStatus() {
	s.SetStatus(node.SeverityClear, "")
}

// post runs fn on the loop if the instance is still in the graph.
func (s *service) post(fn func()) {
	s.e.inbox.post(func() {
		if s.e.nodes[s.id] == s.rec {
			fn()
		}
	})
}

// mailbox is an unbounded queue drained by the loop. Posting never blocks.
type mailbox struct {
	mu    sync.Mutex
	items []func()
	kick  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{kick: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.items = append(m.items, fn)
	m.mu.Unlock()
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}
