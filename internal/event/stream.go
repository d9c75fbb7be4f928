package event

import (
	"sync/atomic"

	"github.com/gyaneshwarpardhi/nodeflow/internal/engine"
	"github.com/gyaneshwarpardhi/nodeflow/internal/node"
)

// Stream is an engine.Observer that queues notifications on a buffered
// channel. It never blocks the engine: when the buffer is full the event is
// dropped and counted.
type Stream struct {
	ch      chan *Event
	dropped atomic.Int64
	onDrop  func(*Event)
}

var _ engine.Observer = (*Stream)(nil)

// NewStream creates a stream buffering up to size events. onDrop, if not
// nil, is called for every dropped event.
func NewStream(size int, onDrop func(*Event)) *Stream {
	return &Stream{ch: make(chan *Event, size), onDrop: onDrop}
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan *Event {
	return s.ch
}

// Dropped returns how many events were discarded.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Stream) OnStateChanged(nodeID string, st engine.State) {
	s.push(StateChanged(nodeID, st))
}

func (s *Stream) OnStatusChanged(nodeID string, sev node.Severity, msg string) {
	s.push(StatusChanged(nodeID, sev, msg))
}

func (s *Stream) OnIdle() {
	s.push(Idle())
}

func (s *Stream) push(ev *Event) {
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
		if s.onDrop != nil {
			s.onDrop(ev)
		}
	}
}
