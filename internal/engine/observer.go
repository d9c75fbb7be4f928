package engine

import (
	"github.com/gyaneshwarpardhi/nodeflow/internal/node"
)

// Observer receives engine notifications. Methods are called on the engine
// loop goroutine and must not call back into the Engine synchronously.
type Observer interface {
	OnStateChanged(nodeID string, state State)
	OnStatusChanged(nodeID string, severity node.Severity, message string)
	OnIdle()
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	StateChanged  func(nodeID string, state State)
	StatusChanged func(nodeID string, severity node.Severity, message string)
	Idle          func()
}

func (f ObserverFuncs) OnStateChanged(nodeID string, state State) {
	if f.StateChanged != nil {
		f.StateChanged(nodeID, state)
	}
}

func (f ObserverFuncs) OnStatusChanged(nodeID string, severity node.Severity, message string) {
	if f.StatusChanged != nil {
		f.StatusChanged(nodeID, severity, message)
	}
}

func (f ObserverFuncs) OnIdle() {
	if f.Idle != nil {
		f.Idle()
	}
}

type subscription struct {
	o Observer
}

func (e *Engine) notifyState(id string, s State) {
	for _, sub := range e.observers {
		e.guard(func() { sub.o.OnStateChanged(id, s) })
	}
}

func (e *Engine) notifyStatus(id string, sev node.Severity, msg string) {
	for _, sub := range e.observers {
		e.guard(func() { sub.o.OnStatusChanged(id, sev, msg) })
	}
}

func (e *Engine) notifyIdle() {
	for _, sub := range e.observers {
		e.guard(func() { sub.o.OnIdle() })
	}
}

// guard keeps a panicking observer from taking the loop down.
func (e *Engine) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("observer panicked", "panic", r)
		}
	}()
	fn()
}
