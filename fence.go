package rhi

import "github.com/gogpu/rhi/internal/task"

// Fence is a one-shot, shareable cross-thread completion signal. Multiple
// consumers may hold and wait on the same fence; it fires exactly once.
//
// Fences returned by Executor.RHIThreadFence are satisfied by the RHI
// worker when the dispatch chain reaches the fence's position. Waiting on
// such a fence from the RHI worker itself would be an unsatisfiable wait
// and is treated as a fatal deadlock, not tolerated silently.
//
// Thread safety: Fence is safe for concurrent use.
type Fence struct {
	ev *task.Event

	// rhiChain marks fences satisfied by the RHI dispatch chain; the
	// executor's deadlock guard only applies to these.
	rhiChain bool
}

// NewFence returns an unfired fence.
func NewFence() *Fence {
	return &Fence{ev: task.NewEvent()}
}

// CompletedFence returns a fence that has already fired. Useful where an
// ordering dependency is structurally required but already satisfied.
func CompletedFence() *Fence {
	f := NewFence()
	f.ev.Signal()
	return f
}

// Signal fires the fence. Firing twice panics.
func (f *Fence) Signal() { f.ev.Signal() }

// IsComplete reports whether the fence has fired.
func (f *Fence) IsComplete() bool { return f.ev.IsComplete() }

// Done returns a channel closed when the fence fires.
func (f *Fence) Done() <-chan struct{} { return f.ev.Done() }

// event exposes the underlying task event for prerequisite wiring.
func (f *Fence) event() *task.Event {
	if f == nil {
		return nil
	}
	return f.ev
}
