package task

import "sync"

// Event is a one-shot completion signal shared across goroutines. It starts
// unfired; Signal fires it exactly once. Any number of holders may test,
// wait on, or subscribe to the same event.
//
// Thread safety: Event is safe for concurrent use.
type Event struct {
	mu   sync.Mutex
	done bool
	ch   chan struct{}
	subs []func()
}

// NewEvent returns an unfired event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Signal fires the event, waking waiters and running subscribed callbacks.
// Firing twice is a programming error and panics: a fence that can fire
// more than once cannot express a completion ordering.
func (e *Event) Signal() {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		panic("rhi/task: event signaled twice")
	}
	e.done = true
	subs := e.subs
	e.subs = nil
	close(e.ch)
	e.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// IsComplete reports whether the event has fired.
func (e *Event) IsComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Done returns a channel closed when the event fires.
func (e *Event) Done() <-chan struct{} {
	return e.ch
}

// subscribe registers fn to run when the event fires. If the event has
// already fired, fn runs synchronously before subscribe returns.
func (e *Event) subscribe(fn func()) {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		fn()
		return
	}
	e.subs = append(e.subs, fn)
	e.mu.Unlock()
}
