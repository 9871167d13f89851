package task

import "sync/atomic"

// Affinity selects which worker class a task may run on.
type Affinity uint8

const (
	// AnyThread lets the task run on any pool worker, including stolen.
	AnyThread Affinity = iota

	// RHIThread routes the task to the dedicated RHI worker. Tasks with
	// this affinity form the dispatch chain and are never stolen.
	RHIThread
)

// Task is a unit of deferred work with prerequisite events. It runs exactly
// once, after all prerequisites have fired, and fires its own completion
// event when the body returns.
type Task struct {
	name     string
	fn       func()
	affinity Affinity
	done     *Event
	sched    *Scheduler

	// pending counts unfired prerequisites plus one guard reference held
	// during Spawn, so the task cannot become ready while prerequisites
	// are still being registered.
	pending atomic.Int32
}

// Name returns the diagnostic name given at Spawn.
func (t *Task) Name() string { return t.name }

// Done returns the task's completion event.
func (t *Task) Done() *Event { return t.done }

func (t *Task) dec() {
	if t.pending.Add(-1) == 0 {
		t.sched.enqueue(t)
	}
}

func (t *Task) run() {
	t.fn()
	t.done.Signal()
}
