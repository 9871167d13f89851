// Package task implements the scheduling primitive underneath the command
// list executor: tasks with prerequisite events, a pool of any-thread
// workers with work stealing, and one optional dedicated RHI worker.
//
// A Task runs exactly once, after every prerequisite Event has fired, on a
// goroutine chosen by its Affinity. Completion of a task fires its own
// Event, which other tasks may list as a prerequisite; this is how the
// executor builds the totally ordered dispatch chain.
//
// Waiting is cooperative for any-thread workers: a worker blocked on an
// event keeps servicing its local queue and stealing from siblings, so a
// wait can never starve the pool. The RHI worker never does this -- its
// queue holds later links of the dispatch chain, and running them while an
// earlier link is still in flight would break FIFO order. It falls back to
// a plain channel wait instead.
package task
