package task

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// Config holds scheduler construction parameters.
type Config struct {
	// Workers is the number of any-thread workers. Values below 1 select
	// GOMAXPROCS.
	Workers int

	// RHIWorker starts the dedicated RHI worker when true. Without it the
	// scheduler cannot host RHIThread tasks and the executor falls back
	// to synchronous execution.
	RHIWorker bool

	// RHIWorkerCPU optionally pins the RHI worker's OS thread to a CPU.
	// Negative means no pinning.
	RHIWorkerCPU int

	// QueueDepth is the per-worker queue capacity. Bounded queues are the
	// back-pressure mechanism between producers and workers; a full queue
	// blocks the submitter. Values below 1 select a depth derived from
	// the worker count.
	QueueDepth int

	// Logger receives scheduler lifecycle diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Scheduler runs tasks on a pool of any-thread workers plus an optional
// dedicated RHI worker.
//
// Thread safety: Scheduler is safe for concurrent use.
type Scheduler struct {
	workers []*worker
	rhi     *worker

	done   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool

	executed atomic.Int64
	log      *slog.Logger
}

type worker struct {
	id    int
	isRHI bool
	queue chan *Task
	gid   atomic.Int64
	sched *Scheduler
}

// New creates and starts a scheduler.
func New(cfg Config) *Scheduler {
	workers := cfg.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	depth := cfg.QueueDepth
	if depth < 1 {
		depth = workers * 4
		if depth < 8 {
			depth = 8
		}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(discardHandler{})
	}

	s := &Scheduler{
		workers: make([]*worker, workers),
		done:    make(chan struct{}),
		log:     log,
	}
	s.wg.Add(workers)
	for i := range s.workers {
		w := &worker{id: i, queue: make(chan *Task, depth), sched: s}
		s.workers[i] = w
		go w.loop()
	}
	if cfg.RHIWorker {
		s.rhi = &worker{id: -1, isRHI: true, queue: make(chan *Task, depth), sched: s}
		s.wg.Add(1)
		go s.rhi.loopRHI(cfg.RHIWorkerCPU)
	}
	log.Debug("task scheduler started", "workers", workers, "rhi_worker", cfg.RHIWorker, "queue_depth", depth)
	return s
}

// Spawn registers a task with the given prerequisites. Nil prerequisites are
// ignored. The task becomes ready once every prerequisite has fired and runs
// on a goroutine matching its affinity. Spawning an RHIThread task on a
// scheduler without an RHI worker is a programming error and panics.
func (s *Scheduler) Spawn(name string, affinity Affinity, fn func(), prereqs ...*Event) *Task {
	if affinity == RHIThread && s.rhi == nil {
		panic("rhi/task: RHIThread task spawned without an RHI worker")
	}
	t := &Task{
		name:     name,
		fn:       fn,
		affinity: affinity,
		done:     NewEvent(),
		sched:    s,
	}
	t.pending.Store(1)
	for _, ev := range prereqs {
		if ev == nil {
			continue
		}
		t.pending.Add(1)
		ev.subscribe(t.dec)
	}
	t.dec() // release the registration guard
	return t
}

// Wait blocks until e fires. When called from an any-thread worker it
// services the local queue and steals while waiting so the pool cannot
// starve itself. The RHI worker and external goroutines block on the event
// channel directly.
func (s *Scheduler) Wait(e *Event) {
	if e == nil || e.IsComplete() {
		return
	}
	if w := s.currentWorker(); w != nil && !w.isRHI {
		w.cooperativeWait(e)
		return
	}
	<-e.Done()
}

// WaitAll waits for every event in evs, cooperatively where possible.
func (s *Scheduler) WaitAll(evs []*Event) {
	for _, e := range evs {
		s.Wait(e)
	}
}

// HasRHIWorker reports whether the dedicated RHI worker is running.
func (s *Scheduler) HasRHIWorker() bool { return s.rhi != nil }

// OnRHIThread reports whether the calling goroutine is the RHI worker.
func (s *Scheduler) OnRHIThread() bool {
	return s.rhi != nil && s.rhi.gid.Load() == goid()
}

// Executed returns the total number of tasks run to completion.
func (s *Scheduler) Executed() int64 { return s.executed.Load() }

// WorkerCount returns the number of any-thread workers.
func (s *Scheduler) WorkerCount() int { return len(s.workers) }

// Close stops the workers after draining their queues. Close is safe to
// call multiple times. The caller must ensure no further Spawn calls race
// with Close.
func (s *Scheduler) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	s.wg.Wait()
	s.log.Debug("task scheduler stopped", "executed", s.executed.Load())
}

func (s *Scheduler) enqueue(t *Task) {
	if t.affinity == RHIThread {
		select {
		case s.rhi.queue <- t:
		case <-s.done:
		}
		return
	}
	// Prefer the shortest queue; ties go to the lowest id.
	minIdx := 0
	minLen := len(s.workers[0].queue)
	for i := 1; i < len(s.workers); i++ {
		if l := len(s.workers[i].queue); l < minLen {
			minIdx, minLen = i, l
		}
	}
	select {
	case s.workers[minIdx].queue <- t:
	case <-s.done:
	}
}

func (s *Scheduler) currentWorker() *worker {
	id := goid()
	if s.rhi != nil && s.rhi.gid.Load() == id {
		return s.rhi
	}
	for _, w := range s.workers {
		if w.gid.Load() == id {
			return w
		}
	}
	return nil
}

func (w *worker) loop() {
	defer w.sched.wg.Done()
	w.gid.Store(goid())

	for {
		select {
		case <-w.sched.done:
			w.drain()
			return
		case t := <-w.queue:
			w.runTask(t)
		default:
			if st := w.steal(); st != nil {
				w.runTask(st)
				continue
			}
			select {
			case <-w.sched.done:
				w.drain()
				return
			case t := <-w.queue:
				w.runTask(t)
			}
		}
	}
}

// loopRHI is the dedicated RHI worker loop. The goroutine is locked to its
// OS thread so the execution context below sees a stable thread identity.
func (w *worker) loopRHI(cpu int) {
	defer w.sched.wg.Done()
	runtime.LockOSThread()
	w.gid.Store(goid())
	if cpu >= 0 {
		if err := pinCPU(cpu); err != nil {
			w.sched.log.Warn("rhi worker CPU pinning failed", "cpu", cpu, "error", err)
		}
	}

	for {
		select {
		case <-w.sched.done:
			w.drain()
			return
		case t := <-w.queue:
			w.runTask(t)
		}
	}
}

func (w *worker) runTask(t *Task) {
	if t == nil {
		return
	}
	t.run()
	w.sched.executed.Add(1)
}

// steal takes one ready task from another any-thread worker. The RHI queue
// is never a steal target: its tasks carry the dispatch chain and must run
// on the RHI worker.
func (w *worker) steal() *Task {
	for _, other := range w.sched.workers {
		if other == w {
			continue
		}
		select {
		case t := <-other.queue:
			return t
		default:
		}
	}
	return nil
}

func (w *worker) cooperativeWait(e *Event) {
	for {
		if e.IsComplete() {
			return
		}
		select {
		case <-e.Done():
			return
		case t := <-w.queue:
			w.runTask(t)
		default:
		}
		if st := w.steal(); st != nil {
			w.runTask(st)
			continue
		}
		select {
		case <-e.Done():
			return
		case t := <-w.queue:
			w.runTask(t)
		}
	}
}

func (w *worker) drain() {
	for {
		select {
		case t := <-w.queue:
			w.runTask(t)
		default:
			return
		}
	}
}

// discardHandler is a slog.Handler that drops everything. Enabled returns
// false so disabled logging costs nothing.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }
