package rhi

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/gogpu/rhi/internal/arena"
	"github.com/gogpu/rhi/internal/task"
)

// FlushType selects how far ImmediateFlush pushes pending work.
type FlushType int

const (
	// WaitForOutstandingTasksOnly waits out in-flight render-thread tasks
	// attached to the immediate list without dispatching anything.
	WaitForOutstandingTasksOnly FlushType = iota

	// DispatchToRHIThread hands the immediate list's recorded commands to
	// the dispatch chain and returns without waiting for execution.
	DispatchToRHIThread

	// FlushRHIThread dispatches and then blocks until the whole dispatch
	// chain has executed.
	FlushRHIThread
)

// Options configure executor construction. The zero value selects the
// "null" backend, GOMAXPROCS workers and a dedicated RHI worker.
type Options struct {
	// Backend names a registered context provider. Ignored when Provider
	// is set. Empty selects "null".
	Backend string

	// Provider supplies contexts directly, bypassing the registry.
	Provider ContextProvider

	// Workers is the any-thread worker count. Below 1 selects GOMAXPROCS.
	Workers int

	// DisableRHIThread turns off the dedicated RHI worker. Submissions
	// then execute synchronously on the submitting goroutine, preserving
	// order trivially.
	DisableRHIThread bool

	// RHIWorkerCPU optionally pins the RHI worker to a CPU. Negative or
	// zero-value means no pinning (use -1 explicitly for clarity).
	RHIWorkerCPU int

	// ChunkCap and MaxChunks size the shared allocation pools. Zero
	// selects the arena package defaults.
	ChunkCap  int
	MaxChunks int

	// Vars supplies the runtime tunables. Nil selects defaults.
	Vars *Vars

	// Logger receives executor diagnostics. Nil uses the package logger.
	Logger *slog.Logger
}

// Stats is a point-in-time snapshot of executor counters.
type Stats struct {
	ListsSubmitted   int64
	CommandsExecuted int64
	Dispatches       int64
	BypassExecutions int64
	ParallelBatches  int64
	TasksExecuted    int64
	NodeChunks       int64
	ByteChunks       int64
}

// Executor owns the immediate command list, the dispatch chain and the
// worker scheduler. One executor corresponds to one device-facing backend
// provider; most programs create exactly one.
//
// Submission is single-threaded: every method that advances the dispatch
// chain must be called from the render thread (the goroutine that called
// MarkRenderThread, or the creating goroutine until then). Recording onto
// async lists happens on any goroutine that owns the list.
type Executor struct {
	id   uuid.UUID
	vars *Vars
	log  *slog.Logger

	sched    *task.Scheduler
	provider ContextProvider

	nodePool *arena.Pool[commandNode]
	bytePool *arena.Pool[byte]

	immediate *CommandList
	renderGID atomic.Int64
	latched   atomic.Bool
	uidSeq    atomic.Uint32

	mu sync.Mutex
	// prevDispatch is the completion event of the most recently spawned
	// dispatch task. Chaining each new dispatch task behind it gives the
	// total order across submissions.
	prevDispatch *task.Event
	// outstanding holds completion events of dispatch tasks not yet known
	// complete, oldest first.
	outstanding *queue.Queue
	// renderTasks are spawned translate tasks not yet waited out.
	renderTasks []*task.Event
	lockFence   *Fence

	// lock tracks outstanding buffer locks. Render-thread only.
	lock lockTracker

	listsSubmitted   atomic.Int64
	commandsExecuted atomic.Int64
	dispatches       atomic.Int64
	bypassExecs      atomic.Int64
	parallelBatches  atomic.Int64

	closed atomic.Bool
}

// defaultExec holds the process-wide executor set by SetDefault. Libraries
// that cannot thread an *Executor through their call chain use Default.
var defaultExec atomic.Pointer[Executor]

// SetDefault installs e as the process-wide default executor.
func SetDefault(e *Executor) { defaultExec.Store(e) }

// Default returns the executor installed by SetDefault, or nil.
func Default() *Executor { return defaultExec.Load() }

// NewExecutor creates an executor and starts its workers. The calling
// goroutine becomes the render thread until MarkRenderThread says otherwise.
func NewExecutor(opts Options) (*Executor, error) {
	provider := opts.Provider
	if provider == nil {
		name := opts.Backend
		if name == "" {
			name = "null"
		}
		var err error
		provider, err = NewContextProvider(name)
		if err != nil {
			return nil, err
		}
	}

	vars := opts.Vars
	if vars == nil {
		vars = defaultVars()
	}
	log := opts.Logger
	if log == nil {
		log = Logger()
	}
	chunkCap := opts.ChunkCap
	if chunkCap <= 0 {
		chunkCap = arena.DefaultChunkCap
	}
	maxChunks := opts.MaxChunks
	if maxChunks <= 0 {
		maxChunks = arena.DefaultMaxChunks
	}
	cpu := opts.RHIWorkerCPU
	if cpu == 0 {
		cpu = -1
	}

	e := &Executor{
		id:       uuid.New(),
		vars:     vars,
		log:      log,
		provider: provider,
		nodePool: arena.NewPool[commandNode](chunkCap, int64(maxChunks)),
		bytePool: arena.NewPool[byte](chunkCap, int64(maxChunks)),
		sched: task.New(task.Config{
			Workers:      opts.Workers,
			RHIWorker:    !opts.DisableRHIThread,
			RHIWorkerCPU: cpu,
			Logger:       log,
		}),
		outstanding: queue.New(),
	}
	e.immediate = newCommandList(e, true)
	e.renderGID.Store(task.GoroutineID())
	e.latched.Store(vars.Bypass.Load())

	log.Info("executor started",
		"id", e.id,
		"workers", e.sched.WorkerCount(),
		"rhi_worker", e.sched.HasRHIWorker(),
		"bypass", e.latched.Load())
	return e, nil
}

// ID returns the executor's unique identity, used to correlate telemetry
// and log lines when several executors coexist in one process.
func (e *Executor) ID() uuid.UUID { return e.id }

// Vars returns the executor's runtime tunables.
func (e *Executor) Vars() *Vars { return e.vars }

// Scheduler exposes the task scheduler for advanced callers that want to
// co-schedule their own work with the executor's.
func (e *Executor) Scheduler() *task.Scheduler { return e.sched }

// MarkRenderThread declares the calling goroutine the render thread. The
// immediate list rebinds to it. Must not race with submissions.
func (e *Executor) MarkRenderThread() {
	e.renderGID.Store(task.GoroutineID())
	e.immediate.ClaimOwnership()
}

// IsRenderThread reports whether the caller is the marked render thread.
func (e *Executor) IsRenderThread() bool {
	return e.renderGID.Load() == task.GoroutineID()
}

// OnRHIThread reports whether the caller is the dedicated RHI worker.
func (e *Executor) OnRHIThread() bool { return e.sched.OnRHIThread() }

// IsRHIThreadActive reports whether submissions currently go through the
// dedicated RHI worker, as opposed to executing on the submitting goroutine.
func (e *Executor) IsRHIThreadActive() bool {
	return e.sched.HasRHIWorker() && !e.latched.Load()
}

// GetImmediateCommandList returns the immediate list. Record onto it only
// from the render thread.
func (e *Executor) GetImmediateCommandList() *CommandList { return e.immediate }

// NewCommandList allocates a single-use async list owned by the calling
// goroutine. Hand it to a recording worker with ReleaseOwnership /
// ClaimOwnership, then bring it back with QueueAsyncCommandListSubmit.
func (e *Executor) NewCommandList() *CommandList {
	return newCommandList(e, false)
}

// Bypass reports the latched bypass state: whether recording onto the
// immediate list currently executes synchronously.
func (e *Executor) Bypass() bool { return e.latched.Load() }

func (e *Executor) bypassLatched() bool { return e.latched.Load() }

// LatchBypass re-reads the Bypass var and applies it. Switching modes
// drains the dispatch chain first so no deferred work straddles the
// transition. Call at a frame boundary, from the render thread.
func (e *Executor) LatchBypass() {
	want := e.vars.Bypass.Load()
	if want == e.latched.Load() {
		return
	}
	e.ImmediateFlush(FlushRHIThread)
	e.latched.Store(want)
	e.log.Debug("bypass latched", "bypass", want)
}

func (e *Executor) defaultContext() Context { return e.provider.DefaultContext() }

func (e *Executor) nextUID() uint32 { return e.uidSeq.Add(1) }

// ExecuteList submits a finished list for execution in submission order.
// The list must not be recorded onto afterwards. For the immediate list the
// recorded commands are detached first, leaving it empty and recording.
func (e *Executor) ExecuteList(l *CommandList) {
	if l == nil {
		return
	}
	if l.isImmediate {
		e.ImmediateFlush(DispatchToRHIThread)
		return
	}
	e.executeInner(l)
}

// QueueAsyncCommandListSubmit splices a (possibly still recording) async
// list into the immediate stream at the current position: a placeholder
// records into the immediate list now, and the async list's commands run at
// that position once done fires. Recording on the immediate list continues
// past the splice point immediately.
//
// done may be nil when the list is already finished.
func (e *Executor) QueueAsyncCommandListSubmit(l *CommandList, done *Fence) {
	if l == nil {
		return
	}
	l.ReleaseOwnership()
	if done != nil {
		l.AddDispatchPrerequisite(done)
	}
	if e.latched.Load() {
		// Bypass executes the splice inline, so the recorder must be
		// finished before we run the list.
		e.waitRenderTasks(l)
		for _, f := range l.prereqs {
			e.waitFence(f)
		}
		l.prereqs = nil
		n := int64(l.numCommands)
		l.execute(e.defaultContext())
		e.commandsExecuted.Add(n)
		return
	}
	im := e.immediate
	im.renderTasks = append(im.renderTasks, l.renderTasks...)
	l.renderTasks = nil
	im.prereqs = append(im.prereqs, l.prereqs...)
	l.prereqs = nil
	im.AllocCommand(CommandFunc(func(ctx Context) {
		l.execute(ctx)
	}))
}

// ImmediateFlush pushes pending immediate-list work according to flush.
// Must be called from the render thread.
func (e *Executor) ImmediateFlush(flush FlushType) {
	im := e.immediate

	// Render-thread tasks are always waited on the submitting thread,
	// never transferred to the RHI worker.
	e.waitRenderTasks(im)

	if flush == WaitForOutstandingTasksOnly {
		return
	}
	if im.HasCommands() || len(im.prereqs) > 0 {
		e.executeInner(im.detach())
	}
	if flush == FlushRHIThread {
		e.WaitForDispatch()
	}
}

// executeInner is the single submission path. It waits out the list's
// render-thread tasks on the calling goroutine, then either executes
// synchronously (bypass, or no RHI worker) or spawns a dispatch task
// chained behind every previous one.
func (e *Executor) executeInner(l *CommandList) {
	e.waitRenderTasks(l)
	e.listsSubmitted.Add(1)

	if e.latched.Load() || !e.sched.HasRHIWorker() {
		for _, f := range l.prereqs {
			e.waitFence(f)
		}
		l.prereqs = nil
		n := int64(l.numCommands)
		l.execute(e.defaultContext())
		e.commandsExecuted.Add(n)
		e.bypassExecs.Add(1)
		return
	}

	e.mu.Lock()
	prereqs := make([]*task.Event, 0, len(l.prereqs)+1)
	if e.prevDispatch != nil {
		prereqs = append(prereqs, e.prevDispatch)
	}
	for _, f := range l.prereqs {
		prereqs = append(prereqs, f.event())
	}
	l.prereqs = nil

	n := int64(l.numCommands)
	t := e.sched.Spawn(fmt.Sprintf("rhi.dispatch uid=%d", l.uid), task.RHIThread, func() {
		l.execute(e.defaultContext())
		e.commandsExecuted.Add(n)
		e.dispatches.Add(1)
	}, prereqs...)
	e.prevDispatch = t.Done()
	e.outstanding.Add(t.Done())
	e.trimOutstandingLocked()
	e.mu.Unlock()

	if e.vars.ForceFlush.Load() {
		e.WaitForDispatch()
		return
	}
	if !e.vars.AsyncDispatch.Load() {
		// Serial dispatch: overlap only the newest submission.
		e.waitAllButLast()
	}
}

// WaitForDispatch blocks until every dispatch task spawned so far has
// executed. Calling it from the RHI worker would wait on the caller's own
// queue and deadlock, so that is rejected as a contract violation.
func (e *Executor) WaitForDispatch() {
	if e.OnRHIThread() {
		panic("rhi: WaitForDispatch called on the RHI thread")
	}
	for {
		e.mu.Lock()
		if e.outstanding.Length() == 0 {
			e.mu.Unlock()
			return
		}
		ev := e.outstanding.Peek().(*task.Event)
		e.mu.Unlock()
		e.sched.Wait(ev)
		e.mu.Lock()
		if e.outstanding.Length() > 0 && e.outstanding.Peek() == ev {
			e.outstanding.Remove()
		}
		e.mu.Unlock()
	}
}

func (e *Executor) waitAllButLast() {
	for {
		e.mu.Lock()
		if e.outstanding.Length() <= 1 {
			e.mu.Unlock()
			return
		}
		ev := e.outstanding.Peek().(*task.Event)
		e.mu.Unlock()
		e.sched.Wait(ev)
		e.mu.Lock()
		if e.outstanding.Length() > 0 && e.outstanding.Peek() == ev {
			e.outstanding.Remove()
		}
		e.mu.Unlock()
	}
}

// trimOutstandingLocked drops completed events from the front of the
// outstanding queue. Caller holds e.mu.
func (e *Executor) trimOutstandingLocked() {
	for e.outstanding.Length() > 0 {
		if !e.outstanding.Peek().(*task.Event).IsComplete() {
			return
		}
		e.outstanding.Remove()
	}
}

// CheckNoOutstandingCommandLists reports whether the dispatch chain is
// fully drained. Useful at shutdown and frame-boundary assertions.
func (e *Executor) CheckNoOutstandingCommandLists() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trimOutstandingLocked()
	return e.outstanding.Length() == 0 && !e.immediate.HasCommands()
}

// waitRenderTasks blocks the calling goroutine until every render-thread
// task attached to l has completed, then clears the attachment list.
func (e *Executor) waitRenderTasks(l *CommandList) {
	if len(l.renderTasks) == 0 {
		return
	}
	e.sched.WaitAll(l.renderTasks)
	l.renderTasks = nil
}

// RenderThreadTaskFence waits out every translate task spawned so far.
// Engines call this before frame teardown so no task outlives the storage
// it reads.
func (e *Executor) RenderThreadTaskFence() {
	e.mu.Lock()
	tasks := e.renderTasks
	e.renderTasks = nil
	e.mu.Unlock()
	e.sched.WaitAll(tasks)
	e.waitRenderTasks(e.immediate)
}

func (e *Executor) trackRenderTask(ev *task.Event) {
	e.mu.Lock()
	e.renderTasks = append(e.renderTasks, ev)
	e.mu.Unlock()
}

// RHIThreadFence records a fence into the immediate stream; it fires when
// the dispatch chain reaches this position. In bypass the fence fires
// before RHIThreadFence returns. With setLockFence the fence also becomes
// the executor's lock fence, ordering subsequent buffer lock operations
// behind it.
func (e *Executor) RHIThreadFence(setLockFence bool) *Fence {
	f := NewFence()
	f.rhiChain = true
	e.immediate.AllocCommand(CommandFunc(func(Context) {
		f.Signal()
	}))
	if setLockFence {
		e.mu.Lock()
		e.lockFence = f
		e.mu.Unlock()
	}
	return f
}

// WaitOnRHIThreadFence blocks until f fires. Called from the render thread
// it first dispatches the immediate list, since an undispatched fence can
// never fire. Called from the RHI worker with a chain fence it panics: the
// wait could only be satisfied by the waiting thread itself.
func (e *Executor) WaitOnRHIThreadFence(f *Fence) {
	if f == nil || f.IsComplete() {
		return
	}
	if f.rhiChain && e.OnRHIThread() {
		panic("rhi: RHI thread waiting on its own dispatch chain fence")
	}
	if e.IsRenderThread() {
		e.ImmediateFlush(DispatchToRHIThread)
	}
	e.waitFence(f)
}

func (e *Executor) waitFence(f *Fence) {
	if f == nil {
		return
	}
	e.sched.Wait(f.event())
}

// currentLockFence returns the fence set by RHIThreadFence(true), or nil.
func (e *Executor) currentLockFence() *Fence {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lockFence
}

// Stats returns a snapshot of the executor's counters.
func (e *Executor) Stats() Stats {
	return Stats{
		ListsSubmitted:   e.listsSubmitted.Load(),
		CommandsExecuted: e.commandsExecuted.Load(),
		Dispatches:       e.dispatches.Load(),
		BypassExecutions: e.bypassExecs.Load(),
		ParallelBatches:  e.parallelBatches.Load(),
		TasksExecuted:    e.sched.Executed(),
		NodeChunks:       e.nodePool.Allocated(),
		ByteChunks:       e.bytePool.Allocated(),
	}
}

// Close drains the dispatch chain, stops the workers and trims the pools.
// Safe to call more than once; only the first call does work.
func (e *Executor) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.RenderThreadTaskFence()
	e.ImmediateFlush(FlushRHIThread)
	e.sched.Close()
	e.nodePool.Trim(int(e.nodePool.Allocated()))
	e.bytePool.Trim(int(e.bytePool.Allocated()))
	e.log.Info("executor stopped", "id", e.id, "lists", e.listsSubmitted.Load(), "commands", e.commandsExecuted.Load())
}
