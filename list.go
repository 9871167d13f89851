package rhi

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/rhi/internal/arena"
	"github.com/gogpu/rhi/internal/task"
)

var commandNodeSize = int(unsafe.Sizeof(commandNode{}))

// CommandList records commands for deferred execution. Recording appends to
// an intrusive chain of arena-backed cells in O(1) via a tail link pointer;
// nothing touches the device until the list is submitted.
//
// A list has exactly one recording goroutine at a time. The immediate list
// belongs to the render thread; async lists belong to whichever worker the
// caller hands them to. Ownership transfers only at well-defined points
// (creation, Reset, QueueAsyncCommandListSubmit), never mid-recording.
//
// Thread safety: CommandList is NOT safe for concurrent use.
type CommandList struct {
	root *commandNode
	// link points at the chain's tail slot: &root while empty, then
	// &last.next. Appending writes through it and advances it.
	link **commandNode

	nodes *arena.Arena[commandNode]
	bytes *arena.Arena[byte]

	numCommands int
	uid         uint32
	executing   bool
	deviceMask  DeviceMask

	exec        *Executor
	isImmediate bool
	ownerGID    int64

	// renderTasks are in-flight render-thread tasks (parallel translates
	// and the like) that must finish before this list's commands can be
	// dispatched. They are waited on the submitting thread, never on the
	// RHI worker.
	renderTasks []*task.Event

	// prereqs are fences the dispatch task must observe before executing
	// this list.
	prereqs []*Fence
}

func newCommandList(exec *Executor, immediate bool) *CommandList {
	l := &CommandList{
		nodes:       arena.New(exec.nodePool),
		bytes:       arena.New(exec.bytePool),
		uid:         exec.nextUID(),
		deviceMask:  DeviceMaskDefault,
		exec:        exec,
		isImmediate: immediate,
		ownerGID:    task.GoroutineID(),
	}
	l.link = &l.root
	return l
}

// UID returns the list's identity for this recording cycle. Reset assigns a
// fresh UID so stale references to a recycled immediate list are detectable.
func (l *CommandList) UID() uint32 { return l.uid }

// IsImmediate reports whether this is the executor's immediate list.
func (l *CommandList) IsImmediate() bool { return l.isImmediate }

// HasCommands reports whether anything has been recorded since the last
// reset or submission.
func (l *CommandList) HasCommands() bool { return l.numCommands > 0 }

// NumCommands returns the number of recorded commands.
func (l *CommandList) NumCommands() int { return l.numCommands }

// UsedMemory returns the recorded size in bytes: chain cells plus payload
// allocations. The parallel translate path uses it to merge small adjacent
// lists into one job.
func (l *CommandList) UsedMemory() int {
	return l.nodes.Used()*commandNodeSize + l.bytes.Used()
}

// DeviceMask returns the mask subsequent recorded commands target.
func (l *CommandList) DeviceMask() DeviceMask { return l.deviceMask }

// SetDeviceMask records a mask change. In bypass it applies immediately.
func (l *CommandList) SetDeviceMask(mask DeviceMask) {
	l.deviceMask = mask
	l.AllocCommand(CommandFunc(func(ctx Context) {
		ctx.SetDeviceMask(mask)
	}))
}

// AllocCommand appends c to the list. On the immediate list with bypass
// latched, c executes synchronously against the default context instead and
// nothing is recorded.
//
// Recording onto an executing list is a contract violation and panics.
func (l *CommandList) AllocCommand(c Command) {
	if l.executing {
		panic(fmt.Sprintf("rhi: recording onto executing command list (uid=%d)", l.uid))
	}
	l.assertOwner()
	if l.isImmediate && l.exec.bypassLatched() {
		c.Execute(l.exec.defaultContext())
		return
	}
	n := l.nodes.One()
	n.cmd = c
	*l.link = n
	l.link = &n.next
	l.numCommands++
}

// EnqueueLambda records fn for deferred execution. This is the common
// recording entry point; fn runs exactly once, on whichever goroutine
// executes the list, and must not retain ctx past its return.
func (l *CommandList) EnqueueLambda(fn CommandFunc) {
	l.AllocCommand(fn)
}

// AllocBytes returns n bytes whose lifetime matches the recorded commands:
// valid until the list finishes executing and its storage is flushed.
// Callers stage payloads here instead of holding heap references from
// closures.
func (l *CommandList) AllocBytes(n int) []byte {
	l.assertOwner()
	return l.bytes.Alloc(n)
}

// AddDispatchPrerequisite defers this list's execution until f fires. The
// fence is consumed at submission; nil fences are ignored.
func (l *CommandList) AddDispatchPrerequisite(f *Fence) {
	if f == nil {
		return
	}
	l.prereqs = append(l.prereqs, f)
}

// attachRenderTask registers an in-flight render-thread task the submitter
// must wait out before dispatching this list.
func (l *CommandList) attachRenderTask(ev *task.Event) {
	if ev == nil {
		return
	}
	l.renderTasks = append(l.renderTasks, ev)
}

// Reset discards all recorded state and assigns a fresh UID, preserving the
// device mask. Only the immediate list resets; async lists are single-use
// and their storage is reclaimed after execution.
func (l *CommandList) Reset() {
	if !l.isImmediate {
		panic("rhi: Reset on a non-immediate command list")
	}
	l.nodes.Flush()
	l.bytes.Flush()
	l.root = nil
	l.link = &l.root
	l.numCommands = 0
	l.executing = false
	l.renderTasks = nil
	l.prereqs = nil
	l.uid = l.exec.nextUID()
	l.ownerGID = task.GoroutineID()
}

// detach moves the recorded chain, storage and dependencies into a fresh
// single-use list and leaves the receiver empty and ready to record again.
// This is how the immediate list hands a frame's worth of commands to the
// dispatch chain without blocking the render thread.
func (l *CommandList) detach() *CommandList {
	d := &CommandList{
		root:        l.root,
		nodes:       l.nodes,
		bytes:       l.bytes,
		numCommands: l.numCommands,
		uid:         l.uid,
		deviceMask:  l.deviceMask,
		exec:        l.exec,
		renderTasks: l.renderTasks,
		prereqs:     l.prereqs,
	}
	d.link = &d.root

	l.root = nil
	l.link = &l.root
	l.nodes = arena.New(l.exec.nodePool)
	l.bytes = arena.New(l.exec.bytePool)
	l.numCommands = 0
	l.renderTasks = nil
	l.prereqs = nil
	l.uid = l.exec.nextUID()
	return d
}

// execute runs every recorded command against ctx, destroying each cell in
// place, then flushes the list's storage back to the pools.
func (l *CommandList) execute(ctx Context) {
	l.executing = true
	ctx.SetDeviceMask(l.deviceMask)
	it := newCommandIterator(l)
	for it.hasCommandsLeft() {
		it.nextAndExecute(ctx)
	}
	l.root = nil
	l.link = &l.root
	l.numCommands = 0
	l.nodes.Flush()
	l.bytes.Flush()
	l.executing = false
}

// QueueCommandListSubmit records the execution of a finished async list
// into the receiver: when the receiver reaches that point in its own
// execution, the queued list runs inline on the same context. The queued
// list must not be recorded onto afterwards.
func (l *CommandList) QueueCommandListSubmit(other *CommandList) {
	if other == nil || !other.HasCommands() {
		return
	}
	if other == l {
		panic("rhi: command list queued onto itself")
	}
	other.ownerGID = 0 // recording has ended; execution may land anywhere
	l.renderTasks = append(l.renderTasks, other.renderTasks...)
	other.renderTasks = nil
	l.prereqs = append(l.prereqs, other.prereqs...)
	other.prereqs = nil
	l.AllocCommand(CommandFunc(func(ctx Context) {
		other.execute(ctx)
	}))
}

// assertOwner panics when a goroutine other than the list's owner records
// onto it. The check is debug-only, gated by the CheckOwnership var, and
// disabled entirely for lists whose ownership has been released.
func (l *CommandList) assertOwner() {
	if l.ownerGID == 0 || l.exec == nil || !l.exec.vars.CheckOwnership.Load() {
		return
	}
	if g := task.GoroutineID(); g != l.ownerGID {
		panic(fmt.Sprintf("rhi: command list uid=%d recorded from goroutine %d, owned by %d", l.uid, g, l.ownerGID))
	}
}

// ReleaseOwnership detaches the list from its recording goroutine so a
// different goroutine can take over with ClaimOwnership. The handoff itself
// must be ordered by the caller (a channel send, a spawned task); the
// ownership check only catches unsynchronized concurrent recording, it does
// not create the happens-before edge.
func (l *CommandList) ReleaseOwnership() { l.ownerGID = 0 }

// ClaimOwnership binds the list to the calling goroutine.
func (l *CommandList) ClaimOwnership() { l.ownerGID = task.GoroutineID() }
