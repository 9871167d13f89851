package rhi

import "fmt"

// LockMode selects what a buffer lock is for.
type LockMode uint8

const (
	// LockReadOnly returns the buffer's current contents. The lock drains
	// all outstanding device work first so the read observes every write
	// submitted before it.
	LockReadOnly LockMode = iota

	// LockWriteOnly returns scratch storage for new contents. Nothing is
	// read back; the bytes reach the buffer on the device timeline when
	// the matching unlock's update command executes.
	LockWriteOnly
)

func (m LockMode) String() string {
	switch m {
	case LockReadOnly:
		return "read"
	case LockWriteOnly:
		return "write"
	default:
		return fmt.Sprintf("LockMode(%d)", uint8(m))
	}
}

// lockEntry is one outstanding lock. Entries pair strictly with unlocks;
// an unlock without a matching lock is a contract violation.
type lockEntry struct {
	buf    Buffer
	offset int
	staged []byte
	mode   LockMode
}

// lockTracker records outstanding buffer locks between LockBuffer and
// UnlockBuffer. Lock operations are render-thread only, like every other
// immediate-stream operation, so no locking is needed here.
type lockTracker struct {
	entries []lockEntry
}

func (t *lockTracker) add(e lockEntry) {
	for _, prev := range t.entries {
		if prev.buf == e.buf {
			panic("rhi: buffer locked twice without unlock")
		}
	}
	t.entries = append(t.entries, e)
}

// take removes and returns the entry for buf. Unlocks usually arrive in
// lock order, so the scan starts at the front.
func (t *lockTracker) take(buf Buffer) lockEntry {
	for i, e := range t.entries {
		if e.buf == buf {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return e
		}
	}
	panic("rhi: unlock of a buffer that is not locked")
}

// LockBuffer maps size bytes of buf at offset for CPU access and returns
// the mapped slice. Call from the render thread.
//
// Write locks return staged scratch memory, carved from the immediate
// list's payload arena when deferring and from the heap under bypass or
// for oversized requests; the data travels to the device when
// UnlockBuffer's update command executes, so recording continues without
// a stall.
//
// Read locks are inherently synchronizing: the dispatch chain is drained
// and any pending lock fence waited before the buffer's live contents are
// returned. buf must be host visible for a read lock.
func (e *Executor) LockBuffer(buf Buffer, offset, size int, mode LockMode) []byte {
	if buf == nil {
		panic("rhi: LockBuffer on nil buffer")
	}
	if offset < 0 || size < 0 || offset+size > buf.Len() {
		panic(fmt.Sprintf("rhi: lock range [%d, %d) outside buffer of %d bytes", offset, offset+size, buf.Len()))
	}

	switch mode {
	case LockWriteOnly:
		var staged []byte
		// The arena only reclaims staged bytes when the immediate list is
		// dispatched and executed. Bypass never dispatches it, so bypass
		// locks stage from the heap, as oversized requests always do.
		if e.bypassLatched() || size > e.bytePool.ChunkCap() {
			staged = make([]byte, size)
		} else {
			staged = e.immediate.AllocBytes(size)
		}
		e.lock.add(lockEntry{buf: buf, offset: offset, staged: staged, mode: mode})
		return staged

	case LockReadOnly:
		if f := e.currentLockFence(); f != nil {
			e.WaitOnRHIThreadFence(f)
		}
		e.ImmediateFlush(FlushRHIThread)
		hv, ok := buf.(HostVisibleBuffer)
		if !ok {
			panic("rhi: read lock on a buffer without host-visible storage")
		}
		e.lock.add(lockEntry{buf: buf, offset: offset, mode: mode})
		return hv.HostBytes()[offset : offset+size]

	default:
		panic(fmt.Sprintf("rhi: unknown lock mode %d", mode))
	}
}

// UnlockBuffer ends the outstanding lock on buf. For a write lock this
// records the update command carrying the staged bytes; for a read lock it
// only clears the bookkeeping.
func (e *Executor) UnlockBuffer(buf Buffer) {
	entry := e.lock.take(buf)
	if entry.mode != LockWriteOnly {
		return
	}
	dst, offset, data := entry.buf, entry.offset, entry.staged
	e.immediate.AllocCommand(CommandFunc(func(ctx Context) {
		ctx.UpdateBuffer(dst, offset, data)
	}))
}
