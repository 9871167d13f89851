package arena

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// Default pool sizing.
const (
	// DefaultChunkCap is the per-chunk item capacity used when a Pool is
	// created with a non-positive capacity.
	DefaultChunkCap = 4096

	// DefaultMaxChunks bounds how many chunks a pool may hand out in total.
	// Exceeding it is treated as out-of-memory and panics.
	DefaultMaxChunks = 16384

	// growBatch is how many chunks are carved at once when the free list
	// runs dry. Growing in batches keeps the CAS traffic on the free list
	// proportional to churn, not to total allocation volume.
	growBatch = 8

	// casYieldAfter is the number of failed CAS attempts after which a
	// contending goroutine yields before retrying.
	casYieldAfter = 16
)

// Kind tags the lifecycle state of a chunk. An explicit tag is used instead
// of pointer tricks so that a retired chunk can never be confused with a
// live one.
type Kind uint8

const (
	// KindLive marks a chunk that may be recycled through the free list.
	KindLive Kind = iota

	// KindRetired marks a chunk that must be dropped on release instead of
	// being recycled. Chunks are retired by Trim to shrink the pool.
	KindRetired
)

// Chunk is a fixed-capacity slab of items handed out by a Pool.
// A chunk is owned by exactly one Arena between Acquire and Release.
type Chunk[T any] struct {
	// Items is the chunk's storage. Its length equals the pool's chunk
	// capacity and never changes.
	Items []T

	// Used is the bump cursor maintained by the owning Arena.
	Used int

	// Next chains chunks owned by the same Arena.
	Next *Chunk[T]

	kind Kind
}

// freeNode is a single cell of the lock-free free list. A fresh node is
// allocated on every push, so a node is never reused and the classic ABA
// hazard of a Treiber stack cannot occur.
type freeNode[T any] struct {
	chunk *Chunk[T]
	next  *freeNode[T]
}

// Pool is a lock-free free list of chunks shared by every arena in the
// process. Acquire and Release may be called from any goroutine.
//
// Thread safety: Pool is safe for concurrent use.
type Pool[T any] struct {
	free atomic.Pointer[freeNode[T]]

	// growing serializes batch growth so exactly one goroutine carves new
	// chunks while the rest retry the free list.
	growing atomic.Bool

	// allocated counts chunks handed out over the pool's lifetime,
	// including chunks currently owned by arenas.
	allocated atomic.Int64

	// retireTarget is the number of releases that should retire their
	// chunk instead of recycling it.
	retireTarget atomic.Int64

	chunkCap  int
	maxChunks int64
}

// NewPool creates a pool of chunks holding chunkCap items each.
// Non-positive values select DefaultChunkCap and DefaultMaxChunks.
func NewPool[T any](chunkCap int, maxChunks int64) *Pool[T] {
	if chunkCap <= 0 {
		chunkCap = DefaultChunkCap
	}
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	return &Pool[T]{chunkCap: chunkCap, maxChunks: maxChunks}
}

// ChunkCap returns the per-chunk item capacity.
func (p *Pool[T]) ChunkCap() int { return p.chunkCap }

// Acquire returns a chunk with Used == 0. It first tries the free list and
// grows the pool only when the list is empty. Acquire panics if growth would
// exceed the pool's chunk budget; command recording treats that as
// out-of-memory, not as a recoverable error.
func (p *Pool[T]) Acquire() *Chunk[T] {
	for attempt := 0; ; attempt++ {
		if c := p.tryPop(); c != nil {
			c.Used = 0
			c.Next = nil
			return c
		}
		if p.growing.CompareAndSwap(false, true) {
			c := p.grow()
			p.growing.Store(false)
			return c
		}
		// Another goroutine is growing; yield and retry the free list.
		if attempt%casYieldAfter == casYieldAfter-1 {
			runtime.Gosched()
		}
	}
}

// tryPop pops one chunk from the free list, or returns nil if it is empty.
func (p *Pool[T]) tryPop() *Chunk[T] {
	for attempt := 0; ; attempt++ {
		head := p.free.Load()
		if head == nil {
			return nil
		}
		if p.free.CompareAndSwap(head, head.next) {
			return head.chunk
		}
		if attempt%casYieldAfter == casYieldAfter-1 {
			runtime.Gosched()
		}
	}
}

// grow carves a batch of fresh chunks from one backing slice, keeps one for
// the caller and pushes the rest onto the free list.
func (p *Pool[T]) grow() *Chunk[T] {
	n := p.allocated.Add(growBatch)
	if n > p.maxChunks {
		p.allocated.Add(-growBatch)
		panic(fmt.Sprintf("rhi/arena: chunk budget exhausted (%d chunks of %d items)", p.maxChunks, p.chunkCap))
	}
	backing := make([]T, growBatch*p.chunkCap)
	first := &Chunk[T]{Items: backing[:p.chunkCap:p.chunkCap]}
	for i := 1; i < growBatch; i++ {
		c := &Chunk[T]{Items: backing[i*p.chunkCap : (i+1)*p.chunkCap : (i+1)*p.chunkCap]}
		p.push(c)
	}
	return first
}

// Release returns a chunk to the free list. The caller must have cleared any
// pointer-holding items; Arena.Flush does this. Releasing a retired chunk is
// a programming error and panics.
func (p *Pool[T]) Release(c *Chunk[T]) {
	if c.kind == KindRetired {
		panic("rhi/arena: release of retired chunk")
	}
	if p.takeRetire() {
		c.kind = KindRetired
		p.allocated.Add(-1)
		return
	}
	c.Used = 0
	c.Next = nil
	p.push(c)
}

func (p *Pool[T]) push(c *Chunk[T]) {
	node := &freeNode[T]{chunk: c}
	for attempt := 0; ; attempt++ {
		head := p.free.Load()
		node.next = head
		if p.free.CompareAndSwap(head, node) {
			return
		}
		if attempt%casYieldAfter == casYieldAfter-1 {
			runtime.Gosched()
		}
	}
}

// takeRetire consumes one unit of the retire quota if any is outstanding.
func (p *Pool[T]) takeRetire() bool {
	for {
		t := p.retireTarget.Load()
		if t <= 0 {
			return false
		}
		if p.retireTarget.CompareAndSwap(t, t-1) {
			return true
		}
	}
}

// Trim asks the pool to shed up to n chunks. Chunks sitting on the free list
// are retired immediately; the remainder of the quota is applied to future
// releases. Returns how many chunks were retired immediately.
func (p *Pool[T]) Trim(n int) int {
	retired := 0
	for retired < n {
		c := p.tryPop()
		if c == nil {
			break
		}
		c.kind = KindRetired
		p.allocated.Add(-1)
		retired++
	}
	if rest := n - retired; rest > 0 {
		p.retireTarget.Add(int64(rest))
	}
	return retired
}

// Allocated returns the number of chunks currently attributed to the pool,
// whether on the free list or owned by arenas.
func (p *Pool[T]) Allocated() int64 { return p.allocated.Load() }
