package arena

import "fmt"

// Arena is a bump allocator over pool chunks. It is confined to one
// goroutine for its recording lifetime: the list owner allocates, and once
// the list has finished executing, whoever holds it calls Flush.
//
// Thread safety: Arena is NOT safe for concurrent use. The single-writer
// discipline is enforced by the command list layer above, not here.
type Arena[T any] struct {
	pool *Pool[T]

	head *Chunk[T]
	cur  *Chunk[T]

	// used counts items allocated since the last Flush, across all chunks.
	used int
}

// New creates an arena drawing from pool. The arena owns no chunks until the
// first allocation.
func New[T any](pool *Pool[T]) *Arena[T] {
	return &Arena[T]{pool: pool}
}

// Alloc returns a slice of n items from the current chunk, acquiring a new
// chunk when the current one cannot fit the request. A single allocation
// larger than the chunk capacity is a contract violation and panics: the
// arena grows by whole chunks, it never sizes a chunk to a request.
func (a *Arena[T]) Alloc(n int) []T {
	if n > a.pool.ChunkCap() {
		panic(fmt.Sprintf("rhi/arena: allocation of %d items exceeds chunk capacity %d", n, a.pool.ChunkCap()))
	}
	c := a.cur
	if c == nil || len(c.Items)-c.Used < n {
		c = a.pool.Acquire()
		if a.cur != nil {
			a.cur.Next = c
		} else {
			a.head = c
		}
		a.cur = c
	}
	s := c.Items[c.Used : c.Used+n : c.Used+n]
	c.Used += n
	a.used += n
	return s
}

// One allocates a single item and returns a pointer to it.
func (a *Arena[T]) One() *T {
	return &a.Alloc(1)[0]
}

// Used returns the number of items allocated since the last Flush.
func (a *Arena[T]) Used() int { return a.used }

// Flush clears every allocated item and returns all chunks to the pool.
// Only valid once no reader is iterating the arena's contents; the executor
// guarantees that by flushing only after a list has finished executing.
func (a *Arena[T]) Flush() {
	for c := a.head; c != nil; {
		next := c.Next
		clear(c.Items[:c.Used])
		a.pool.Release(c)
		c = next
	}
	a.head = nil
	a.cur = nil
	a.used = 0
}
