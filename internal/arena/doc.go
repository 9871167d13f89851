// Package arena provides the backing storage for recorded command lists.
//
// Two pieces cooperate:
//
//   - Pool is a process-wide, lock-free free list of fixed-capacity chunks.
//     Any goroutine may acquire or release chunks concurrently; allocation
//     never takes a blocking lock, only a bounded CAS retry loop.
//
//   - Arena is a thread-confined bump allocator that draws chunks from a
//     Pool. It never frees individual allocations; Flush returns every
//     chunk to the pool at once.
//
// The split mirrors how command lists are used: recording is single-writer
// and wants O(1) allocation with zero per-item bookkeeping, while the chunk
// supply underneath is shared by every list in the process.
package arena
