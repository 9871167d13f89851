package arena

import (
	"sync"
	"testing"
)

func TestPoolAcquireRelease(t *testing.T) {
	p := NewPool[byte](64, 0)

	c := p.Acquire()
	if c == nil {
		t.Fatal("Acquire returned nil")
	}
	if len(c.Items) != 64 {
		t.Errorf("chunk capacity = %d, want 64", len(c.Items))
	}
	if c.Used != 0 {
		t.Errorf("fresh chunk Used = %d, want 0", c.Used)
	}

	p.Release(c)
	c2 := p.Acquire()
	if c2.Used != 0 {
		t.Errorf("recycled chunk Used = %d, want 0", c2.Used)
	}
}

func TestPoolDefaults(t *testing.T) {
	p := NewPool[int](0, 0)
	if p.ChunkCap() != DefaultChunkCap {
		t.Errorf("ChunkCap() = %d, want %d", p.ChunkCap(), DefaultChunkCap)
	}
}

func TestPoolBudgetExhaustionPanics(t *testing.T) {
	p := NewPool[byte](8, growBatch) // one batch is the whole budget

	for i := 0; i < growBatch; i++ {
		p.Acquire()
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when chunk budget is exhausted")
		}
	}()
	p.Acquire()
}

func TestPoolTrimRetiresFreeChunks(t *testing.T) {
	p := NewPool[byte](16, 0)

	chunks := make([]*Chunk[byte], 4)
	for i := range chunks {
		chunks[i] = p.Acquire()
	}
	for _, c := range chunks {
		p.Release(c)
	}

	before := p.Allocated()
	retired := p.Trim(2)
	if retired != 2 {
		t.Fatalf("Trim retired %d chunks, want 2", retired)
	}
	if got := p.Allocated(); got != before-2 {
		t.Errorf("Allocated() = %d, want %d", got, before-2)
	}
}

func TestPoolTrimDefersToFutureReleases(t *testing.T) {
	p := NewPool[byte](16, 0)
	c := p.Acquire()

	// Free list is empty, so the quota must apply to the next release.
	if retired := p.Trim(1); retired != 0 {
		t.Fatalf("Trim retired %d chunks from an empty free list, want 0", retired)
	}

	before := p.Allocated()
	p.Release(c)
	if got := p.Allocated(); got != before-1 {
		t.Errorf("Allocated() after deferred retire = %d, want %d", got, before-1)
	}
}

func TestPoolReleaseRetiredPanics(t *testing.T) {
	p := NewPool[byte](16, 0)
	c := p.Acquire()
	c.kind = KindRetired

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on release of retired chunk")
		}
	}()
	p.Release(c)
}

// TestPoolConcurrentAcquire hammers the pool from many goroutines and
// verifies no chunk is ever handed to two owners at once.
func TestPoolConcurrentAcquire(t *testing.T) {
	const (
		goroutines = 8
		iterations = 2000
	)
	p := NewPool[byte](32, 0)

	var mu sync.Mutex
	owned := make(map[*Chunk[byte]]int)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			held := make([]*Chunk[byte], 0, 4)
			for i := 0; i < iterations; i++ {
				c := p.Acquire()

				mu.Lock()
				if owner, taken := owned[c]; taken {
					mu.Unlock()
					t.Errorf("chunk %p handed to goroutine %d while owned by %d", c, id, owner)
					return
				}
				owned[c] = id
				mu.Unlock()

				held = append(held, c)
				if len(held) == cap(held) || i%3 == 0 {
					for _, h := range held {
						mu.Lock()
						delete(owned, h)
						mu.Unlock()
						p.Release(h)
					}
					held = held[:0]
				}
			}
			for _, h := range held {
				mu.Lock()
				delete(owned, h)
				mu.Unlock()
				p.Release(h)
			}
		}(g)
	}
	wg.Wait()
}
