// Package null provides a device-less context provider. Commands execute
// and their effects land in host memory, which makes it the backend of
// choice for tests, benchmarks and headless tools.
package null

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/rhi"
)

func init() {
	rhi.RegisterBackend("null", func() (rhi.ContextProvider, error) {
		return NewProvider(), nil
	})
}

// Buffer is a host-memory resource. It satisfies rhi.HostVisibleBuffer, so
// read locks work against it directly.
type Buffer struct {
	data []byte
}

// NewBuffer allocates a zeroed buffer of size bytes.
func NewBuffer(size int) *Buffer {
	return &Buffer{data: make([]byte, size)}
}

// Len returns the buffer size in bytes.
func (b *Buffer) Len() int { return len(b.data) }

// HostBytes returns the live backing storage.
func (b *Buffer) HostBytes() []byte { return b.data }

// Context counts the operations applied to it and applies buffer updates
// to host memory. One context is bound to one executing goroutine at a
// time, so the counters are plain ints guarded by the provider only where
// contexts merge.
type Context struct {
	maskSets int
	updates  int
	flushes  int
	lastMask rhi.DeviceMask
}

// SetDeviceMask implements rhi.Context.
func (c *Context) SetDeviceMask(mask rhi.DeviceMask) {
	c.maskSets++
	c.lastMask = mask
}

// UpdateBuffer implements rhi.Context by copying into host memory.
func (c *Context) UpdateBuffer(dst rhi.Buffer, offset int, data []byte) {
	b, ok := dst.(*Buffer)
	if !ok {
		panic(fmt.Sprintf("null: UpdateBuffer on foreign buffer type %T", dst))
	}
	copy(b.data[offset:], data)
	c.updates++
}

// Flush implements rhi.Context.
func (c *Context) Flush() { c.flushes++ }

// Provider vends null contexts. It remembers the order in which parallel
// containers were submitted, which tests use to assert the linear stream
// order survives parallel translation.
//
// Thread safety: Provider is safe for concurrent use.
type Provider struct {
	def Context

	// parallel gates GetContextContainer. Disabled providers return nil,
	// forcing the serial splice path.
	parallel atomic.Bool

	// maxContainers caps how many container indices are vended per batch.
	// Negative means no cap.
	maxContainers atomic.Int64

	mu          sync.Mutex
	submitOrder []int
	finished    int
}

// NewProvider returns a provider with parallel translation enabled.
func NewProvider() *Provider {
	p := &Provider{}
	p.parallel.Store(true)
	p.maxContainers.Store(-1)
	return p
}

// SetParallel toggles parallel context support.
func (p *Provider) SetParallel(on bool) { p.parallel.Store(on) }

// SetMaxContainers makes GetContextContainer decline indices at or above
// n. Pass a negative n to lift the cap.
func (p *Provider) SetMaxContainers(n int) { p.maxContainers.Store(int64(n)) }

// DefaultContext implements rhi.ContextProvider.
func (p *Provider) DefaultContext() rhi.Context { return &p.def }

// GetContextContainer implements rhi.ContextProvider.
func (p *Provider) GetContextContainer(index, total int) rhi.ContextContainer {
	if !p.parallel.Load() {
		return nil
	}
	if max := p.maxContainers.Load(); max >= 0 && int64(index) >= max {
		return nil
	}
	return &container{provider: p, index: index}
}

// SubmitOrder returns the container indices in the order they were
// submitted on the dispatch timeline.
func (p *Provider) SubmitOrder() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.submitOrder))
	copy(out, p.submitOrder)
	return out
}

// FinishedContainers returns how many containers completed translation.
func (p *Provider) FinishedContainers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// container is one parallel translate slot.
type container struct {
	provider *Provider
	index    int
	ctx      Context
	done     bool
}

func (c *container) GetContext() rhi.Context { return &c.ctx }

func (c *container) FinishContext() {
	c.done = true
	c.provider.mu.Lock()
	c.provider.finished++
	c.provider.mu.Unlock()
}

func (c *container) Submit(index, total int) {
	if !c.done {
		panic("null: container submitted before FinishContext")
	}
	c.provider.mu.Lock()
	c.provider.submitOrder = append(c.provider.submitOrder, c.index)
	c.provider.mu.Unlock()
}
