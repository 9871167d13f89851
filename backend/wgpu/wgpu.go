//go:build !nogpu

// Package wgpu provides a context provider backed by a gogpu/wgpu HAL
// device. Recorded buffer updates become queue writes; flushes submit a
// fence and wait for the device to drain.
package wgpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

func init() {
	rhi.RegisterBackend("wgpu", func() (rhi.ContextProvider, error) {
		return NewProvider()
	})
}

// ErrNoGPU is returned when no usable adapter can be opened.
var ErrNoGPU = errors.New("wgpu: no usable GPU adapter")

const flushTimeout = 5 * time.Second

// Buffer wraps a hal.Buffer created for update and readback traffic.
type Buffer struct {
	raw  hal.Buffer
	size int
}

// Len returns the buffer size in bytes.
func (b *Buffer) Len() int { return b.size }

// Raw returns the underlying HAL buffer.
func (b *Buffer) Raw() hal.Buffer { return b.raw }

// Provider owns (or borrows) a HAL device and vends execution contexts
// for it.
//
// Thread safety: Provider is safe for concurrent use.
type Provider struct {
	mu       sync.Mutex
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	owned    bool

	def Context
}

// NewProvider opens a device on the Vulkan backend, preferring a discrete
// or integrated adapter.
func NewProvider() (*Provider, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", ErrNoGPU)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoGPU
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	p := &Provider{
		instance: instance,
		device:   openDev.Device,
		queue:    openDev.Queue,
		owned:    true,
	}
	p.def = Context{provider: p}
	rhi.Logger().Info("wgpu provider initialized", "adapter", selected.Info.Name)
	return p, nil
}

// NewProviderFromDevice borrows a device and queue from an external
// gpucontext provider. The borrowed device is not destroyed on Close.
func NewProviderFromDevice(dp gpucontext.DeviceProvider) (*Provider, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := any(dp).(halProvider)
	if !ok {
		return nil, fmt.Errorf("wgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}
	p := &Provider{device: device, queue: queue}
	p.def = Context{provider: p}
	return p, nil
}

// CreateBuffer allocates a device buffer usable as an update target and a
// copy source for readback. Size is aligned up to the 4-byte copy
// granularity.
func (p *Provider) CreateBuffer(size int, label string) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("wgpu: invalid buffer size %d", size)
	}
	const align = 4
	aligned := (uint64(size) + align - 1) &^ (align - 1)
	raw, err := p.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  aligned,
		Usage: gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc | gputypes.BufferUsageStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer: %w", err)
	}
	return &Buffer{raw: raw, size: int(aligned)}, nil
}

// DestroyBuffer releases a buffer created by CreateBuffer.
func (p *Provider) DestroyBuffer(b *Buffer) {
	if b == nil || b.raw == nil {
		return
	}
	p.device.DestroyBuffer(b.raw)
	b.raw = nil
}

// ReadBuffer copies the buffer's current contents back to the host. It
// drains the queue first so the read observes every prior write.
func (p *Provider) ReadBuffer(b *Buffer) ([]byte, error) {
	if err := p.drain(); err != nil {
		return nil, err
	}
	out := make([]byte, b.size)
	if err := p.queue.ReadBuffer(b.raw, 0, out); err != nil {
		return nil, fmt.Errorf("wgpu: read buffer: %w", err)
	}
	return out, nil
}

// DefaultContext implements rhi.ContextProvider.
func (p *Provider) DefaultContext() rhi.Context { return &p.def }

// GetContextContainer implements rhi.ContextProvider. Every container
// shares the device queue; parallel translation overlaps the CPU-side
// encoding while the queue serializes device submission.
func (p *Provider) GetContextContainer(index, total int) rhi.ContextContainer {
	return &container{ctx: Context{provider: p}}
}

// Close drains the queue and destroys owned resources.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return
	}
	if err := p.drain(); err != nil {
		rhi.Logger().Warn("wgpu drain on close failed", "error", err)
	}
	if p.owned {
		p.device.Destroy()
		if p.instance != nil {
			p.instance.Destroy()
		}
	}
	p.device = nil
	p.queue = nil
	p.instance = nil
}

// drain submits a fence and waits until the device signals it.
func (p *Provider) drain() error {
	fence, err := p.device.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create fence: %w", err)
	}
	defer p.device.DestroyFence(fence)
	if err := p.queue.Submit(nil, fence, 1); err != nil {
		return fmt.Errorf("wgpu: submit fence: %w", err)
	}
	ok, err := p.device.Wait(fence, 1, flushTimeout)
	if err != nil {
		return fmt.Errorf("wgpu: wait fence: %w", err)
	}
	if !ok {
		return fmt.Errorf("wgpu: device flush timed out after %s", flushTimeout)
	}
	return nil
}

// Context executes recorded commands against the HAL queue.
type Context struct {
	provider *Provider
	mask     rhi.DeviceMask
}

// SetDeviceMask implements rhi.Context. HAL devices are single-GPU; the
// mask is recorded for diagnostics only.
func (c *Context) SetDeviceMask(mask rhi.DeviceMask) { c.mask = mask }

// UpdateBuffer implements rhi.Context as a queue write.
func (c *Context) UpdateBuffer(dst rhi.Buffer, offset int, data []byte) {
	b, ok := dst.(*Buffer)
	if !ok {
		panic(fmt.Sprintf("wgpu: UpdateBuffer on foreign buffer type %T", dst))
	}
	c.provider.queue.WriteBuffer(b.raw, uint64(offset), data)
}

// Flush implements rhi.Context by draining the queue.
func (c *Context) Flush() {
	if err := c.provider.drain(); err != nil {
		panic(err)
	}
}

type container struct {
	ctx Context
}

func (c *container) GetContext() rhi.Context { return &c.ctx }

func (c *container) FinishContext() {}

// Submit implements rhi.ContextContainer. Queue writes issued during
// translation are already ordered by the shared queue, so submission at
// stream position needs no replay.
func (c *container) Submit(index, total int) {}
