package rhi

import (
	"fmt"
	"sort"
	"sync"
)

// DeviceMask selects which devices of a multi-device configuration
// subsequent commands target. Bit N selects device N.
type DeviceMask uint32

// DeviceMaskAll targets every device.
const DeviceMaskAll = ^DeviceMask(0)

// DeviceMaskDefault targets the first device only.
const DeviceMaskDefault = DeviceMask(1)

// Buffer is an opaque device resource that commands may update. Backends
// provide concrete buffer types; the engine only ever compares handles and
// forwards byte ranges.
type Buffer interface {
	// Len returns the resource size in bytes.
	Len() int
}

// HostVisibleBuffer is implemented by buffers whose storage can be read
// directly from the host. Read-mode locks require it.
type HostVisibleBuffer interface {
	Buffer
	HostBytes() []byte
}

// Context is the device-facing execution context that recorded commands run
// against. How a given command becomes native device work is entirely the
// backend's concern; the engine only requires the operations below for its
// built-in records.
//
// A Context is bound to one executing goroutine at a time. The executor
// never shares a context between concurrently running tasks.
type Context interface {
	// SetDeviceMask selects the devices subsequent commands target. The
	// executor calls this exactly once per list before the first record
	// runs, and commands may call it again mid-stream.
	SetDeviceMask(mask DeviceMask)

	// UpdateBuffer copies data into dst at offset. Used by the buffered
	// lock/unlock path to replay staged writes on the device timeline.
	UpdateBuffer(dst Buffer, offset int, data []byte)

	// Flush makes all work submitted to this context so far visible to
	// the device.
	Flush()
}

// ContextContainer vends one translation context for a parallel translate
// task and later submits the produced work in caller-specified order.
//
// Lifecycle: GetContext (on the translate worker) -> FinishContext (same
// worker, after the group's lists executed) -> Submit (on the RHI worker,
// at the group's position in the linear stream).
type ContextContainer interface {
	GetContext() Context
	FinishContext()
	Submit(index, total int)
}

// ContextProvider is a backend's entry point: it supplies the default
// context for serial execution and vends containers for parallel
// translation.
type ContextProvider interface {
	// DefaultContext returns the context used for serial dispatch and
	// bypass execution. The same context is returned every call.
	DefaultContext() Context

	// GetContextContainer returns the container for translate job index
	// of total. Providers that cannot translate in parallel return nil,
	// which disables the parallel path for that submission.
	GetContextContainer(index, total int) ContextContainer
}

// Registry state - protected by mutex for thread-safe access.
var (
	registryMu sync.RWMutex
	providers  = make(map[string]func() (ContextProvider, error))
)

// RegisterBackend registers a context provider factory under name.
// Backends call this from init(), following the database/sql driver
// pattern:
//
//	func init() {
//	    rhi.RegisterBackend("null", func() (rhi.ContextProvider, error) {
//	        return null.NewProvider(), nil
//	    })
//	}
//
// RegisterBackend panics if factory is nil or name is already taken, so
// duplicate registrations surface during program initialization.
func RegisterBackend(name string, factory func() (ContextProvider, error)) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("rhi: RegisterBackend factory is nil")
	}
	if _, dup := providers[name]; dup {
		panic("rhi: RegisterBackend called twice for " + name)
	}
	providers[name] = factory
}

// UnregisterBackend removes a backend from the registry. Primarily useful
// for tests cleaning up after themselves.
func UnregisterBackend(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(providers, name)
}

// NewContextProvider instantiates a registered backend by name.
func NewContextProvider(name string) (ContextProvider, error) {
	registryMu.RLock()
	factory, ok := providers[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("rhi: unknown backend %q (registered: %v)", name, BackendNames())
	}
	return factory()
}

// BackendNames returns the sorted names of all registered backends.
func BackendNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
