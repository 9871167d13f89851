package rhi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeContext records the effects applied to it.
type fakeContext struct {
	masks   []DeviceMask
	flushes int
	order   []int
}

func (c *fakeContext) SetDeviceMask(mask DeviceMask) { c.masks = append(c.masks, mask) }

func (c *fakeContext) UpdateBuffer(dst Buffer, offset int, data []byte) {}

func (c *fakeContext) Flush() { c.flushes++ }

type fakeProvider struct {
	def fakeContext
}

func (p *fakeProvider) DefaultContext() Context { return &p.def }

func (p *fakeProvider) GetContextContainer(index, total int) ContextContainer { return nil }

func newTestExecutor(t *testing.T, mutate func(*Vars)) (*Executor, *fakeProvider) {
	t.Helper()
	p := &fakeProvider{}
	vars := defaultVars()
	if mutate != nil {
		mutate(vars)
	}
	e, err := NewExecutor(Options{Provider: p, Workers: 2, Vars: vars})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, p
}

func TestListRecordsInOrder(t *testing.T) {
	e, p := newTestExecutor(t, nil)
	l := e.NewCommandList()

	for i := 0; i < 100; i++ {
		i := i
		l.EnqueueLambda(func(ctx Context) {
			p.def.order = append(p.def.order, i)
		})
	}
	require.Equal(t, 100, l.NumCommands())
	require.True(t, l.HasCommands())

	l.execute(&p.def)
	require.Len(t, p.def.order, 100)
	for i, got := range p.def.order {
		require.Equal(t, i, got)
	}
	require.False(t, l.HasCommands())
}

func TestListSetsDeviceMaskBeforeFirstCommand(t *testing.T) {
	e, p := newTestExecutor(t, nil)
	l := e.NewCommandList()
	l.EnqueueLambda(func(Context) {})
	l.execute(&p.def)

	require.NotEmpty(t, p.def.masks)
	require.Equal(t, DeviceMaskDefault, p.def.masks[0])
}

func TestSetDeviceMaskMidStream(t *testing.T) {
	e, p := newTestExecutor(t, nil)
	l := e.NewCommandList()
	l.EnqueueLambda(func(Context) {})
	l.SetDeviceMask(DeviceMaskAll)
	l.execute(&p.def)

	require.Equal(t, []DeviceMask{DeviceMaskDefault, DeviceMaskAll}, p.def.masks)
}

func TestResetAssignsFreshUID(t *testing.T) {
	e, _ := newTestExecutor(t, nil)
	im := e.GetImmediateCommandList()
	im.EnqueueLambda(func(Context) {})
	old := im.UID()

	im.Reset()
	require.NotEqual(t, old, im.UID())
	require.False(t, im.HasCommands())
	require.Zero(t, im.UsedMemory())
}

func TestResetOnAsyncListPanics(t *testing.T) {
	e, _ := newTestExecutor(t, nil)
	l := e.NewCommandList()
	require.Panics(t, func() { l.Reset() })
}

func TestDetachLeavesListRecording(t *testing.T) {
	e, p := newTestExecutor(t, nil)
	l := e.NewCommandList()
	l.EnqueueLambda(func(Context) {})
	l.EnqueueLambda(func(Context) {})

	d := l.detach()
	require.Equal(t, 2, d.NumCommands())
	require.False(t, l.HasCommands())
	require.NotEqual(t, d.UID(), l.UID())

	// The original keeps recording into fresh storage.
	l.EnqueueLambda(func(Context) {})
	require.Equal(t, 1, l.NumCommands())

	d.execute(&p.def)
	l.execute(&p.def)
}

func TestAllocBytesLifetime(t *testing.T) {
	e, _ := newTestExecutor(t, nil)
	l := e.NewCommandList()

	payload := l.AllocBytes(16)
	copy(payload, "deferred")
	var got string
	l.EnqueueLambda(func(Context) {
		got = string(payload[:8])
	})
	l.execute(e.defaultContext())
	require.Equal(t, "deferred", got)
}

func TestUsedMemoryGrows(t *testing.T) {
	e, _ := newTestExecutor(t, nil)
	l := e.NewCommandList()
	require.Zero(t, l.UsedMemory())

	l.EnqueueLambda(func(Context) {})
	afterCmd := l.UsedMemory()
	require.Positive(t, afterCmd)

	l.AllocBytes(128)
	require.Equal(t, afterCmd+128, l.UsedMemory())
}

func TestOwnershipViolationPanics(t *testing.T) {
	e, _ := newTestExecutor(t, nil)
	l := e.NewCommandList()

	got := make(chan any, 1)
	go func() {
		defer func() { got <- recover() }()
		l.EnqueueLambda(func(Context) {})
	}()
	require.NotNil(t, <-got)
}

func TestOwnershipHandoff(t *testing.T) {
	e, _ := newTestExecutor(t, nil)
	l := e.NewCommandList()
	l.ReleaseOwnership()

	done := make(chan any, 1)
	go func() {
		defer func() { done <- recover() }()
		l.ClaimOwnership()
		l.EnqueueLambda(func(Context) {})
	}()
	require.Nil(t, <-done)
}

func TestQueueCommandListSubmitInline(t *testing.T) {
	e, p := newTestExecutor(t, nil)

	inner := e.NewCommandList()
	inner.EnqueueLambda(func(Context) { p.def.order = append(p.def.order, 2) })
	inner.ReleaseOwnership()

	outer := e.NewCommandList()
	outer.EnqueueLambda(func(Context) { p.def.order = append(p.def.order, 1) })
	outer.QueueCommandListSubmit(inner)
	outer.EnqueueLambda(func(Context) { p.def.order = append(p.def.order, 3) })

	outer.execute(&p.def)
	require.Equal(t, []int{1, 2, 3}, p.def.order)
}

func TestQueueCommandListSubmitSelfPanics(t *testing.T) {
	e, _ := newTestExecutor(t, nil)
	l := e.NewCommandList()
	l.EnqueueLambda(func(Context) {})
	require.Panics(t, func() { l.QueueCommandListSubmit(l) })
}
