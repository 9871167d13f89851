package rhi_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/null"
)

func TestWriteLockReachesBuffer(t *testing.T) {
	e, _ := startExecutor(t, nil)
	buf := null.NewBuffer(256)

	data := e.LockBuffer(buf, 16, 8, rhi.LockWriteOnly)
	copy(data, "payload!")
	e.UnlockBuffer(buf)

	// Nothing lands until the update command executes.
	require.True(t, bytes.Equal(buf.HostBytes()[16:24], make([]byte, 8)))

	e.ImmediateFlush(rhi.FlushRHIThread)
	require.Equal(t, []byte("payload!"), buf.HostBytes()[16:24])
}

func TestWriteLockInBypassLandsOnUnlock(t *testing.T) {
	e, _ := startExecutor(t, func(v *rhi.Vars) { v.Bypass.Store(true) })
	buf := null.NewBuffer(64)

	data := e.LockBuffer(buf, 0, 4, rhi.LockWriteOnly)
	copy(data, "sync")
	e.UnlockBuffer(buf)
	require.Equal(t, []byte("sync"), buf.HostBytes()[:4])
}

func TestBypassWriteLocksDoNotGrowArena(t *testing.T) {
	p := null.NewProvider()
	vars := &rhi.Vars{}
	vars.Bypass.Store(true)
	e, err := rhi.NewExecutor(rhi.Options{Provider: p, Workers: 1, ChunkCap: 256, MaxChunks: 8, Vars: vars})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	e.MarkRenderThread()

	// Bypass never dispatches the immediate list, so staged lock bytes
	// must not accumulate in its arena across frames. With the tiny pool
	// above, arena staging would exhaust the chunk budget within the
	// first couple hundred iterations.
	buf := null.NewBuffer(256)
	for frame := 0; frame < 10000; frame++ {
		data := e.LockBuffer(buf, 0, 128, rhi.LockWriteOnly)
		data[0] = byte(frame)
		e.UnlockBuffer(buf)
		e.ImmediateFlush(rhi.FlushRHIThread)
	}

	require.Equal(t, byte(9999%256), buf.HostBytes()[0])
	require.Zero(t, e.Stats().ByteChunks)
}

func TestReadLockSeesPriorWrites(t *testing.T) {
	e, _ := startExecutor(t, nil)
	buf := null.NewBuffer(64)

	e.GetImmediateCommandList().EnqueueLambda(func(ctx rhi.Context) {
		ctx.UpdateBuffer(buf, 0, []byte("deferred"))
	})

	// The read lock drains the dispatch chain itself.
	data := e.LockBuffer(buf, 0, 8, rhi.LockReadOnly)
	require.Equal(t, []byte("deferred"), data)
	e.UnlockBuffer(buf)
}

func TestReadLockWaitsLockFence(t *testing.T) {
	e, _ := startExecutor(t, nil)
	buf := null.NewBuffer(16)

	e.GetImmediateCommandList().EnqueueLambda(func(ctx rhi.Context) {
		ctx.UpdateBuffer(buf, 0, []byte{0xAB})
	})
	f := e.RHIThreadFence(true)

	data := e.LockBuffer(buf, 0, 1, rhi.LockReadOnly)
	require.True(t, f.IsComplete())
	require.Equal(t, byte(0xAB), data[0])
	e.UnlockBuffer(buf)
}

func TestOversizedWriteLock(t *testing.T) {
	e, _ := startExecutor(t, nil)
	const big = 1 << 20
	buf := null.NewBuffer(big)

	data := e.LockBuffer(buf, 0, big, rhi.LockWriteOnly)
	data[big-1] = 0x7F
	e.UnlockBuffer(buf)
	e.ImmediateFlush(rhi.FlushRHIThread)
	require.Equal(t, byte(0x7F), buf.HostBytes()[big-1])
}

func TestDoubleLockPanics(t *testing.T) {
	e, _ := startExecutor(t, nil)
	buf := null.NewBuffer(16)
	e.LockBuffer(buf, 0, 4, rhi.LockWriteOnly)
	require.Panics(t, func() { e.LockBuffer(buf, 4, 4, rhi.LockWriteOnly) })
}

func TestUnlockWithoutLockPanics(t *testing.T) {
	e, _ := startExecutor(t, nil)
	require.Panics(t, func() { e.UnlockBuffer(null.NewBuffer(16)) })
}

func TestLockRangeOutOfBoundsPanics(t *testing.T) {
	e, _ := startExecutor(t, nil)
	buf := null.NewBuffer(16)
	require.Panics(t, func() { e.LockBuffer(buf, 8, 16, rhi.LockWriteOnly) })
	require.Panics(t, func() { e.LockBuffer(buf, -1, 4, rhi.LockWriteOnly) })
}

func TestLockModeString(t *testing.T) {
	require.Equal(t, "read", rhi.LockReadOnly.String())
	require.Equal(t, "write", rhi.LockWriteOnly.String())
}
