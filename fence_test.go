package rhi_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gogpu/rhi"
)

func TestFenceLifecycle(t *testing.T) {
	f := rhi.NewFence()
	require.False(t, f.IsComplete())

	select {
	case <-f.Done():
		t.Fatal("fence fired early")
	default:
	}

	f.Signal()
	require.True(t, f.IsComplete())

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel not closed")
	}
}

func TestFenceDoubleSignalPanics(t *testing.T) {
	f := rhi.NewFence()
	f.Signal()
	require.Panics(t, func() { f.Signal() })
}

func TestCompletedFence(t *testing.T) {
	f := rhi.CompletedFence()
	require.True(t, f.IsComplete())
}
