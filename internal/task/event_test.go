package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSignal(t *testing.T) {
	e := NewEvent()
	assert.False(t, e.IsComplete())

	e.Signal()
	assert.True(t, e.IsComplete())

	select {
	case <-e.Done():
	default:
		t.Fatal("Done channel not closed after Signal")
	}
}

func TestEventDoubleSignalPanics(t *testing.T) {
	e := NewEvent()
	e.Signal()
	assert.Panics(t, func() { e.Signal() })
}

func TestEventSubscribeBeforeSignal(t *testing.T) {
	e := NewEvent()
	fired := make(chan struct{})
	e.subscribe(func() { close(fired) })

	e.Signal()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("subscriber not invoked on Signal")
	}
}

func TestEventSubscribeAfterSignalRunsInline(t *testing.T) {
	e := NewEvent()
	e.Signal()

	ran := false
	e.subscribe(func() { ran = true })
	require.True(t, ran, "subscriber on a fired event must run synchronously")
}
