//go:build !linux

package task

// pinCPU is a no-op on platforms without sched_setaffinity. The RHI worker
// still runs on a locked OS thread; it just is not pinned to a core.
func pinCPU(int) error { return nil }
