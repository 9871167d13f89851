//go:build linux

package task

import "golang.org/x/sys/unix"

// pinCPU binds the calling OS thread to a single CPU. The caller must have
// locked the goroutine to its thread first.
func pinCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
