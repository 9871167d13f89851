package task

import (
	"bytes"
	"runtime"
	"strconv"
)

// goid returns the current goroutine's id, parsed from the stack header.
// This exists only to support affinity assertions (ownership checks, the
// RHI self-wait deadlock guard); it is never on a per-command path.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Header shape: "goroutine 123 [running]:"
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}

// GoroutineID exposes goid for affinity tagging by the executor layer.
func GoroutineID() int64 { return goid() }
