// Package rhi implements deferred command-buffer recording and
// multi-threaded dispatch for a hardware rendering abstraction.
//
// Client code records operations into a CommandList without executing them.
// An Executor later runs the recorded commands against an execution Context,
// either synchronously on the calling goroutine (bypass mode) or on a
// dedicated RHI worker, in strict submission order. Batches of deferred
// lists can additionally be translated in parallel across several contexts
// and stitched back into the single linear device stream.
//
// # Architecture
//
// Three layers cooperate:
//
//   - CommandList: an ordered chain of command records in a bump arena,
//     recorded by exactly one goroutine at a time.
//   - Executor: the submission state machine. It owns the immediate list,
//     the dispatch chain that totally orders execution, and the
//     parallel-translate scheduler.
//   - Context: the device-facing execution context, provided by a backend
//     (see backend/null and backend/wgpu) and registered by name.
//
// # Example
//
//	exec, err := rhi.NewExecutor(rhi.Options{Backend: "null"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//	exec.MarkRenderThread()
//
//	cl := exec.GetImmediateCommandList()
//	cl.EnqueueLambda(func(ctx rhi.Context) {
//	    // runs on the RHI worker, after everything submitted before it
//	})
//	exec.ImmediateFlush(rhi.DispatchToRHIThread)
//
// # Failure model
//
// Command execution is infallible by contract. Recording from the wrong
// goroutine, waiting on the dispatch chain from the RHI worker itself, and
// arena exhaustion are programmer/contract errors and panic; there is no
// recoverable error path in the hot loop.
package rhi
