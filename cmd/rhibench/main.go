// Command rhibench stress-tests the deferred execution engine: a set of
// recorder goroutines fill async command lists while the main goroutine
// plays the render thread, splicing the batches into the immediate stream
// and flushing once per simulated frame.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/null"
	"github.com/gogpu/rhi/telemetry"
)

var opts struct {
	backend     string
	workers     int
	frames      int
	recorders   int
	commands    int
	bypass      bool
	noRHIThread bool
	configPath  string
	metricsAddr string
	verbose     bool
}

func main() {
	root := &cobra.Command{
		Use:   "rhibench",
		Short: "Stress benchmark for the rhi deferred execution engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
	f := root.Flags()
	f.StringVar(&opts.backend, "backend", "null", "context provider backend")
	f.IntVar(&opts.workers, "workers", 0, "any-thread workers (0 = GOMAXPROCS)")
	f.IntVar(&opts.frames, "frames", 100, "simulated frames")
	f.IntVar(&opts.recorders, "recorders", 4, "parallel recorder goroutines per frame")
	f.IntVar(&opts.commands, "commands", 1000, "commands per recorder per frame")
	f.BoolVar(&opts.bypass, "bypass", false, "execute synchronously on the render thread")
	f.BoolVar(&opts.noRHIThread, "no-rhi-thread", false, "disable the dedicated RHI worker")
	f.StringVar(&opts.configPath, "config", "", "YAML config file, watched for changes")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.BoolVar(&opts.verbose, "verbose", false, "debug logging")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	rhi.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	vars := &rhi.Vars{}
	vars.AsyncDispatch.Store(true)
	vars.MergeSmallLists.Store(true)
	vars.MinMergeBytes.Store(32 << 10)
	vars.MinListsForParallel.Store(2)
	vars.Bypass.Store(opts.bypass)

	if opts.configPath != "" {
		stop, err := rhi.WatchConfig(opts.configPath, vars)
		if err != nil {
			return err
		}
		defer stop()
	}

	exec, err := rhi.NewExecutor(rhi.Options{
		Backend:          opts.backend,
		Workers:          opts.workers,
		DisableRHIThread: opts.noRHIThread,
		Vars:             vars,
	})
	if err != nil {
		return err
	}
	defer exec.Close()
	exec.MarkRenderThread()
	exec.LatchBypass()

	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(telemetry.NewCollector(exec))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(opts.metricsAddr, mux); err != nil {
				rhi.Logger().Warn("metrics server stopped", "error", err)
			}
		}()
	}

	target := null.NewBuffer(4096)
	var executed atomic.Int64

	start := time.Now()
	for frame := 0; frame < opts.frames; frame++ {
		batch := make([]rhi.AsyncSubmit, opts.recorders)
		for r := 0; r < opts.recorders; r++ {
			batch[r] = rhi.AsyncSubmit{List: exec.NewCommandList(), Done: rhi.NewFence()}
		}
		// Splice first, then record: the splice point is fixed now and the
		// translate tasks wait on the recorders' fences.
		exec.QueueParallelAsyncCommandListSubmit(batch)
		for r := 0; r < opts.recorders; r++ {
			l, done := batch[r].List, batch[r].Done
			go func() {
				l.ClaimOwnership()
				for i := 0; i < opts.commands; i++ {
					payload := l.AllocBytes(64)
					payload[0] = byte(i)
					l.EnqueueLambda(func(ctx rhi.Context) {
						executed.Add(1)
					})
				}
				l.ReleaseOwnership()
				done.Signal()
			}()
		}

		im := exec.GetImmediateCommandList()
		data := exec.LockBuffer(target, 0, 16, rhi.LockWriteOnly)
		data[0] = byte(frame)
		exec.UnlockBuffer(target)
		im.EnqueueLambda(func(ctx rhi.Context) { ctx.Flush() })

		exec.ImmediateFlush(rhi.DispatchToRHIThread)
	}
	exec.ImmediateFlush(rhi.FlushRHIThread)
	elapsed := time.Since(start)

	s := exec.Stats()
	total := executed.Load()
	fmt.Printf("frames: %d  recorders: %d  commands/recorder: %d\n", opts.frames, opts.recorders, opts.commands)
	fmt.Printf("executed %d commands in %s (%.0f cmd/s)\n", total, elapsed.Round(time.Millisecond), float64(total)/elapsed.Seconds())
	fmt.Printf("lists=%d dispatches=%d bypass=%d parallel_batches=%d tasks=%d chunks(node=%d byte=%d)\n",
		s.ListsSubmitted, s.Dispatches, s.BypassExecutions, s.ParallelBatches, s.TasksExecuted, s.NodeChunks, s.ByteChunks)
	if !exec.CheckNoOutstandingCommandLists() {
		return fmt.Errorf("outstanding command lists after final flush")
	}
	return nil
}
