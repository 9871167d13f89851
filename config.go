package rhi

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Vars are the tunables consulted per submission, in the spirit of console
// variables: they may change at any time and each submission reads the
// current value once. Fields that shape the executor at construction time
// (worker counts, backend choice) live in Options instead.
//
// Thread safety: Vars is safe for concurrent use.
type Vars struct {
	// Bypass requests synchronous execution on the calling goroutine.
	// Latched by the executor between frames, not mid-stream.
	Bypass atomic.Bool

	// AsyncDispatch lets the render thread continue while the RHI worker
	// executes. When false, every submission waits for the previous
	// dispatch chain to complete first.
	AsyncDispatch atomic.Bool

	// ForceFlush makes every submission wait for the whole dispatch
	// chain. A debugging aid; ruinous for latency.
	ForceFlush atomic.Bool

	// MergeSmallLists enables the greedy left-to-right merge of small
	// adjacent lists before parallel translation.
	MergeSmallLists atomic.Bool

	// MinMergeBytes is the cumulative recorded-size threshold under which
	// adjacent lists are merged into one translate job.
	MinMergeBytes atomic.Int64

	// MinListsForParallel is the effective-job floor below which a batch
	// is submitted serially instead of spawning translate tasks.
	MinListsForParallel atomic.Int64

	// CheckOwnership enables the debug-only single-writer assertion on
	// command recording.
	CheckOwnership atomic.Bool
}

// defaultVars returns Vars with production defaults.
func defaultVars() *Vars {
	v := &Vars{}
	v.AsyncDispatch.Store(true)
	v.MergeSmallLists.Store(true)
	v.MinMergeBytes.Store(32 << 10)
	v.MinListsForParallel.Store(2)
	v.CheckOwnership.Store(true)
	return v
}

// FileConfig is the on-disk YAML shape of Vars. Pointer fields distinguish
// "absent" from "explicit zero" so a partial file only overrides what it
// names.
type FileConfig struct {
	Bypass              *bool  `yaml:"bypass"`
	AsyncDispatch       *bool  `yaml:"async_dispatch"`
	ForceFlush          *bool  `yaml:"force_flush"`
	MergeSmallLists     *bool  `yaml:"merge_small_lists"`
	MinMergeBytes       *int64 `yaml:"min_merge_bytes"`
	MinListsForParallel *int64 `yaml:"min_lists_for_parallel"`
	CheckOwnership      *bool  `yaml:"check_ownership"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rhi: read config: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("rhi: parse config %s: %w", path, err)
	}
	return &fc, nil
}

// Apply stores every value the file names into v, leaving the rest alone.
func (v *Vars) Apply(fc *FileConfig) {
	if fc == nil {
		return
	}
	if fc.Bypass != nil {
		v.Bypass.Store(*fc.Bypass)
	}
	if fc.AsyncDispatch != nil {
		v.AsyncDispatch.Store(*fc.AsyncDispatch)
	}
	if fc.ForceFlush != nil {
		v.ForceFlush.Store(*fc.ForceFlush)
	}
	if fc.MergeSmallLists != nil {
		v.MergeSmallLists.Store(*fc.MergeSmallLists)
	}
	if fc.MinMergeBytes != nil {
		v.MinMergeBytes.Store(*fc.MinMergeBytes)
	}
	if fc.MinListsForParallel != nil {
		v.MinListsForParallel.Store(*fc.MinListsForParallel)
	}
	if fc.CheckOwnership != nil {
		v.CheckOwnership.Store(*fc.CheckOwnership)
	}
}

// WatchConfig applies path now and re-applies it whenever the file changes.
// It returns a stop function releasing the watcher. Reload errors are
// logged and the previous values stay in effect.
func WatchConfig(path string, v *Vars) (func(), error) {
	fc, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	v.Apply(fc)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rhi: config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("rhi: watch %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				fc, err := LoadConfig(path)
				if err != nil {
					Logger().Warn("config reload failed", "path", path, "error", err)
					continue
				}
				v.Apply(fc)
				Logger().Info("config reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				Logger().Warn("config watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
