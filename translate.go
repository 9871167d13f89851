package rhi

import (
	"fmt"

	"github.com/gogpu/rhi/internal/task"
)

// AsyncSubmit pairs a recorded-elsewhere list with the fence that fires
// when its recording goroutine is done with it. A nil Done means the list
// is already finished.
type AsyncSubmit struct {
	List *CommandList
	Done *Fence
}

// QueueParallelAsyncCommandListSubmit splices a batch of async lists into
// the immediate stream at the current position and translates them on the
// worker pool instead of the RHI worker.
//
// Small adjacent lists are merged into one translate job until the merged
// recorded size reaches the MinMergeBytes var, so tiny lists do not each
// pay a context round trip. When the batch collapses below the
// MinListsForParallel floor, or the backend cannot vend parallel contexts,
// the whole batch falls back to the serial splice path and executes on the
// RHI worker in order.
//
// Regardless of path, the final device-visible order is exactly the order
// of batch.
func (e *Executor) QueueParallelAsyncCommandListSubmit(batch []AsyncSubmit) {
	items := batch[:0:0]
	for _, it := range batch {
		if it.List == nil {
			continue
		}
		items = append(items, it)
	}
	if len(items) == 0 {
		return
	}

	if e.latched.Load() || !e.sched.HasRHIWorker() {
		e.submitSerial(items)
		return
	}

	groups := e.mergeGroups(items)
	if int64(len(groups)) < e.vars.MinListsForParallel.Load() {
		e.submitSerial(items)
		return
	}

	total := len(groups)
	containers := make([]ContextContainer, total)
	for i := range groups {
		c := e.provider.GetContextContainer(i, total)
		if c == nil {
			e.log.Debug("backend declined parallel translate", "groups", total, "at", i)
			// Containers already vended may hold backend resources.
			// Close them out as empty submissions, in vend order, before
			// taking the serial path.
			for j := 0; j < i; j++ {
				containers[j].FinishContext()
				containers[j].Submit(j, i)
			}
			e.submitSerial(items)
			return
		}
		containers[i] = c
	}

	// An outstanding buffer-lock fence gates every translate job: staged
	// lock data must be on the device timeline before the jobs read it.
	lockFence := e.currentLockFence()

	im := e.immediate
	for i, group := range groups {
		c := containers[i]
		prereqs := make([]*task.Event, 0, len(group)+1)
		if lockFence != nil && !lockFence.IsComplete() {
			prereqs = append(prereqs, lockFence.event())
		}
		for _, it := range group {
			it.List.ReleaseOwnership()
			prereqs = append(prereqs, it.Done.event())
			prereqs = append(prereqs, it.List.renderTasks...)
			it.List.renderTasks = nil
			for _, f := range it.List.prereqs {
				prereqs = append(prereqs, f.event())
			}
			it.List.prereqs = nil
		}

		lists := make([]*CommandList, len(group))
		for j, it := range group {
			lists[j] = it.List
		}
		t := e.sched.Spawn(fmt.Sprintf("rhi.translate %d/%d", i, total), task.AnyThread, func() {
			ctx := c.GetContext()
			for _, l := range lists {
				l.execute(ctx)
			}
			c.FinishContext()
		}, prereqs...)

		// The submitter waits translate tasks out before dispatching, so
		// by the time this record runs on the RHI worker the container is
		// finished and Submit only replays it in order.
		e.trackRenderTask(t.Done())
		im.attachRenderTask(t.Done())
		index, count := i, total
		im.AllocCommand(CommandFunc(func(Context) {
			c.Submit(index, count)
		}))
	}
	e.parallelBatches.Add(1)
}

// mergeGroups partitions items into translate jobs. With merging enabled,
// adjacent lists accumulate into one job until the job's recorded bytes
// reach the threshold; order within and across jobs is submission order.
func (e *Executor) mergeGroups(items []AsyncSubmit) [][]AsyncSubmit {
	if !e.vars.MergeSmallLists.Load() {
		groups := make([][]AsyncSubmit, len(items))
		for i, it := range items {
			groups[i] = []AsyncSubmit{it}
		}
		return groups
	}

	threshold := int(e.vars.MinMergeBytes.Load())
	var groups [][]AsyncSubmit
	var cur []AsyncSubmit
	bytes := 0
	for _, it := range items {
		size := it.List.UsedMemory()
		if size == 0 {
			// Still recording, size unknown: give it a job of its own
			// rather than guessing it small.
			if len(cur) > 0 {
				groups = append(groups, cur)
				cur = nil
				bytes = 0
			}
			groups = append(groups, []AsyncSubmit{it})
			continue
		}
		cur = append(cur, it)
		bytes += size
		if bytes >= threshold {
			groups = append(groups, cur)
			cur = nil
			bytes = 0
		}
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

// submitSerial splices every list into the immediate stream in order; each
// executes inline on the dispatch timeline once its fence allows.
func (e *Executor) submitSerial(items []AsyncSubmit) {
	for _, it := range items {
		e.QueueAsyncCommandListSubmit(it.List, it.Done)
	}
}
