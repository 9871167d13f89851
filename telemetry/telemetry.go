// Package telemetry exposes executor counters as Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/rhi"
)

// Collector adapts an executor's counter snapshot to the Prometheus
// collector interface. Register it with any prometheus.Registerer:
//
//	prometheus.MustRegister(telemetry.NewCollector(exec))
type Collector struct {
	exec *rhi.Executor

	lists      *prometheus.Desc
	commands   *prometheus.Desc
	dispatches *prometheus.Desc
	bypass     *prometheus.Desc
	parallel   *prometheus.Desc
	tasks      *prometheus.Desc
	poolChunks *prometheus.Desc
}

// NewCollector creates a collector for exec. The executor's ID becomes the
// constant "executor" label so several executors can share a registry.
func NewCollector(exec *rhi.Executor) *Collector {
	labels := prometheus.Labels{"executor": exec.ID().String()}
	return &Collector{
		exec: exec,
		lists: prometheus.NewDesc("rhi_lists_submitted_total",
			"Command lists submitted for execution.", nil, labels),
		commands: prometheus.NewDesc("rhi_commands_executed_total",
			"Individual commands executed.", nil, labels),
		dispatches: prometheus.NewDesc("rhi_dispatches_total",
			"Dispatch tasks run on the RHI worker.", nil, labels),
		bypass: prometheus.NewDesc("rhi_bypass_executions_total",
			"Lists executed synchronously in bypass.", nil, labels),
		parallel: prometheus.NewDesc("rhi_parallel_batches_total",
			"Batches translated on the worker pool.", nil, labels),
		tasks: prometheus.NewDesc("rhi_tasks_executed_total",
			"Scheduler tasks run to completion.", nil, labels),
		poolChunks: prometheus.NewDesc("rhi_pool_chunks",
			"Chunks currently attributed to an allocation pool.", []string{"pool"}, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.lists
	ch <- c.commands
	ch <- c.dispatches
	ch <- c.bypass
	ch <- c.parallel
	ch <- c.tasks
	ch <- c.poolChunks
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.exec.Stats()
	ch <- prometheus.MustNewConstMetric(c.lists, prometheus.CounterValue, float64(s.ListsSubmitted))
	ch <- prometheus.MustNewConstMetric(c.commands, prometheus.CounterValue, float64(s.CommandsExecuted))
	ch <- prometheus.MustNewConstMetric(c.dispatches, prometheus.CounterValue, float64(s.Dispatches))
	ch <- prometheus.MustNewConstMetric(c.bypass, prometheus.CounterValue, float64(s.BypassExecutions))
	ch <- prometheus.MustNewConstMetric(c.parallel, prometheus.CounterValue, float64(s.ParallelBatches))
	ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.CounterValue, float64(s.TasksExecuted))
	ch <- prometheus.MustNewConstMetric(c.poolChunks, prometheus.GaugeValue, float64(s.NodeChunks), "node")
	ch <- prometheus.MustNewConstMetric(c.poolChunks, prometheus.GaugeValue, float64(s.ByteChunks), "byte")
}
