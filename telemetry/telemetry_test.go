package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/null"
)

func TestCollectorReportsExecutorCounters(t *testing.T) {
	e, err := rhi.NewExecutor(rhi.Options{Provider: null.NewProvider(), Workers: 2})
	require.NoError(t, err)
	defer e.Close()
	e.MarkRenderThread()

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(e)))

	for i := 0; i < 3; i++ {
		e.GetImmediateCommandList().EnqueueLambda(func(rhi.Context) {})
		e.ImmediateFlush(rhi.DispatchToRHIThread)
	}
	e.ImmediateFlush(rhi.FlushRHIThread)

	expected := `
# HELP rhi_lists_submitted_total Command lists submitted for execution.
# TYPE rhi_lists_submitted_total counter
rhi_lists_submitted_total{executor="` + e.ID().String() + `"} 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "rhi_lists_submitted_total"))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Equal(t, 8, n)
}
