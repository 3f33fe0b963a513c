package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected an int64 sum, got %T", data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r, err := New(mp)
	require.NoError(t, err)

	ctx := context.Background()
	r.IncBatchesStarted(ctx, "start")
	r.IncBatchesStarted(ctx, "stop")
	r.IncBatchesAborted(ctx, "stop")
	r.IncOperandsProcessed(ctx, "start")
	r.IncOperandsProcessed(ctx, "start")
	r.IncOperandsFailed(ctx, "start")
	r.ObserveOperandDuration(ctx, "start", 1500*time.Millisecond)
	r.ObserveJobFinished(ctx, "Start-VM", "Completed", 3*time.Second)

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, data["vmbatch_batches_started_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["vmbatch_batches_aborted_total"]))
	assert.Equal(t, int64(2), sumOf(t, data["vmbatch_operands_processed_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["vmbatch_operands_failed_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["vmbatch_jobs_finished_total"]))

	hist, ok := data["vmbatch_operand_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 1.5, hist.DataPoints[0].Sum, 0.001)

	jobs := data["vmbatch_jobs_finished_total"].(metricdata.Sum[int64])
	state, ok := jobs.DataPoints[0].Attributes.Value("state")
	require.True(t, ok)
	assert.Equal(t, "Completed", state.AsString())
}

func TestPrometheusProvider(t *testing.T) {
	mp, handler, err := NewPrometheusProvider()
	require.NoError(t, err)
	defer func() { _ = mp.Shutdown(context.Background()) }()

	r, err := New(mp)
	require.NoError(t, err)
	r.IncBatchesStarted(context.Background(), "start")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vmbatch_batches_started")
	assert.Contains(t, w.Body.String(), `batch="start"`)
}
