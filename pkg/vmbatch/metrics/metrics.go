// Package metrics records batch and job activity as OpenTelemetry
// instruments.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/execution"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/job"
)

const namespace = "vmbatch"

// Recorder implements the executor and job metrics on top of a meter.
type Recorder struct {
	batchesStarted    metric.Int64Counter
	batchesAborted    metric.Int64Counter
	operandsProcessed metric.Int64Counter
	operandsFailed    metric.Int64Counter
	operandDuration   metric.Float64Histogram

	jobsFinished metric.Int64Counter
	jobDuration  metric.Float64Histogram
}

var (
	_ execution.Metrics = (*Recorder)(nil)
	_ job.Metrics       = (*Recorder)(nil)
)

// New creates the instruments on mp.
func New(mp metric.MeterProvider) (*Recorder, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	r := new(Recorder)
	var err error

	if r.batchesStarted, err = meter.Int64Counter(
		"vmbatch_batches_started_total",
		metric.WithDescription("Total number of batch operations started"),
	); err != nil {
		return nil, err
	}

	if r.batchesAborted, err = meter.Int64Counter(
		"vmbatch_batches_aborted_total",
		metric.WithDescription("Total number of batch operations aborted by enumeration or validation"),
	); err != nil {
		return nil, err
	}

	if r.operandsProcessed, err = meter.Int64Counter(
		"vmbatch_operands_processed_total",
		metric.WithDescription("Total number of operands processed"),
	); err != nil {
		return nil, err
	}

	if r.operandsFailed, err = meter.Int64Counter(
		"vmbatch_operands_failed_total",
		metric.WithDescription("Total number of operands that failed"),
	); err != nil {
		return nil, err
	}

	if r.operandDuration, err = meter.Float64Histogram(
		"vmbatch_operand_duration_seconds",
		metric.WithDescription("Time taken to process each operand"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if r.jobsFinished, err = meter.Int64Counter(
		"vmbatch_jobs_finished_total",
		metric.WithDescription("Total number of background jobs finished, by final state"),
	); err != nil {
		return nil, err
	}

	if r.jobDuration, err = meter.Float64Histogram(
		"vmbatch_job_duration_seconds",
		metric.WithDescription("Time background jobs ran"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return r, nil
}

func batchAttr(batch string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("batch", batch))
}

func (r *Recorder) IncBatchesStarted(ctx context.Context, batch string) {
	r.batchesStarted.Add(ctx, 1, batchAttr(batch))
}

func (r *Recorder) IncBatchesAborted(ctx context.Context, batch string) {
	r.batchesAborted.Add(ctx, 1, batchAttr(batch))
}

func (r *Recorder) IncOperandsProcessed(ctx context.Context, batch string) {
	r.operandsProcessed.Add(ctx, 1, batchAttr(batch))
}

func (r *Recorder) IncOperandsFailed(ctx context.Context, batch string) {
	r.operandsFailed.Add(ctx, 1, batchAttr(batch))
}

func (r *Recorder) ObserveOperandDuration(ctx context.Context, batch string, d time.Duration) {
	r.operandDuration.Record(ctx, d.Seconds(), batchAttr(batch))
}

func (r *Recorder) ObserveJobFinished(ctx context.Context, command, state string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("state", state),
	)
	r.jobsFinished.Add(ctx, 1, attrs)
	r.jobDuration.Record(ctx, d.Seconds(), attrs)
}

// NewPrometheusProvider returns a meter provider whose instruments are
// exposed by the returned /metrics handler. It uses its own registry.
func NewPrometheusProvider() (*sdkmetric.MeterProvider, http.Handler, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	return mp, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
