// Package execution drives batch operations: enumerate the operands, validate
// the set, then process each operand in order with per-operand failure
// isolation.
package execution

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
)

// Metrics is what the executor records about batch runs.
type Metrics interface {
	IncBatchesStarted(ctx context.Context, batch string)
	IncBatchesAborted(ctx context.Context, batch string)
	IncOperandsProcessed(ctx context.Context, batch string)
	IncOperandsFailed(ctx context.Context, batch string)
	ObserveOperandDuration(ctx context.Context, batch string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) IncBatchesStarted(context.Context, string)                     {}
func (nopMetrics) IncBatchesAborted(context.Context, string)                     {}
func (nopMetrics) IncOperandsProcessed(context.Context, string)                  {}
func (nopMetrics) IncOperandsFailed(context.Context, string)                     {}
func (nopMetrics) ObserveOperandDuration(context.Context, string, time.Duration) {}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = tracer }
}

func WithMetrics(m Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// Executor runs batches sequentially on the calling goroutine.
type Executor struct {
	logger  core.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// NewExecutor creates a new Executor
func NewExecutor(logger core.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = core.Discard()
	}
	e := &Executor{
		logger:  logger,
		tracer:  noop.NewTracerProvider().Tracer("vmbatch/execution"),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run enumerates, validates and processes b. The returned error is non-nil
// only when enumeration or validation aborted the batch, in which case no
// operand was processed. Per-operand failures are written to w and recorded
// in the result.
func (e *Executor) Run(ctx context.Context, b Batch, w core.OperationWatcher) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "execution.run", trace.WithAttributes(
		attribute.String("batch", b.Name()),
	))
	defer span.End()

	start := time.Now()
	result := &Result{Batch: b.Name()}
	e.metrics.IncBatchesStarted(ctx, b.Name())

	e.logger.Info().Str("batch", b.Name()).Msg("starting execution")

	operands, err := e.enumerate(ctx, b, w)
	if err != nil {
		return e.abort(ctx, span, result, start, &core.EnumerationError{Batch: b.Name(), Cause: err})
	}
	e.logger.Debug().
		Str("batch", b.Name()).
		Int("operand_count", len(operands)).
		Msg("enumeration completed")

	if err := e.validate(ctx, b, operands, w); err != nil {
		return e.abort(ctx, span, result, start, &core.ValidationError{
			Batch:    b.Name(),
			Operands: len(operands),
			Reason:   "operand set rejected",
			Cause:    err,
		})
	}

	span.SetAttributes(attribute.Int("operand_count", len(operands)))
	result.Operands = make([]OperandResult, 0, len(operands))

	for i, operand := range operands {
		if ctx.Err() != nil {
			e.skipRemaining(result, operands[i:], i)
			result.Stopped = true
			e.logger.Info().
				Str("batch", b.Name()).
				Int("operand_index", i+1).
				Int("skipped", len(operands)-i).
				Msg("execution stopped, skipping remaining operands")
			break
		}

		opResult := e.processOne(ctx, b.Name(), i, operand, w)
		result.Operands = append(result.Operands, opResult)
		if opResult.Error != nil {
			result.Errors = append(result.Errors, opResult.Error)
			w.WriteError(opResult.Error)
		}
	}

	result.Duration = time.Since(start)
	e.logger.Info().
		Str("batch", b.Name()).
		Int("succeeded", result.Succeeded()).
		Int("failed", result.Failed()).
		Int("skipped", result.Skipped()).
		Dur("duration", result.Duration).
		Msg("execution completed")

	return result, nil
}

func (e *Executor) enumerate(ctx context.Context, b Batch, w core.OperationWatcher) (operands []Operand, err error) {
	defer recoverInto(&err, "enumeration")
	return b.Enumerate(ctx, w)
}

func (e *Executor) validate(ctx context.Context, b Batch, operands []Operand, w core.OperationWatcher) (err error) {
	defer recoverInto(&err, "validation")
	return b.Validate(ctx, operands, w)
}

func (e *Executor) processOne(ctx context.Context, batch string, index int, operand Operand, w core.OperationWatcher) OperandResult {
	desc := describe(operand)
	ctx, span := e.tracer.Start(ctx, "execution.operand", trace.WithAttributes(
		attribute.String("batch", batch),
		attribute.String("operand", desc),
		attribute.Int("operand_index", index),
	))
	defer span.End()

	e.logger.Info().
		Str("batch", batch).
		Str("operand", desc).
		Int("operand_index", index+1).
		Msg("processing operand")

	start := time.Now()
	err := func() (err error) {
		defer recoverInto(&err, "operand "+desc)
		return operand.Process(ctx, w)
	}()
	elapsed := time.Since(start)

	e.metrics.IncOperandsProcessed(ctx, batch)
	e.metrics.ObserveOperandDuration(ctx, batch, elapsed)

	res := OperandResult{Index: index, Operand: desc, Status: StatusSuccess, Duration: elapsed}
	if err != nil {
		res.Status = StatusFailure
		res.Error = err
		e.metrics.IncOperandsFailed(ctx, batch)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Info().
			Str("batch", batch).
			Str("operand", desc).
			Int("operand_index", index+1).
			Err(err).
			Msg("operand failed, continuing with next operand")
	}
	return res
}

func (e *Executor) skipRemaining(result *Result, rest []Operand, offset int) {
	for j, operand := range rest {
		result.Operands = append(result.Operands, OperandResult{
			Index:   offset + j,
			Operand: describe(operand),
			Status:  StatusSkipped,
		})
	}
}

func (e *Executor) abort(ctx context.Context, span trace.Span, result *Result, start time.Time, err error) (*Result, error) {
	result.Duration = time.Since(start)
	result.Errors = append(result.Errors, err)
	e.metrics.IncBatchesAborted(ctx, result.Batch)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.logger.Info().
		Str("batch", result.Batch).
		Err(err).
		Msg("execution aborted before processing operands")
	return result, err
}

// describe calls the operand's describer. A panicking describer falls back
// to the default formatting of the operand.
func describe(operand Operand) (desc string) {
	defer func() {
		if r := recover(); r != nil {
			desc = fmt.Sprint(operand)
			if b, ok := operand.(interface{ rawValue() any }); ok {
				desc = fmt.Sprint(b.rawValue())
			}
		}
	}()
	return operand.Describe()
}

func recoverInto(err *error, stage string) {
	if r := recover(); r != nil {
		*err = core.Newf(core.CategoryNotSpecified, "%s panicked: %v", stage, r)
	}
}
