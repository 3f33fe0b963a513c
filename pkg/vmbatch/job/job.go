// Package job runs a batch operation off the caller's path while keeping it
// observable and stoppable.
//
// A Job is the OperationWatcher of the batch it runs: output is buffered in
// streams the owner polls, and the progress of each watched task is relayed
// into one progress record per task. StopJob only signals intent; it never
// waits for the batch or the remote call to end.
package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/execution"
)

// Metrics is what a job records when it finishes.
type Metrics interface {
	ObserveJobFinished(ctx context.Context, command, state string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveJobFinished(context.Context, string, string, time.Duration) {}

// Option configures a Job.
type Option func(*Job)

func WithLogger(l core.Logger) Option {
	return func(j *Job) { j.logger = l }
}

func WithMetrics(m Metrics) Option {
	return func(j *Job) { j.metrics = m }
}

// WithID overrides the generated job ID.
func WithID(id string) Option {
	return func(j *Job) { j.id = id }
}

type tracked struct {
	task         core.WatchableTask
	unsubscribe  func()
	terminalSeen bool
}

// Job is a background invocation of one batch.
type Job struct {
	id       string
	command  string
	batch    execution.Batch
	executor *execution.Executor
	logger   core.Logger
	metrics  Metrics

	// mu guards the lifecycle state, the tracked task and the progress
	// records.
	mu           sync.Mutex
	state        State
	current      *tracked
	progress     []core.ProgressRecord
	openRecord   int
	nextActivity int
	result       *execution.Result
	err          error
	cancel       context.CancelFunc
	closed       bool
	createdAt    time.Time
	startedAt    time.Time
	finishedAt   time.Time

	output   *core.Stream[any]
	errors   *core.Stream[core.ErrorRecord]
	warnings *core.Stream[string]
	verbose  *core.Stream[string]

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

var _ core.OperationWatcher = (*Job)(nil)

// New creates a job that will run b on exec once started.
func New(command string, b execution.Batch, exec *execution.Executor, opts ...Option) *Job {
	j := &Job{
		id:         uuid.NewString(),
		command:    command,
		batch:      b,
		executor:   exec,
		state:      StateNotStarted,
		openRecord: -1,
		createdAt:  time.Now(),
		output:     core.NewStream[any](),
		errors:     core.NewStream[core.ErrorRecord](),
		warnings:   core.NewStream[string](),
		verbose:    core.NewStream[string](),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.logger == nil {
		j.logger = core.Discard()
	}
	if j.metrics == nil {
		j.metrics = nopMetrics{}
	}
	if j.executor == nil {
		j.executor = execution.NewExecutor(j.logger)
	}
	return j
}

func (j *Job) ID() string      { return j.id }
func (j *Job) Command() string { return j.command }

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Start runs the batch on a new goroutine. The job keeps the values of ctx
// but not its cancellation; use StopJob to stop it.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	if err := j.setStateLocked(StateRunning); err != nil {
		j.mu.Unlock()
		return core.Wrap(err, core.CategoryInvalidOperation, "cannot start job").WithTarget(j.id)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j.cancel = cancel
	j.startedAt = time.Now()
	j.mu.Unlock()

	j.logger.Info().Str("job_id", j.id).Str("command", j.command).Msg("job started")

	go j.run(runCtx, cancel)
	return nil
}

func (j *Job) run(ctx context.Context, cancel context.CancelFunc) {
	defer j.closeDone()
	defer cancel()

	var (
		result *execution.Result
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = core.Newf(core.CategoryNotSpecified, "job %s panicked: %v", j.id, r)
			}
		}()
		result, err = j.executor.Run(ctx, j.batch, j)
	}()

	j.finish(ctx, result, err)
}

func (j *Job) finish(ctx context.Context, result *execution.Result, err error) {
	j.mu.Lock()
	j.result = result
	j.err = err
	j.finishedAt = time.Now()
	switch j.state {
	case StateStopped:
	case StateStopping:
		_ = j.setStateLocked(StateStopped)
	default:
		if err != nil {
			_ = j.setStateLocked(StateFailed)
		} else {
			_ = j.setStateLocked(StateCompleted)
		}
	}
	state := j.state
	elapsed := j.finishedAt.Sub(j.startedAt)
	j.mu.Unlock()

	if state == StateFailed {
		j.WriteError(err)
	}
	j.metrics.ObserveJobFinished(ctx, j.command, string(state), elapsed)
	j.logger.Info().
		Str("job_id", j.id).
		Str("state", string(state)).
		Dur("duration", elapsed).
		Err(err).
		Msg("job finished")
}

// StopJob requests the job to stop. It is idempotent, safe from any
// goroutine, and returns without waiting for the batch to end.
//
// If a cancelable task is tracked its cancellation is requested and the job
// stays Stopping until the batch returns. Otherwise the job is Stopped at
// once.
func (j *Job) StopJob() {
	j.mu.Lock()
	switch j.state {
	case StateNotStarted:
		_ = j.setStateLocked(StateStopped)
		j.finishedAt = time.Now()
		j.mu.Unlock()
		j.closeDone()
		return
	case StateRunning:
	default:
		j.mu.Unlock()
		return
	}

	_ = j.setStateLocked(StateStopping)
	cancel := j.cancel
	var t core.WatchableTask
	if j.current != nil && !j.current.task.IsCompleted() && j.current.task.IsCancelable() {
		t = j.current.task
	}
	if t == nil {
		_ = j.setStateLocked(StateStopped)
	}
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if t == nil {
		j.WriteVerbose(fmt.Sprintf("job %s stopped: nothing could be interrupted", j.id))
		return
	}
	if err := t.Cancel(); err != nil {
		j.logger.Warn().Str("job_id", j.id).Str("task_id", t.ID()).Err(err).Msg("task cancellation failed")
	}
}

func (j *Job) WriteObject(v any)        { j.output.Add(v) }
func (j *Job) WriteWarning(text string) { j.warnings.Add(text) }
func (j *Job) WriteVerbose(text string) { j.verbose.Add(text) }

// WriteError records err. When no task is tracked it also closes the job's
// progress with a terminal Exception record.
func (j *Job) WriteError(err error) {
	if err == nil {
		return
	}
	j.errors.Add(core.NewErrorRecord(err))

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.current != nil {
		return
	}
	j.openRecordLocked(j.command).Fail()
	j.openRecord = -1
}

// ShouldProcess always proceeds; a background job cannot prompt.
func (j *Job) ShouldProcess(string) bool { return true }

// ShouldContinue always proceeds; a background job cannot prompt.
func (j *Job) ShouldContinue(string) bool { return true }

// Watch tracks t, relays its progress into the job's progress records and
// blocks until it completes.
func (j *Job) Watch(ctx context.Context, t core.WatchableTask) error {
	tr := &tracked{task: t}

	j.mu.Lock()
	if j.current != nil {
		busy := j.current.task.Caption()
		j.mu.Unlock()
		return core.Newf(core.CategoryInvalidOperation, "cannot watch %q while %q is still tracked", t.Caption(), busy)
	}
	j.current = tr
	stopRequested := j.state == StateStopping || j.state == StateStopped
	j.mu.Unlock()

	unsubscribe := t.Subscribe(func(s core.TaskSnapshot) { j.relay(tr, s) })
	j.mu.Lock()
	tr.unsubscribe = unsubscribe
	j.mu.Unlock()
	defer j.clearCurrentTask(tr)

	j.logger.Debug().Str("job_id", j.id).Str("task_id", t.ID()).Msg("tracking task")
	j.relay(tr, t.Snapshot())

	if stopRequested {
		j.cancelTask(t)
	}

	select {
	case <-t.Done():
	case <-ctx.Done():
		j.cancelTask(t)
		<-t.Done()
	}

	snap := t.Snapshot()
	j.relay(tr, snap)
	return core.TaskOutcome(snap)
}

func (j *Job) cancelTask(t core.WatchableTask) {
	if !t.IsCancelable() {
		return
	}
	if err := t.Cancel(); err != nil {
		j.logger.Warn().Str("job_id", j.id).Str("task_id", t.ID()).Err(err).Msg("task cancellation failed")
	}
}

func (j *Job) relay(tr *tracked, s core.TaskSnapshot) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if tr.terminalSeen || j.current != tr {
		return
	}
	j.openRecordLocked(s.Caption).Apply(s)
	if s.Completed {
		tr.terminalSeen = true
		j.openRecord = -1
	}
}

// openRecordLocked returns the open progress record, creating one if none
// is open.
func (j *Job) openRecordLocked(activity string) *core.ProgressRecord {
	if j.openRecord < 0 {
		j.nextActivity++
		j.progress = append(j.progress, core.ProgressRecord{
			ActivityID: j.nextActivity,
			Activity:   activity,
		})
		j.openRecord = len(j.progress) - 1
	}
	return &j.progress[j.openRecord]
}

func (j *Job) clearCurrentTask(tr *tracked) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.current == tr {
		j.current = nil
	}
	if tr.unsubscribe != nil {
		tr.unsubscribe()
	}
	_ = tr.task.Close()
}

// StatusMessage is the status of the tracked task, or empty.
func (j *Job) StatusMessage() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.current == nil {
		return ""
	}
	return j.current.task.Status()
}

// Location is the endpoint of the tracked task, or empty.
func (j *Job) Location() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.current == nil {
		return ""
	}
	return j.current.task.Location()
}

// HasMoreData is true until the job is closed.
func (j *Job) HasMoreData() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.closed
}

// Progress returns a copy of the progress records, oldest first.
func (j *Job) Progress() []core.ProgressRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]core.ProgressRecord, len(j.progress))
	copy(out, j.progress)
	return out
}

func (j *Job) Output() *core.Stream[any]              { return j.output }
func (j *Job) Errors() *core.Stream[core.ErrorRecord] { return j.errors }
func (j *Job) Warnings() *core.Stream[string]         { return j.warnings }
func (j *Job) Verbose() *core.Stream[string]          { return j.verbose }

// Result is the batch result once the job finished, or nil.
func (j *Job) Result() *execution.Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Err is the error that aborted the batch, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) CreatedAt() time.Time {
	return j.createdAt
}

func (j *Job) FinishedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finishedAt
}

// Done is closed when the job's goroutine has returned, or when a job that
// never started is stopped.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// finished reports whether Done is closed. A job can be Stopped while its
// batch is still returning; it is not finished until then.
func (j *Job) finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the job is done or ctx ends.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the job's streams. Buffered data stays readable and later
// writes are dropped. It does not stop a running job.
func (j *Job) Close() error {
	j.closeOnce.Do(func() {
		j.mu.Lock()
		j.closed = true
		j.mu.Unlock()
		j.output.Close()
		j.errors.Close()
		j.warnings.Close()
		j.verbose.Close()
	})
	return nil
}

func (j *Job) closeDone() {
	j.doneOnce.Do(func() { close(j.done) })
}

func (j *Job) setStateLocked(target State) error {
	if err := j.state.validateTransition(target); err != nil {
		j.logger.Warn().Str("job_id", j.id).Err(err).Msg("rejected job state transition")
		return err
	}
	j.logger.Debug().
		Str("job_id", j.id).
		Str("from", string(j.state)).
		Str("to", string(target)).
		Msg("job state changed")
	j.state = target
	return nil
}
