// Package task provides the in-process WatchableTask used by invokers to
// expose a long-running remote call.
//
// The invoker drives the task (Start, Report, Complete, Fail, MarkCancelled);
// watchers observe it through core.WatchableTask. Cancellation is advisory:
// Cancel records the request and runs the cancel hook, and the invoker decides
// when the remote call actually ends.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
)

// Option configures a Task.
type Option func(*Task)

// WithID overrides the generated task ID.
func WithID(id string) Option {
	return func(t *Task) { t.id = id }
}

// WithLocation names the endpoint that owns the task.
func WithLocation(location string) Option {
	return func(t *Task) { t.location = location }
}

// WithCancel makes the task cancelable. hook runs, outside the task lock,
// the first time Cancel is called on a running task. It may be nil.
func WithCancel(hook func() error) Option {
	return func(t *Task) {
		t.cancelable = true
		t.cancelHook = hook
	}
}

// WithLogger sets the logger used by the task and its event bus.
func WithLogger(logger core.Logger) Option {
	return func(t *Task) { t.logger = logger }
}

// Task is a core.WatchableTask driven by an invoker.
type Task struct {
	id         string
	caption    string
	location   string
	cancelable bool
	cancelHook func() error
	logger     core.Logger

	// publishMu serializes state changes with their notifications so that
	// subscribers observe them in order.
	publishMu sync.Mutex

	mu              sync.Mutex
	state           core.TaskState
	status          string
	percent         int
	err             error
	cancelRequested bool
	closed          bool

	bus       *core.TaskEventBus
	cancelCh  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ core.WatchableTask = (*Task)(nil)

// New creates a pending task.
func New(caption string, opts ...Option) *Task {
	t := &Task{
		id:       uuid.NewString(),
		caption:  caption,
		state:    core.TaskPending,
		status:   string(core.TaskPending),
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = core.Discard()
	}
	t.bus = core.NewTaskEventBus(t.logger)
	return t
}

func (t *Task) ID() string       { return t.id }
func (t *Task) Caption() string  { return t.caption }
func (t *Task) Location() string { return t.location }

func (t *Task) State() core.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) PercentComplete() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percent
}

func (t *Task) IsCompleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.IsTerminal()
}

func (t *Task) IsCancelable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelable && !t.state.IsTerminal()
}

func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Task) Snapshot() core.TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Task) snapshotLocked() core.TaskSnapshot {
	return core.TaskSnapshot{
		ID:              t.id,
		Caption:         t.caption,
		Location:        t.location,
		Status:          t.status,
		State:           t.state,
		PercentComplete: t.percent,
		Completed:       t.state.IsTerminal(),
		Cancelable:      t.cancelable && !t.state.IsTerminal(),
		Err:             t.err,
	}
}

// Start moves a pending task to Running.
func (t *Task) Start() {
	t.transition(func() bool {
		if t.state != core.TaskPending {
			return false
		}
		t.state = core.TaskRunning
		t.status = string(core.TaskRunning)
		return true
	})
}

// Report updates progress. Reports on a terminal task are ignored. The
// percentage is clamped to 0..100 but not required to grow.
func (t *Task) Report(percent int, status string) {
	t.transition(func() bool {
		if t.state.IsTerminal() {
			return false
		}
		if t.state == core.TaskPending {
			t.state = core.TaskRunning
			t.status = string(core.TaskRunning)
		}
		t.percent = min(max(percent, 0), 100)
		if status != "" {
			t.status = status
		}
		return true
	})
}

// Complete ends the task successfully.
func (t *Task) Complete() {
	t.finish(core.TaskCompleted, nil)
}

// Fail ends the task with err.
func (t *Task) Fail(err error) {
	if err == nil {
		err = core.Newf(core.CategoryNotSpecified, "task %q failed", t.caption)
	}
	t.finish(core.TaskFaulted, err)
}

// MarkCancelled ends the task as cancelled. The invoker calls it once the
// remote call honoured a cancellation request.
func (t *Task) MarkCancelled() {
	t.finish(core.TaskCancelled, nil)
}

// CancelRequested is closed when Cancel is first accepted.
func (t *Task) CancelRequested() <-chan struct{} {
	return t.cancelCh
}

// Cancel requests cancellation. Calling it on a completed task is a no-op.
func (t *Task) Cancel() error {
	t.mu.Lock()
	if t.state.IsTerminal() {
		t.mu.Unlock()
		t.logger.Trace().Str("task_id", t.id).Msg("cancel ignored, task already completed")
		return nil
	}
	if !t.cancelable {
		t.mu.Unlock()
		return core.Newf(core.CategoryInvalidOperation, "task %q cannot be cancelled", t.caption).WithTarget(t.location)
	}
	if t.cancelRequested {
		t.mu.Unlock()
		return nil
	}
	t.cancelRequested = true
	t.status = "Cancelling"
	close(t.cancelCh)
	hook := t.cancelHook
	t.mu.Unlock()

	t.logger.Debug().Str("task_id", t.id).Str("caption", t.caption).Msg("task cancellation requested")

	if hook != nil {
		if err := hook(); err != nil {
			return core.Wrapf(err, core.CategoryOf(err), "cancel task %q", t.caption).WithTarget(t.location)
		}
	}
	return nil
}

// Subscribe registers fn for update and completion notifications.
func (t *Task) Subscribe(fn func(core.TaskSnapshot)) func() {
	id := t.bus.Subscribe(func(_ context.Context, ev core.TaskEvent) error {
		fn(ev.Snapshot)
		return nil
	}, core.TaskUpdated, core.TaskFinished)
	return func() { t.bus.Unsubscribe(id) }
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

// WaitForCompletion blocks up to timeout. A negative timeout waits until the
// task completes.
func (t *Task) WaitForCompletion(timeout time.Duration) bool {
	if timeout < 0 {
		<-t.done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}

// Close drops every subscription. Further notifications are not delivered.
func (t *Task) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		t.bus.Reset()
	})
	return nil
}

func (t *Task) finish(state core.TaskState, err error) {
	t.transition(func() bool {
		if t.state.IsTerminal() {
			return false
		}
		t.state = state
		t.status = string(state)
		t.err = err
		if state == core.TaskCompleted {
			t.percent = 100
		}
		return true
	})
}

// transition applies mutate under the lock and, if it changed anything,
// publishes the resulting snapshot after releasing the lock.
func (t *Task) transition(mutate func() bool) {
	t.publishMu.Lock()
	defer t.publishMu.Unlock()

	t.mu.Lock()
	if !mutate() {
		t.mu.Unlock()
		return
	}
	snap := t.snapshotLocked()
	closed := t.closed
	t.mu.Unlock()

	if snap.Completed {
		t.logger.Debug().
			Str("task_id", t.id).
			Str("state", string(snap.State)).
			Msg("task completed")
		defer close(t.done)
	}
	if closed {
		return
	}
	t.bus.Publish(context.Background(), core.NewTaskEvent(snap))
}
