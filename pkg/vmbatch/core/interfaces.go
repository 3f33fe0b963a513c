package core

import (
	"context"
	"time"
)

// TaskState is the lifecycle state of a watchable task.
type TaskState string

const (
	TaskPending   TaskState = "Pending"
	TaskRunning   TaskState = "Running"
	TaskCompleted TaskState = "Completed"
	TaskCancelled TaskState = "Cancelled"
	TaskFaulted   TaskState = "Faulted"
)

// IsTerminal reports whether no further transitions are possible.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskCancelled, TaskFaulted:
		return true
	}
	return false
}

// TaskSnapshot is the full state of a task at the moment a notification
// fired. Notifications always carry a snapshot, never a delta.
type TaskSnapshot struct {
	ID              string
	Caption         string
	Location        string
	Status          string
	State           TaskState
	PercentComplete int
	Completed       bool
	Cancelable      bool
	Err             error
}

// WatchableTask is a handle to one in-flight long-running remote call.
//
// Updated notifications never follow the Completed notification, and exactly
// one Completed notification is delivered per task. Cancel is advisory: the
// remote side decides when, or whether, the task ends up cancelled.
type WatchableTask interface {
	ID() string
	Caption() string
	// Location names the endpoint that owns the task.
	Location() string
	State() TaskState
	Status() string
	PercentComplete() int
	IsCompleted() bool
	IsCancelable() bool
	// Err is the failure of a faulted task.
	Err() error
	Snapshot() TaskSnapshot

	// Cancel requests cancellation. It is a no-op once the task completed.
	Cancel() error
	// Subscribe registers fn for update and completion notifications. The
	// returned func removes it and may be called any number of times.
	Subscribe(fn func(TaskSnapshot)) (unsubscribe func())
	// Done is closed once the task reaches a terminal state.
	Done() <-chan struct{}
	// WaitForCompletion blocks up to timeout and reports whether the task
	// completed. A negative timeout waits indefinitely.
	WaitForCompletion(timeout time.Duration) bool
	// Close releases subscriptions. It is safe to call more than once.
	Close() error
}

// OperationWatcher is the whole surface an operation body uses to talk to
// the context it runs in, whether interactive or a background job.
type OperationWatcher interface {
	WriteObject(v any)
	WriteWarning(text string)
	WriteVerbose(text string)
	// WriteError reports a failure. When no task is tracked the watcher also
	// closes its progress with an exceptional terminal record.
	WriteError(err error)
	// ShouldProcess and ShouldContinue are confirmation gates. A false
	// answer means skip, not fail.
	ShouldProcess(description string) bool
	ShouldContinue(description string) bool
	// Watch tracks t until it completes and returns its outcome. One task
	// is tracked at a time; the task is closed before Watch returns.
	Watch(ctx context.Context, t WatchableTask) error
}

// TaskOutcome maps a terminal snapshot to the error Watch reports.
func TaskOutcome(s TaskSnapshot) error {
	switch s.State {
	case TaskCompleted:
		return nil
	case TaskCancelled:
		return Newf(CategoryOperationStopped, "task %q was cancelled", s.Caption).WithTarget(s.Location)
	case TaskFaulted:
		if s.Err != nil {
			return s.Err
		}
		return Newf(CategoryNotSpecified, "task %q failed", s.Caption).WithTarget(s.Location)
	}
	return Newf(CategoryInvalidOperation, "task %q has not completed (state %s)", s.Caption, s.State).WithTarget(s.Location)
}
