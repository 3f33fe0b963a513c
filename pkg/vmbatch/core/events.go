package core

import (
	"context"
	"sync"
	"time"
)

// TaskEventKind tells what a task notification reports.
type TaskEventKind int

const (
	// TaskUpdated reports a progress or status change of a running task.
	TaskUpdated TaskEventKind = iota + 1
	// TaskFinished reports that the task reached a terminal state.
	TaskFinished
)

func (k TaskEventKind) String() string {
	switch k {
	case TaskUpdated:
		return "task.updated"
	case TaskFinished:
		return "task.finished"
	}
	return "task.unknown"
}

// TaskEvent is one notification raised by a watchable task.
type TaskEvent struct {
	Kind     TaskEventKind
	Snapshot TaskSnapshot
	Time     time.Time
}

// NewTaskEvent stamps a snapshot with the current time. The kind follows
// the snapshot: completed snapshots are TaskFinished.
func NewTaskEvent(s TaskSnapshot) TaskEvent {
	kind := TaskUpdated
	if s.Completed {
		kind = TaskFinished
	}
	return TaskEvent{Kind: kind, Snapshot: s, Time: time.Now()}
}

// TaskEventHandler receives task notifications. A returned error is logged
// and does not stop delivery to other handlers.
type TaskEventHandler func(ctx context.Context, ev TaskEvent) error

// SubscriptionID identifies a subscription on a TaskEventBus.
type SubscriptionID uint64

type subscriber struct {
	id      SubscriptionID
	kinds   []TaskEventKind
	handler TaskEventHandler
}

func (s subscriber) wants(kind TaskEventKind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	for _, k := range s.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// TaskEventBus delivers task notifications synchronously, in subscription
// order, on the publishing goroutine.
type TaskEventBus struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID SubscriptionID
	logger Logger
}

func NewTaskEventBus(logger Logger) *TaskEventBus {
	if logger == nil {
		logger = Discard()
	}
	return &TaskEventBus{logger: logger}
}

// Subscribe registers handler for the given kinds, or for every kind when
// none is given.
func (bus *TaskEventBus) Subscribe(handler TaskEventHandler, kinds ...TaskEventKind) SubscriptionID {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.nextID++
	bus.subs = append(bus.subs, subscriber{id: bus.nextID, kinds: kinds, handler: handler})

	bus.logger.Trace().
		Int("subscription_id", int(bus.nextID)).
		Int("subscribers", len(bus.subs)).
		Msg("task subscriber added")
	return bus.nextID
}

// Unsubscribe removes a subscription. Unknown or already removed IDs are
// ignored.
func (bus *TaskEventBus) Unsubscribe(id SubscriptionID) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	for i, s := range bus.subs {
		if s.id == id {
			bus.subs = append(bus.subs[:i:i], bus.subs[i+1:]...)
			bus.logger.Trace().
				Int("subscription_id", int(id)).
				Int("subscribers", len(bus.subs)).
				Msg("task subscriber removed")
			return
		}
	}
}

// Reset drops every subscription.
func (bus *TaskEventBus) Reset() {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.subs = nil
}

// Len reports the number of live subscriptions.
func (bus *TaskEventBus) Len() int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return len(bus.subs)
}

// Publish delivers ev to every subscriber interested in its kind. Handlers
// may subscribe or unsubscribe while being called.
func (bus *TaskEventBus) Publish(ctx context.Context, ev TaskEvent) {
	bus.mu.RLock()
	subs := make([]subscriber, 0, len(bus.subs))
	for _, s := range bus.subs {
		if s.wants(ev.Kind) {
			subs = append(subs, s)
		}
	}
	bus.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler(ctx, ev); err != nil {
			bus.logger.Warn().
				Str("event", ev.Kind.String()).
				Str("task_id", ev.Snapshot.ID).
				Err(err).
				Msg("task event handler failed")
		}
	}
}
