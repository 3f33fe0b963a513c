// Package wait polls a condition until it holds, a deadline passes or the
// wait is stopped.
package wait

import (
	"context"
	"sync"
	"time"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
)

// NoTimeout disables the deadline of a wait.
const NoTimeout time.Duration = -1

// DefaultPollInterval is used when a wait is given a non-positive poll
// interval.
const DefaultPollInterval = time.Second

// Outcome is how a wait ended.
type Outcome string

const (
	Satisfied Outcome = "Satisfied"
	TimedOut  Outcome = "TimedOut"
	Cancelled Outcome = "Cancelled"
	Failed    Outcome = "Failed"
)

var (
	// ErrConditionNotSatisfied is returned by Until when the deadline passes.
	ErrConditionNotSatisfied = core.New(core.CategoryOperationTimeout, "condition not satisfied before the timeout")

	// ErrWaitStopped is returned by Until when the wait is stopped.
	ErrWaitStopped = core.New(core.CategoryOperationStopped, "wait stopped")
)

// Predicate reports whether the awaited condition holds. An error ends the
// wait.
type Predicate func(ctx context.Context) (bool, error)

// Option configures a Waiter.
type Option func(*Waiter)

func WithLogger(l core.Logger) Option {
	return func(w *Waiter) { w.logger = l }
}

// Waiter runs waits that share one stop signal. Create one per invocation.
type Waiter struct {
	logger   core.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewWaiter creates a waiter that has not been stopped.
func NewWaiter(opts ...Option) *Waiter {
	w := &Waiter{stop: make(chan struct{})}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = core.Discard()
	}
	return w
}

// Stop interrupts the current and every later wait. It is safe to call from
// any goroutine, any number of times.
func (w *Waiter) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Debug().Msg("wait stop requested")
		close(w.stop)
	})
}

// Close releases the waiter. Waits in progress end as Cancelled.
func (w *Waiter) Close() error {
	w.Stop()
	return nil
}

// Wait evaluates pred, then every poll interval, until it returns true.
// A timeout of zero evaluates once without sleeping; NoTimeout waits until
// the condition holds or the wait is stopped. When the deadline falls inside
// a sleep the wait ends as TimedOut without a last evaluation.
func (w *Waiter) Wait(ctx context.Context, pred Predicate, timeout, poll time.Duration) (Outcome, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	start := time.Now()
	evaluations := 0

	for {
		evaluations++
		ok, err := pred(ctx)
		if err != nil {
			w.logger.Debug().Int("evaluations", evaluations).Err(err).Msg("wait predicate failed")
			return Failed, err
		}
		if ok {
			w.logger.Debug().Int("evaluations", evaluations).Msg("wait condition satisfied")
			return Satisfied, nil
		}

		sleep := poll
		deadline := false
		if timeout >= 0 {
			remaining := timeout - time.Since(start)
			if remaining <= 0 {
				return w.timedOut(evaluations, start)
			}
			if remaining <= sleep {
				sleep = remaining
				deadline = true
			}
		}

		w.logger.Trace().Int("evaluations", evaluations).Dur("sleep", sleep).Msg("condition not satisfied, sleeping")

		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
			if deadline {
				return w.timedOut(evaluations, start)
			}
		case <-w.stop:
			timer.Stop()
			return Cancelled, nil
		case <-ctx.Done():
			timer.Stop()
			return Cancelled, nil
		}
	}
}

func (w *Waiter) timedOut(evaluations int, start time.Time) (Outcome, error) {
	w.logger.Debug().
		Int("evaluations", evaluations).
		Dur("elapsed", time.Since(start)).
		Msg("wait timed out")
	return TimedOut, nil
}

// Until is Wait for operation bodies: a timeout becomes
// ErrConditionNotSatisfied and a stop becomes ErrWaitStopped.
func (w *Waiter) Until(ctx context.Context, target string, pred Predicate, timeout, poll time.Duration) error {
	outcome, err := w.Wait(ctx, pred, timeout, poll)
	switch outcome {
	case Satisfied:
		return nil
	case TimedOut:
		return ErrConditionNotSatisfied.WithTarget(target)
	case Cancelled:
		return ErrWaitStopped.WithTarget(target)
	}
	return core.Wrap(err, core.CategoryOf(err), "wait condition could not be evaluated").WithTarget(target)
}
