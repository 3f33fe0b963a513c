// Package watcher implements the interactive OperationWatcher used when a
// batch runs on the caller's path.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
)

// Policy decides how confirmation gates are answered.
type Policy string

const (
	// PolicyInteractive asks the Prompter.
	PolicyInteractive Policy = "interactive"
	// PolicyForce answers yes without asking.
	PolicyForce Policy = "force"
	// PolicyWhatIf reports what would be done and answers no to ShouldProcess.
	PolicyWhatIf Policy = "whatif"
)

// DefaultProgressInterval is how often a tracked task's progress is
// re-emitted when it raises no notifications of its own.
const DefaultProgressInterval = 500 * time.Millisecond

// Option configures a Foreground watcher.
type Option func(*Foreground)

func WithSinks(s Sinks) Option {
	return func(f *Foreground) { f.sinks = s }
}

func WithPrompter(p Prompter) Option {
	return func(f *Foreground) { f.prompter = p }
}

func WithPolicy(p Policy) Option {
	return func(f *Foreground) { f.policy = p }
}

func WithProgressInterval(d time.Duration) Option {
	return func(f *Foreground) {
		if d > 0 {
			f.interval = d
		}
	}
}

func WithLogger(l core.Logger) Option {
	return func(f *Foreground) { f.logger = l }
}

// Foreground is the OperationWatcher for one interactive invocation.
type Foreground struct {
	sinks    Sinks
	prompter Prompter
	policy   Policy
	interval time.Duration
	logger   core.Logger

	mu           sync.Mutex
	current      core.WatchableTask
	yesToAll     bool
	noToAll      bool
	nextActivity int
}

var _ core.OperationWatcher = (*Foreground)(nil)

// NewForeground creates a watcher. Without options every sink is closed and
// confirmation is interactive with no prompter, which answers yes.
func NewForeground(opts ...Option) *Foreground {
	f := &Foreground{
		policy:   PolicyInteractive,
		interval: DefaultProgressInterval,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = core.Discard()
	}
	return f
}

func (f *Foreground) WriteObject(v any) {
	if f.sinks.Output != nil {
		f.sinks.Output(v)
	}
}

func (f *Foreground) WriteWarning(text string) {
	if f.sinks.Warning != nil {
		f.sinks.Warning(text)
	}
}

func (f *Foreground) WriteVerbose(text string) {
	if f.sinks.Verbose != nil {
		f.sinks.Verbose(text)
	}
}

func (f *Foreground) WriteError(err error) {
	if err == nil {
		return
	}
	if f.sinks.Error != nil {
		f.sinks.Error(core.NewErrorRecord(err))
	}

	f.mu.Lock()
	tracked := f.current != nil
	var rec core.ProgressRecord
	if !tracked {
		f.nextActivity++
		rec = core.ProgressRecord{ActivityID: f.nextActivity, Activity: "operation"}
		rec.Fail()
	}
	f.mu.Unlock()

	if !tracked {
		f.emit(rec)
	}
}

func (f *Foreground) ShouldProcess(description string) bool {
	switch f.policy {
	case PolicyForce:
		return true
	case PolicyWhatIf:
		if f.sinks.Info != nil {
			f.sinks.Info("What if: " + description)
		}
		return false
	}
	if f.prompter == nil {
		return true
	}
	ok, err := f.prompter.Confirm(fmt.Sprintf("Perform %s?", description), false)
	if err != nil {
		f.logger.Warn().Err(err).Str("description", description).Msg("confirmation prompt failed")
		return false
	}
	return ok
}

func (f *Foreground) ShouldContinue(description string) bool {
	f.mu.Lock()
	switch {
	case f.noToAll:
		f.mu.Unlock()
		return false
	case f.yesToAll, f.policy == PolicyForce, f.policy == PolicyWhatIf:
		f.mu.Unlock()
		return true
	}
	f.mu.Unlock()

	if f.prompter == nil {
		return true
	}
	answer, err := f.prompter.Choose(description, []string{AnswerYes, AnswerYesToAll, AnswerNo, AnswerNoToAll})
	if err != nil {
		f.logger.Warn().Err(err).Str("description", description).Msg("confirmation prompt failed")
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch answer {
	case AnswerYesToAll:
		f.yesToAll = true
		return true
	case AnswerNoToAll:
		f.noToAll = true
		return false
	}
	return answer == AnswerYes
}

// Watch tracks t until it completes. If ctx ends first, cancellation of t is
// requested once and Watch keeps waiting for the task to finish.
func (f *Foreground) Watch(ctx context.Context, t core.WatchableTask) error {
	activity, err := f.track(t)
	if err != nil {
		return err
	}
	defer f.untrack(t)

	f.logger.Debug().Str("task_id", t.ID()).Str("caption", t.Caption()).Msg("watching task")

	var (
		relayMu      sync.Mutex
		terminalSeen bool
	)
	rec := core.ProgressRecord{ActivityID: activity, Activity: t.Caption()}
	relay := func(s core.TaskSnapshot) {
		relayMu.Lock()
		defer relayMu.Unlock()
		if terminalSeen {
			return
		}
		rec.Apply(s)
		terminalSeen = s.Completed
		f.emit(rec)
	}

	unsubscribe := t.Subscribe(relay)
	defer unsubscribe()

	relay(t.Snapshot())

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	stop := ctx.Done()
	for {
		select {
		case <-t.Done():
			relay(t.Snapshot())
			return core.TaskOutcome(t.Snapshot())
		case <-ticker.C:
			relay(t.Snapshot())
		case <-stop:
			stop = nil
			if !t.IsCancelable() {
				f.logger.Warn().Str("task_id", t.ID()).Msg("task cannot be cancelled, waiting for it to finish")
				continue
			}
			if err := t.Cancel(); err != nil {
				f.logger.Warn().Err(err).Str("task_id", t.ID()).Msg("task cancellation failed")
			}
		}
	}
}

func (f *Foreground) track(t core.WatchableTask) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != nil {
		return 0, core.Newf(core.CategoryInvalidOperation,
			"cannot watch %q while %q is still tracked", t.Caption(), f.current.Caption())
	}
	f.current = t
	f.nextActivity++
	return f.nextActivity, nil
}

func (f *Foreground) untrack(t core.WatchableTask) {
	f.mu.Lock()
	if f.current == t {
		f.current = nil
	}
	f.mu.Unlock()
	_ = t.Close()
}

func (f *Foreground) emit(rec core.ProgressRecord) {
	if f.sinks.Progress != nil {
		f.sinks.Progress.Update(rec)
	}
}
