package watcher

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/task"
)

type capture struct {
	mu       sync.Mutex
	objects  []any
	warnings []string
	verbose  []string
	info     []string
	errors   []core.ErrorRecord
	progress []core.ProgressRecord
}

func (c *capture) sinks() Sinks {
	return Sinks{
		Output:  func(v any) { c.mu.Lock(); c.objects = append(c.objects, v); c.mu.Unlock() },
		Warning: func(s string) { c.mu.Lock(); c.warnings = append(c.warnings, s); c.mu.Unlock() },
		Verbose: func(s string) { c.mu.Lock(); c.verbose = append(c.verbose, s); c.mu.Unlock() },
		Info:    func(s string) { c.mu.Lock(); c.info = append(c.info, s); c.mu.Unlock() },
		Error:   func(r core.ErrorRecord) { c.mu.Lock(); c.errors = append(c.errors, r); c.mu.Unlock() },
		Progress: ProgressFunc(func(r core.ProgressRecord) {
			c.mu.Lock()
			c.progress = append(c.progress, r)
			c.mu.Unlock()
		}),
	}
}

func (c *capture) records() []core.ProgressRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.ProgressRecord(nil), c.progress...)
}

type fakePrompter struct {
	confirm    bool
	choice     string
	err        error
	questions  []string
	chooseCall int
}

func (p *fakePrompter) Confirm(q string, _ bool) (bool, error) {
	p.questions = append(p.questions, q)
	return p.confirm, p.err
}

func (p *fakePrompter) Choose(q string, _ []string) (string, error) {
	p.questions = append(p.questions, q)
	p.chooseCall++
	return p.choice, p.err
}

type closeCounter struct {
	*task.Task
	mu     sync.Mutex
	closes int
}

func (c *closeCounter) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return c.Task.Close()
}

func TestForegroundSinks(t *testing.T) {
	t.Run("closed sinks drop writes", func(t *testing.T) {
		w := NewForeground()
		assert.NotPanics(t, func() {
			w.WriteObject("vm")
			w.WriteWarning("careful")
			w.WriteVerbose("details")
			w.WriteError(errors.New("boom"))
		})
	})

	t.Run("writes reach open sinks", func(t *testing.T) {
		c := &capture{}
		w := NewForeground(WithSinks(c.sinks()))
		w.WriteObject("web")
		w.WriteWarning("careful")
		w.WriteVerbose("details")

		assert.Equal(t, []any{"web"}, c.objects)
		assert.Equal(t, []string{"careful"}, c.warnings)
		assert.Equal(t, []string{"details"}, c.verbose)
	})

	t.Run("error without tracked task closes progress", func(t *testing.T) {
		c := &capture{}
		w := NewForeground(WithSinks(c.sinks()))
		w.WriteError(core.New(core.CategoryObjectNotFound, "no such vm").WithTarget("db"))

		require.Len(t, c.errors, 1)
		assert.Equal(t, core.CategoryObjectNotFound, c.errors[0].Category)
		recs := c.records()
		require.Len(t, recs, 1)
		assert.True(t, recs[0].IsCompleted())
		assert.Equal(t, 100, recs[0].PercentComplete)
		assert.Equal(t, core.StatusException, recs[0].StatusDescription)
	})

	t.Run("console sinks render with prefixes", func(t *testing.T) {
		var out, errOut bytes.Buffer
		w := NewForeground(WithSinks(ConsoleSinks(&out, &errOut, false)))
		w.WriteObject("web01")
		w.WriteWarning("low memory")
		w.WriteVerbose("hidden")

		assert.Equal(t, "web01\n", out.String())
		assert.Contains(t, errOut.String(), "low memory")
		assert.NotContains(t, errOut.String(), "hidden")
	})
}

func TestForegroundConfirmation(t *testing.T) {
	t.Run("force always proceeds", func(t *testing.T) {
		p := &fakePrompter{}
		w := NewForeground(WithPolicy(PolicyForce), WithPrompter(p))
		assert.True(t, w.ShouldProcess("start web"))
		assert.True(t, w.ShouldContinue("really?"))
		assert.Empty(t, p.questions)
	})

	t.Run("whatif reports and declines", func(t *testing.T) {
		c := &capture{}
		w := NewForeground(WithPolicy(PolicyWhatIf), WithSinks(c.sinks()))
		assert.False(t, w.ShouldProcess("stop db"))
		assert.Equal(t, []string{"What if: stop db"}, c.info)
	})

	t.Run("interactive asks the prompter", func(t *testing.T) {
		p := &fakePrompter{confirm: false}
		w := NewForeground(WithPrompter(p))
		assert.False(t, w.ShouldProcess("stop db"))
		require.Len(t, p.questions, 1)
		assert.True(t, strings.Contains(p.questions[0], "stop db"))
	})

	t.Run("prompt failure declines", func(t *testing.T) {
		w := NewForeground(WithPrompter(&fakePrompter{confirm: true, err: errors.New("no tty")}))
		assert.False(t, w.ShouldProcess("stop db"))
	})

	t.Run("no prompter answers yes", func(t *testing.T) {
		w := NewForeground()
		assert.True(t, w.ShouldProcess("x"))
		assert.True(t, w.ShouldContinue("x"))
	})

	t.Run("yes to all is remembered", func(t *testing.T) {
		p := &fakePrompter{choice: AnswerYesToAll}
		w := NewForeground(WithPrompter(p))
		assert.True(t, w.ShouldContinue("one"))
		assert.True(t, w.ShouldContinue("two"))
		assert.Equal(t, 1, p.chooseCall)
	})

	t.Run("no to all is remembered", func(t *testing.T) {
		p := &fakePrompter{choice: AnswerNoToAll}
		w := NewForeground(WithPrompter(p))
		assert.False(t, w.ShouldContinue("one"))
		assert.False(t, w.ShouldContinue("two"))
		assert.Equal(t, 1, p.chooseCall)
	})
}

func TestForegroundWatch(t *testing.T) {
	t.Run("already completed task returns immediately", func(t *testing.T) {
		c := &capture{}
		w := NewForeground(WithSinks(c.sinks()), WithProgressInterval(time.Hour))

		tk := &closeCounter{Task: task.New("Starting web")}
		tk.Start()
		tk.Complete()

		done := make(chan error, 1)
		go func() { done <- w.Watch(context.Background(), tk) }()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Watch blocked on a completed task")
		}

		recs := c.records()
		require.Len(t, recs, 1)
		assert.True(t, recs[0].IsCompleted())
		assert.Equal(t, 100, recs[0].PercentComplete)
		assert.Equal(t, 1, tk.closes)
	})

	t.Run("relays progress and reports fault", func(t *testing.T) {
		c := &capture{}
		w := NewForeground(WithSinks(c.sinks()), WithProgressInterval(time.Hour))
		tk := task.New("Stopping db")

		go func() {
			time.Sleep(10 * time.Millisecond)
			tk.Start()
			tk.Report(50, "")
			tk.Fail(errors.New("guest refused shutdown"))
		}()

		err := w.Watch(context.Background(), tk)
		assert.EqualError(t, err, "guest refused shutdown")

		recs := c.records()
		require.NotEmpty(t, recs)
		last := recs[len(recs)-1]
		assert.True(t, last.IsCompleted())
		for _, r := range recs[:len(recs)-1] {
			assert.False(t, r.IsCompleted(), "only the last record may be terminal")
		}
	})

	t.Run("one task at a time", func(t *testing.T) {
		w := NewForeground(WithProgressInterval(time.Hour))
		first := task.New("first")
		started := make(chan struct{})
		go func() {
			close(started)
			_ = w.Watch(context.Background(), first)
		}()
		<-started
		require.Eventually(t, func() bool {
			w.mu.Lock()
			defer w.mu.Unlock()
			return w.current != nil
		}, time.Second, 5*time.Millisecond)

		err := w.Watch(context.Background(), task.New("second"))
		assert.ErrorIs(t, err, core.ErrInvalidOperation)

		first.Complete()
	})

	t.Run("context cancellation requests task cancel", func(t *testing.T) {
		w := NewForeground(WithProgressInterval(time.Hour))
		var tk *task.Task
		tk = task.New("Starting web", task.WithCancel(func() error {
			go tk.MarkCancelled()
			return nil
		}))
		tk.Start()

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)

		err := w.Watch(ctx, tk)
		assert.ErrorIs(t, err, core.ErrOperationStopped)
		assert.Equal(t, core.TaskCancelled, tk.State())
	})

	t.Run("error while tracking does not synthesize a record", func(t *testing.T) {
		c := &capture{}
		w := NewForeground(WithSinks(c.sinks()), WithProgressInterval(time.Hour))
		tk := task.New("Starting web")
		tk.Subscribe(func(s core.TaskSnapshot) {
			if s.PercentComplete == 40 {
				w.WriteError(errors.New("side failure"))
			}
		})

		go func() {
			time.Sleep(10 * time.Millisecond)
			tk.Report(40, "")
			tk.Complete()
		}()
		require.NoError(t, w.Watch(context.Background(), tk))

		for _, r := range c.records() {
			assert.NotEqual(t, core.StatusException, r.StatusDescription)
		}
	})
}
