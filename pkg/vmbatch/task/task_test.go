package task

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
)

type recorder struct {
	mu    sync.Mutex
	snaps []core.TaskSnapshot
}

func (r *recorder) record(s core.TaskSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []core.TaskSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.TaskSnapshot(nil), r.snaps...)
}

func TestTaskLifecycle(t *testing.T) {
	t.Run("pending to completed", func(t *testing.T) {
		tk := New("Starting web", WithLocation("hv01"))
		rec := &recorder{}
		tk.Subscribe(rec.record)

		assert.Equal(t, core.TaskPending, tk.State())
		tk.Start()
		tk.Report(30, "")
		tk.Report(60, "copying")
		tk.Complete()

		snaps := rec.all()
		require.Len(t, snaps, 4)
		assert.Equal(t, core.TaskRunning, snaps[0].State)
		assert.Equal(t, 30, snaps[1].PercentComplete)
		assert.Equal(t, "copying", snaps[2].Status)
		assert.True(t, snaps[3].Completed)
		assert.Equal(t, 100, snaps[3].PercentComplete)
		assert.Equal(t, "hv01", snaps[3].Location)

		assert.True(t, tk.WaitForCompletion(0))
	})

	t.Run("exactly one terminal notification", func(t *testing.T) {
		tk := New("stop")
		rec := &recorder{}
		tk.Subscribe(rec.record)

		tk.Start()
		tk.Fail(errors.New("disk offline"))
		tk.Complete()
		tk.MarkCancelled()
		tk.Report(50, "late")

		var terminal int
		for _, s := range rec.all() {
			if s.Completed {
				terminal++
			}
		}
		assert.Equal(t, 1, terminal)
		assert.Equal(t, core.TaskFaulted, tk.State())
		assert.EqualError(t, tk.Err(), "disk offline")
	})

	t.Run("percent is clamped and may go down", func(t *testing.T) {
		tk := New("resize")
		tk.Report(150, "")
		assert.Equal(t, 100, tk.PercentComplete())
		tk.Report(20, "")
		assert.Equal(t, 20, tk.PercentComplete())
		tk.Report(-5, "")
		assert.Equal(t, 0, tk.PercentComplete())
	})

	t.Run("first report without status starts the task", func(t *testing.T) {
		tk := New("resize")
		tk.Report(10, "")
		assert.Equal(t, core.TaskRunning, tk.State())
		assert.Equal(t, string(core.TaskRunning), tk.Status())

		tk.Report(20, "Copying disks")
		tk.Report(30, "")
		assert.Equal(t, "Copying disks", tk.Status())
	})

	t.Run("fail without error still faults", func(t *testing.T) {
		tk := New("x")
		tk.Fail(nil)
		assert.Error(t, tk.Err())
	})
}

func TestTaskCancel(t *testing.T) {
	t.Run("cancel after completion is a no-op", func(t *testing.T) {
		called := false
		tk := New("start", WithCancel(func() error {
			called = true
			return nil
		}))
		tk.Start()
		tk.Complete()

		assert.NoError(t, tk.Cancel())
		assert.False(t, called)
		assert.False(t, tk.IsCancelable())
		assert.Equal(t, core.TaskCompleted, tk.State())
	})

	t.Run("cancel on non-cancelable task is rejected", func(t *testing.T) {
		tk := New("start")
		tk.Start()
		err := tk.Cancel()
		assert.ErrorIs(t, err, core.ErrInvalidOperation)
	})

	t.Run("cancel is advisory and runs hook once", func(t *testing.T) {
		calls := 0
		tk := New("start", WithCancel(func() error {
			calls++
			return nil
		}))
		tk.Start()

		require.NoError(t, tk.Cancel())
		require.NoError(t, tk.Cancel())
		assert.Equal(t, 1, calls)

		select {
		case <-tk.CancelRequested():
		default:
			t.Fatal("CancelRequested should be closed")
		}
		assert.False(t, tk.IsCompleted(), "cancel must not complete the task by itself")
		assert.Equal(t, "Cancelling", tk.Status())

		tk.MarkCancelled()
		assert.Equal(t, core.TaskCancelled, tk.State())
	})

	t.Run("hook error is reported", func(t *testing.T) {
		tk := New("start", WithLocation("hv02"), WithCancel(func() error {
			return core.New(core.CategoryResourceBusy, "endpoint busy")
		}))
		tk.Start()
		err := tk.Cancel()
		assert.ErrorIs(t, err, core.ErrResourceBusy)
		assert.Contains(t, err.Error(), "hv02")
	})
}

func TestTaskSubscriptions(t *testing.T) {
	t.Run("unsubscribe is idempotent", func(t *testing.T) {
		tk := New("start")
		rec := &recorder{}
		unsubscribe := tk.Subscribe(rec.record)
		unsubscribe()
		unsubscribe()

		tk.Start()
		assert.Empty(t, rec.all())
	})

	t.Run("close is idempotent and stops notifications", func(t *testing.T) {
		tk := New("start")
		rec := &recorder{}
		tk.Subscribe(rec.record)

		assert.NoError(t, tk.Close())
		assert.NoError(t, tk.Close())

		tk.Start()
		tk.Complete()
		assert.Empty(t, rec.all())
		assert.True(t, tk.WaitForCompletion(time.Second), "done must still close after Close")
	})

	t.Run("terminal notification precedes done", func(t *testing.T) {
		tk := New("start")
		seen := make(chan struct{}, 1)
		tk.Subscribe(func(s core.TaskSnapshot) {
			if s.Completed {
				seen <- struct{}{}
			}
		})

		go func() {
			tk.Start()
			tk.Complete()
		}()

		<-tk.Done()
		select {
		case <-seen:
		default:
			t.Fatal("completion notification should be delivered before Done closes")
		}
	})

	t.Run("wait for completion times out", func(t *testing.T) {
		tk := New("start")
		assert.False(t, tk.WaitForCompletion(10*time.Millisecond))
	})

	t.Run("concurrent reports keep order", func(t *testing.T) {
		tk := New("start")
		rec := &recorder{}
		tk.Subscribe(rec.record)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tk.Report(i, "")
			}(i)
		}
		wg.Wait()
		tk.Complete()

		snaps := rec.all()
		require.NotEmpty(t, snaps)
		assert.True(t, snaps[len(snaps)-1].Completed, "completion must be the last notification")
	})
}
