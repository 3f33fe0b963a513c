package inventory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/invoke"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/task"
)

// Actions understood by Endpoint.Invoke.
const (
	ActionGet     = "get"
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
)

// DefaultStepInterval is the pace of simulated state changes.
const DefaultStepInterval = 250 * time.Millisecond

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithStepInterval sets how long each progress step of a state change takes.
// Non-positive durations are ignored.
func WithStepInterval(d time.Duration) Option {
	return func(e *Endpoint) {
		if d > 0 {
			e.stepInterval = d
		}
	}
}

func WithLogger(l core.Logger) Option {
	return func(e *Endpoint) { e.logger = l }
}

// Endpoint serves an inventory as if it were a remote management endpoint.
type Endpoint struct {
	name         string
	machines     []*Machine
	byName       map[string]*Machine
	ranks        map[string]int
	stepInterval time.Duration
	logger       core.Logger

	// mu guards machine state and the set of machines with a change in
	// flight.
	mu   sync.Mutex
	busy map[string]bool
}

var (
	_ invoke.Resolver[*Machine] = (*Endpoint)(nil)
	_ invoke.Invoker[*Machine]  = (*Endpoint)(nil)
)

// NewEndpoint serves f. The machines of f are owned by the endpoint from now
// on.
func NewEndpoint(f *File, opts ...Option) (*Endpoint, error) {
	ranks, err := dependencyRanks(f.Machines)
	if err != nil {
		return nil, err
	}
	e := &Endpoint{
		name:         f.Endpoint,
		machines:     f.Machines,
		byName:       make(map[string]*Machine, len(f.Machines)),
		ranks:        ranks,
		stepInterval: DefaultStepInterval,
		busy:         make(map[string]bool),
	}
	for _, m := range f.Machines {
		e.byName[m.Name] = m
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = core.Discard()
	}
	return e, nil
}

func (e *Endpoint) Name() string { return e.name }

// Resolve matches criteria against machine names, then IDs, then as a glob
// pattern over names. An empty criteria or "*" selects every machine.
// Matches are ordered dependencies first; machines at the same depth keep
// their inventory order.
func (e *Endpoint) Resolve(ctx context.Context, criteria string) ([]*Machine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matched []*Machine
	switch {
	case criteria == "" || criteria == "*":
		matched = append(matched, e.machines...)
	case e.byName[criteria] != nil:
		matched = append(matched, e.byName[criteria])
	default:
		for _, m := range e.machines {
			if m.ID != "" && strings.EqualFold(m.ID, criteria) {
				matched = append(matched, m)
			}
		}
		if len(matched) == 0 && strings.ContainsAny(criteria, "*?[") {
			for _, m := range e.machines {
				ok, err := path.Match(criteria, m.Name)
				if err != nil {
					return nil, core.Wrap(err, core.CategoryInvalidArgument, "invalid name pattern").WithTarget(criteria)
				}
				if ok {
					matched = append(matched, m)
				}
			}
		}
	}

	if len(matched) == 0 {
		return nil, invoke.ErrNotFound.WithTarget(criteria)
	}
	e.SortByDependency(matched)
	return matched, nil
}

// SortByDependency orders ms so that every machine comes after the machines
// it depends on. Machines at the same depth keep their relative order.
func (e *Endpoint) SortByDependency(ms []*Machine) {
	sort.SliceStable(ms, func(a, b int) bool {
		return e.ranks[ms[a].Name] < e.ranks[ms[b].Name]
	})
}

// StateOf reports the current state of the named machine.
func (e *Endpoint) StateOf(ctx context.Context, name string) (MachineState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m, ok := e.byName[name]
	if !ok {
		return "", invoke.ErrNotFound.WithTarget(name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return m.State, nil
}

// Snapshot returns a copy of m as it is now.
func (e *Endpoint) Snapshot(m *Machine) Machine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshotLocked(m)
}

func snapshotLocked(m *Machine) Machine {
	c := *m
	c.DependsOn = append([]string(nil), m.DependsOn...)
	return c
}

// Invoke applies change to m. Get, and a change to the state m is already
// in, return the machine at once. Other changes return a task that runs in
// the background; a machine can only run one change at a time.
func (e *Endpoint) Invoke(ctx context.Context, m *Machine, change invoke.Change) (invoke.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return invoke.Outcome{}, err
	}

	var (
		target  MachineState
		caption string
	)
	switch change.Action {
	case ActionGet:
		return invoke.Outcome{Value: e.Snapshot(m)}, nil
	case ActionStart:
		target, caption = StateRunning, "Starting "+m.Name
	case ActionStop:
		target, caption = StateOff, "Stopping "+m.Name
	case ActionRestart:
		target, caption = StateRunning, "Restarting "+m.Name
	default:
		return invoke.Outcome{}, core.Newf(core.CategoryInvalidArgument, "unsupported action %q", change.Action).WithTarget(m.Name)
	}

	e.mu.Lock()
	if e.busy[m.Name] {
		e.mu.Unlock()
		return invoke.Outcome{}, core.New(core.CategoryResourceBusy, "another change is in progress").WithTarget(m.Name)
	}
	if change.Action != ActionRestart && m.State == target {
		c := snapshotLocked(m)
		e.mu.Unlock()
		e.logger.Debug().Str("machine", m.Name).Str("state", string(target)).Msg("machine already in requested state")
		return invoke.Outcome{Value: c}, nil
	}
	e.busy[m.Name] = true
	e.mu.Unlock()

	opts := []task.Option{task.WithLocation(e.name), task.WithLogger(e.logger)}
	if m.Cancelable {
		opts = append(opts, task.WithCancel(nil))
	}
	t := task.New(caption, opts...)

	e.logger.Debug().
		Str("machine", m.Name).
		Str("action", change.Action).
		Str("task_id", t.ID()).
		Msg("state change started")

	go e.drive(t, m, target)
	return invoke.Outcome{Task: t}, nil
}

// drive walks t through the steps of a state change. The machine is
// released before t completes so a watcher can issue the next change as soon
// as it sees the task end.
func (e *Endpoint) drive(t *task.Task, m *Machine, target MachineState) {
	t.Start()
	ticker := time.NewTicker(e.stepInterval)
	defer ticker.Stop()

	for step := 1; step <= m.Steps; step++ {
		select {
		case <-t.CancelRequested():
			e.logger.Debug().Str("machine", m.Name).Int("step", step).Msg("state change cancelled")
			e.release(m, "")
			t.MarkCancelled()
			return
		case <-ticker.C:
		}
		t.Report(step*100/m.Steps, fmt.Sprintf("step %d of %d", step, m.Steps))
	}

	if m.Fail != "" {
		e.release(m, "")
		t.Fail(core.New(core.CategoryInvalidOperation, m.Fail).WithTarget(m.Name))
		return
	}
	e.release(m, target)
	t.Complete()
}

func (e *Endpoint) release(m *Machine, state MachineState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if state != "" {
		m.State = state
	}
	delete(e.busy, m.Name)
}
