package job

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
)

// DefaultTTL is how long finished jobs are retained.
const DefaultTTL = 1 * time.Hour

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = core.New(core.CategoryObjectNotFound, "job not found")

	// ErrJobActive is returned when removing a job that has not finished.
	ErrJobActive = core.New(core.CategoryResourceBusy, "job is still active")
)

// Manager keeps background jobs in memory.
type Manager struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	ttl    time.Duration
	logger core.Logger
}

// NewManager creates a new job manager. Finished jobs older than ttl are
// dropped by Prune.
func NewManager(ttl time.Duration, logger core.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = core.Discard()
	}
	return &Manager{
		jobs:   make(map[string]*Job),
		ttl:    ttl,
		logger: logger,
	}
}

// Add registers j. IDs must be unique.
func (m *Manager) Add(j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[j.ID()]; exists {
		return core.Newf(core.CategoryInvalidArgument, "job %s already registered", j.ID())
	}
	m.jobs[j.ID()] = j
	return nil
}

// Get retrieves a job by ID.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound.WithTarget(id)
	}
	return j, nil
}

// List returns the registered jobs, oldest first.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt().Before(out[b].CreatedAt())
	})
	return out
}

// StopAll requests every unfinished job to stop.
func (m *Manager) StopAll() {
	for _, j := range m.List() {
		if !j.State().IsTerminal() {
			j.StopJob()
		}
	}
}

// Remove closes and forgets a finished job. A stopped job whose batch has
// not returned yet is still active.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound.WithTarget(id)
	}
	if !j.finished() {
		m.mu.Unlock()
		return ErrJobActive.WithTarget(id)
	}
	delete(m.jobs, id)
	m.mu.Unlock()

	return j.Close()
}

// Prune removes finished jobs that ended more than the TTL before now and
// returns how many were removed.
func (m *Manager) Prune(now time.Time) int {
	cutoff := now.Add(-m.ttl)

	m.mu.Lock()
	var expired []*Job
	for id, j := range m.jobs {
		if j.finished() && j.FinishedAt().Before(cutoff) {
			expired = append(expired, j)
			delete(m.jobs, id)
		}
	}
	m.mu.Unlock()

	for _, j := range expired {
		_ = j.Close()
	}
	if len(expired) > 0 {
		m.logger.Debug().Int("count", len(expired)).Msg("pruned finished jobs")
	}
	return len(expired)
}

// Run prunes expired jobs every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Prune(now)
		}
	}
}
