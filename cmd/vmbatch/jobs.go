package main

import (
	"context"
	"fmt"
	"time"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/execution"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/job"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/watcher"
)

// runAsJob runs b in a background job and streams what the job collects to
// the console until it ends. Cancelling ctx stops the job.
func (rt *runtime) runAsJob(ctx context.Context, command string, b execution.Batch) error {
	manager := job.NewManager(rt.cfg.Jobs.TTL, rt.component("jobs"))
	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	defer stopCleanup()
	go manager.Run(cleanupCtx, rt.cfg.Jobs.CleanupInterval)

	j := job.New(command, b, rt.executor,
		job.WithLogger(rt.component("job")),
		job.WithMetrics(rt.recorder))
	if err := manager.Add(j); err != nil {
		return err
	}
	if err := j.Start(ctx); err != nil {
		return err
	}

	sinks := rt.sinks()
	info(sinks, fmt.Sprintf("Job %s started (%s)", j.ID(), command))

	relay := &jobRelay{job: j, sinks: sinks}
	ticker := time.NewTicker(rt.cfg.Watch.ProgressInterval)
	defer ticker.Stop()

	interrupt := ctx.Done()
	for {
		select {
		case <-j.Done():
			relay.flush()
			err := jobOutcome(j)
			if rmErr := manager.Remove(j.ID()); rmErr != nil {
				rt.logger.Debug().Err(rmErr).Str("job", j.ID()).Msg("job not removed")
			}
			return err
		case <-ticker.C:
			relay.flush()
		case <-interrupt:
			interrupt = nil
			info(sinks, fmt.Sprintf("Stopping job %s", j.ID()))
			manager.StopAll()
		}
	}
}

func jobOutcome(j *job.Job) error {
	switch j.State() {
	case job.StateFailed:
		return j.Err()
	case job.StateStopped:
		return fmt.Errorf("job %s stopped", j.ID())
	}
	if result := j.Result(); result != nil {
		return summarize(result)
	}
	return nil
}

func info(sinks watcher.Sinks, text string) {
	if sinks.Info != nil {
		sinks.Info(text)
	}
}

// jobRelay forwards a job's streams and changed progress records to sinks.
type jobRelay struct {
	job   *job.Job
	sinks watcher.Sinks
	sent  []core.ProgressRecord
}

func (r *jobRelay) flush() {
	for _, v := range r.job.Output().Drain() {
		if r.sinks.Output != nil {
			r.sinks.Output(v)
		}
	}
	for _, text := range r.job.Warnings().Drain() {
		if r.sinks.Warning != nil {
			r.sinks.Warning(text)
		}
	}
	for _, text := range r.job.Verbose().Drain() {
		if r.sinks.Verbose != nil {
			r.sinks.Verbose(text)
		}
	}
	for _, rec := range r.job.Errors().Drain() {
		if r.sinks.Error != nil {
			r.sinks.Error(rec)
		}
	}

	progress := r.job.Progress()
	for i, rec := range progress {
		if i < len(r.sent) && r.sent[i] == rec {
			continue
		}
		if r.sinks.Progress != nil {
			r.sinks.Progress.Update(rec)
		}
	}
	r.sent = progress
}
