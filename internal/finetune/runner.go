package finetune

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Runner polls active jobs in the background and, when enabled, submits a
// corpus built from history on a schedule.
type Runner struct {
	manager      *Manager
	poll         time.Duration
	autoInterval time.Duration
	corpusTarget int
	logger       *slog.Logger
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// PollInterval defaults to 30s.
	PollInterval time.Duration
	// AutoInterval enables the scheduler when > 0.
	AutoInterval time.Duration
	// CorpusTarget is the number of records the scheduler waits for.
	CorpusTarget int
	Logger       *slog.Logger
}

// NewRunner creates a Runner for m.
func NewRunner(m *Manager, opts RunnerOptions) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.CorpusTarget <= 0 {
		opts.CorpusTarget = DefaultCorpusTarget
	}
	logger := opts.Logger
	if logger == nil {
		logger = m.logger
	}
	return &Runner{
		manager:      m,
		poll:         opts.PollInterval,
		autoInterval: opts.AutoInterval,
		corpusTarget: opts.CorpusTarget,
		logger:       logger,
	}
}

// Run polls until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	if r.autoInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.schedule(ctx)
		}()
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("fine-tune runner iteration failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.poll):
		}
	}
}

// RunOnce polls every active job once and returns how many were polled.
// A failing job does not stop the others.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	jobs, err := r.manager.List(ctx, 100, Active...)
	if err != nil {
		return 0, fmt.Errorf("listing active jobs: %w", err)
	}
	for _, j := range jobs {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if _, err := r.manager.Poll(ctx, j.ID); err != nil {
			r.logger.Warn("polling job failed", "job_id", j.ID, "error", err)
		}
	}
	return len(jobs), nil
}

func (r *Runner) schedule(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.autoInterval):
		}
		if _, submitted, err := r.MaybeSubmit(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("scheduled fine-tune submission failed", "error", err)
		} else if submitted {
			r.logger.Info("scheduled fine-tune submitted")
		}
	}
}

// MaybeSubmit submits a corpus built from history when no job is active and
// at least CorpusTarget records are available.
func (r *Runner) MaybeSubmit(ctx context.Context) (Job, bool, error) {
	active, err := r.manager.List(ctx, 1, Active...)
	if err != nil {
		return Job{}, false, fmt.Errorf("listing active jobs: %w", err)
	}
	if len(active) > 0 {
		r.logger.Debug("skipping scheduled fine-tune, a job is active", "job_id", active[0].ID)
		return Job{}, false, nil
	}

	records, err := r.manager.BuildCorpus(ctx, r.corpusTarget)
	if err != nil {
		return Job{}, false, err
	}
	if len(records) < r.corpusTarget {
		r.logger.Debug("skipping scheduled fine-tune, corpus too small",
			"records", len(records), "target", r.corpusTarget)
		return Job{}, false, nil
	}

	j, err := r.manager.Submit(ctx, records, SubmitOptions{})
	if err != nil {
		return Job{}, false, err
	}
	return j, true, nil
}
