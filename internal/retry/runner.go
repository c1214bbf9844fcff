package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/avocet-obs/radarpipe/internal/dispatch"
	"github.com/avocet-obs/radarpipe/internal/ledger"
	"github.com/avocet-obs/radarpipe/internal/metrics"
	"github.com/avocet-obs/radarpipe/internal/stage"
)

// Runner dispatches retry tasks with a bounded number of simultaneous
// submission calls. The bound applies to the submission calls themselves;
// job execution parallelism stays with the external scheduler.
type Runner struct {
	Stage     stage.Config
	Submitter dispatch.Submitter
	Ledger    *ledger.Writer
	Log       *slog.Logger

	mu sync.Mutex // guards ledger appends and summary counts
}

// Run submits all tasks, at most maxConcurrent at a time, and returns the
// outcome counts. Fails fast, before submitting anything, if the bound is
// not a positive integer. An empty task list is a reported no-op.
func (r *Runner) Run(ctx context.Context, tasks []Task, maxConcurrent int) (dispatch.Summary, error) {
	var sum dispatch.Summary

	if maxConcurrent <= 0 {
		return sum, fmt.Errorf("retry concurrency must be positive, got %d", maxConcurrent)
	}
	if len(tasks) == 0 {
		r.Log.Info("retry list empty, nothing to submit")
		return sum, nil
	}

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for _, t := range tasks {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return sum, ctx.Err()
		}

		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			defer func() { <-sem }()
			r.submitOne(ctx, t, &sum)
		}(t)
	}

	wg.Wait()

	r.Log.Info("retry dispatch complete",
		"submitted", sum.Submitted,
		"failed", sum.Failed,
	)
	return sum, nil
}

func (r *Runner) submitOne(ctx context.Context, t Task, sum *dispatch.Summary) {
	u := t.Unit
	jobID, err := r.Submitter.Submit(ctx, dispatch.Request{
		Unit:       u,
		InputRoot:  r.Stage.InputRoot,
		OutputRoot: r.Stage.OutputRoot,
		Force:      true, // retries overwrite whatever a failed run left behind
		ModeFlags:  r.Stage.ModeFlags,
	})

	m := metrics.Get()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		sum.Failed++
		r.Log.Error("failed to submit retry", "site", u.Site, "day", u.Day,
			"input", u.Input, "error", err)
		r.append(ledger.Entry{
			Stage: u.Stage, Site: u.Site, Day: u.Day, Input: u.Input,
			Outcome: ledger.OutcomeFailed, Detail: err.Error(),
		})
		if m != nil {
			m.RetryFailed.WithLabelValues(r.Stage.Name).Inc()
		}
		return
	}

	sum.Submitted++
	r.Log.Info("submitted retry", "site", u.Site, "day", u.Day,
		"job_id", jobID, "cause", t.Cause)
	r.append(ledger.Entry{
		Stage: u.Stage, Site: u.Site, Day: u.Day, Input: u.Input,
		JobID: jobID, Outcome: ledger.OutcomeSubmitted, Detail: t.Cause,
	})
	if m != nil {
		m.RetrySubmitted.WithLabelValues(r.Stage.Name).Inc()
	}
}

func (r *Runner) append(e ledger.Entry) {
	if r.Ledger == nil {
		return
	}
	if err := r.Ledger.Append(e); err != nil {
		r.Log.Warn("failed to append ledger entry", "error", err)
	}
}
