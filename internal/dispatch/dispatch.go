// Package dispatch submits at most one external job per incomplete unit.
//
// The coordinator is fire-and-forget by design: it submits a batch and
// exits, and a later invocation re-derives completion from the filesystem.
// Nothing here waits on, polls, or otherwise observes job execution.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/avocet-obs/radarpipe/internal/ledger"
	"github.com/avocet-obs/radarpipe/internal/metrics"
	"github.com/avocet-obs/radarpipe/internal/oracle"
	"github.com/avocet-obs/radarpipe/internal/stage"
	"github.com/avocet-obs/radarpipe/internal/unit"
)

// Summary counts the outcomes of one dispatch invocation. The exit code
// keys off Failed alone: scan failures are operator warnings, not pipeline
// faults.
type Summary struct {
	Submitted  int
	Skipped    int
	ScanFailed int
	Failed     int
}

// Dispatcher evaluates units and submits the incomplete ones.
type Dispatcher struct {
	Stage     stage.Config
	Oracle    *oracle.Oracle
	Submitter Submitter
	Ledger    *ledger.Writer
	Log       *slog.Logger
}

// DispatchAll processes units in (site, day) order. Each unit gets at most
// one submission; a submission-call failure is counted and logged but never
// aborts the remaining units. Re-invoking with unchanged inputs and
// force=false submits zero new jobs.
func (d *Dispatcher) DispatchAll(ctx context.Context, units []unit.Unit, force bool) (Summary, error) {
	unit.Sort(units)

	var sum Summary
	m := metrics.Get()

	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if m != nil {
			m.UnitsScanned.WithLabelValues(d.Stage.Name).Inc()
		}

		rec := d.Oracle.Evaluate(u)

		switch {
		case rec.Status == oracle.ScanFailed:
			// Unreadable input. Do not submit, even under force; flag
			// for an operator instead of counting a failure.
			sum.ScanFailed++
			d.Log.Warn("input scan failed, unit excluded",
				"site", u.Site, "day", u.Day, "input", u.Input, "error", rec.Err)
			d.append(ledger.Entry{
				Stage: u.Stage, Site: u.Site, Day: u.Day, Input: u.Input,
				Outcome: ledger.OutcomeScanFail, Detail: rec.Err.Error(),
			})
			if m != nil {
				m.UnitsScanFailed.WithLabelValues(d.Stage.Name).Inc()
			}
			continue

		case rec.Status == oracle.Complete && !force:
			sum.Skipped++
			d.Log.Info("skip", "site", u.Site, "day", u.Day,
				"expected", rec.Expected, "actual", rec.Actual)
			d.append(ledger.Entry{
				Stage: u.Stage, Site: u.Site, Day: u.Day, Input: u.Input,
				Outcome: ledger.OutcomeSkipped,
			})
			if m != nil {
				m.UnitsSkipped.WithLabelValues(d.Stage.Name).Inc()
			}
			continue
		}

		jobID, err := d.Submitter.Submit(ctx, Request{
			Unit:       u,
			InputRoot:  d.Stage.InputRoot,
			OutputRoot: d.Stage.OutputRoot,
			Force:      force,
			ModeFlags:  d.Stage.ModeFlags,
		})
		if err != nil {
			sum.Failed++
			d.Log.Error("failed to submit", "site", u.Site, "day", u.Day, "error", err)
			d.append(ledger.Entry{
				Stage: u.Stage, Site: u.Site, Day: u.Day, Input: u.Input,
				Outcome: ledger.OutcomeFailed, Detail: err.Error(),
			})
			if m != nil {
				m.UnitsFailed.WithLabelValues(d.Stage.Name).Inc()
			}
			continue
		}

		sum.Submitted++
		d.Log.Info("submitted", "site", u.Site, "day", u.Day, "job_id", jobID)
		d.append(ledger.Entry{
			Stage: u.Stage, Site: u.Site, Day: u.Day, Input: u.Input,
			JobID: jobID, Outcome: ledger.OutcomeSubmitted,
		})
		if m != nil {
			m.UnitsSubmitted.WithLabelValues(d.Stage.Name).Inc()
		}
	}

	d.Log.Info("dispatch complete",
		"submitted", sum.Submitted,
		"skipped", sum.Skipped,
		"scan_failed", sum.ScanFailed,
		"failed", sum.Failed,
	)
	return sum, nil
}

// append writes a ledger entry, tolerating a nil ledger (tests) and
// logging write errors without failing the batch: the ledger is audit,
// not truth.
func (d *Dispatcher) append(e ledger.Entry) {
	if d.Ledger == nil {
		return
	}
	if err := d.Ledger.Append(e); err != nil {
		d.Log.Warn("failed to append ledger entry", "error", err)
	}
}
