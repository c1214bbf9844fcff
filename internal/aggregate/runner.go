package aggregate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/avocet-obs/radarpipe/internal/metrics"
	"github.com/avocet-obs/radarpipe/internal/stage"
	"github.com/avocet-obs/radarpipe/internal/unit"
)

// DayRunner aggregates one unit (site/day) for every category of an
// aggregate stage. Categories are fully independent invocations: a failure
// in one is logged and counted without blocking or corrupting the sibling.
type DayRunner struct {
	Stage   stage.Config
	Agg     *Aggregator
	Parquet bool
}

// RunUnit merges each category's artifacts for the unit. Returns the
// per-category outcome counts; err is non-nil only for failures outside
// any single category (none today, kept for symmetry with dispatch).
func (r *DayRunner) RunUnit(ctx context.Context, u unit.Unit) (merged, failed int) {
	m := metrics.Get()

	for _, cat := range r.Stage.Categories {
		glob := cat.ArtifactGlob()
		artifacts, err := filepath.Glob(filepath.Join(u.Input, glob))
		if err != nil {
			failed++
			r.Agg.Log.Error("bad category glob", "category", cat.Name, "glob", glob, "error", err)
			continue
		}
		if len(artifacts) == 0 {
			r.Agg.Log.Warn("no artifacts for category, skipping",
				"site", u.Site, "day", u.Day, "category", cat.Name)
			continue
		}

		out := r.outputFor(u, cat)
		started := time.Now()
		stats, err := r.Agg.Aggregate(ctx, artifacts, out)
		if err != nil {
			failed++
			r.Agg.Log.Error("aggregation failed, sibling categories continue",
				"site", u.Site, "day", u.Day, "category", cat.Name, "error", err)
			if m != nil {
				m.AggregateFailures.WithLabelValues(cat.Name).Inc()
			}
			continue
		}

		merged++
		if m != nil {
			m.AggregateRows.WithLabelValues(cat.Name).Add(float64(stats.Rows))
			m.AggregateDuration.WithLabelValues(cat.Name).Observe(time.Since(started).Seconds())
		}
	}

	return merged, failed
}

// outputFor derives the category's destinations, matching the daily
// strategy's expected-output naming so a later status scan sees the unit
// complete.
func (r *DayRunner) outputFor(u unit.Unit, cat stage.Category) Output {
	outDir := filepath.Join(r.Stage.OutputRoot, u.Site, u.Day[:4], u.Day)
	name := fmt.Sprintf("%s_%s%s", u.Site, u.Day, cat.Suffix)
	csvPath := filepath.Join(outDir, cat.Subdir, name)

	out := Output{CSVPath: csvPath, Site: u.Site, Day: u.Day}
	if r.Parquet {
		base := strings.TrimSuffix(csvPath, ".gz")
		base = strings.TrimSuffix(base, filepath.Ext(base))
		out.ParquetPath = base + ".parquet"
	}
	return out
}
