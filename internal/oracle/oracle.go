// Package oracle decides, from filesystem truth alone, whether a work
// unit's expected outputs already exist.
//
// Expected outputs are computed dynamically by a per-stage Strategy: the
// number of outputs a unit owes depends on the internal substructure of its
// input, not on a static formula. The comparison logic here is shared by
// every stage; only the Strategy differs.
package oracle

import (
	"fmt"
	"os"

	"github.com/avocet-obs/radarpipe/internal/unit"
)

// Status classifies a unit's completion state.
type Status int

const (
	// Incomplete means at least one output category is short of its
	// expected count; the unit should be (re)submitted.
	Incomplete Status = iota
	// Complete means every category meets or exceeds its expected count.
	Complete
	// ScanFailed means the unit's input could not be introspected. The
	// unit is excluded from dispatch and flagged for an operator; it is
	// neither complete nor a dispatch failure.
	ScanFailed
)

func (s Status) String() string {
	switch s {
	case Complete:
		return "complete"
	case Incomplete:
		return "incomplete"
	case ScanFailed:
		return "scan-failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// OutputSet holds the expected output paths for one unit, keyed by
// category. Disjointness invariant: no path in any unit's set may appear
// in another concurrently dispatched unit's set. Stage strategies satisfy
// this by deriving every path from the unit's own (site, day) directory.
type OutputSet struct {
	Categories map[string][]string
}

// Total returns the expected path count across all categories.
func (o OutputSet) Total() int {
	n := 0
	for _, paths := range o.Categories {
		n += len(paths)
	}
	return n
}

// Strategy computes a unit's expected outputs, introspecting the unit's
// input artifact as needed.
type Strategy interface {
	ExpectedOutputs(u unit.Unit) (OutputSet, error)
}

// Record is the derived completion state for one unit. It is recomputed on
// every invocation and never persisted: the filesystem is the only source
// of completion truth.
type Record struct {
	Unit     unit.Unit
	Expected map[string]int // per-category expected counts
	Actual   map[string]int // per-category counts of outputs present
	Status   Status
	Err      error // introspection cause when Status == ScanFailed
}

// Oracle evaluates units against filesystem state using an injected
// per-stage strategy.
type Oracle struct {
	strategy Strategy
}

// New creates an oracle for one stage's strategy.
func New(strategy Strategy) *Oracle {
	return &Oracle{strategy: strategy}
}

// Evaluate computes a fresh completion record for the unit.
func (o *Oracle) Evaluate(u unit.Unit) Record {
	rec := Record{
		Unit:     u,
		Expected: make(map[string]int),
		Actual:   make(map[string]int),
	}

	set, err := o.strategy.ExpectedOutputs(u)
	if err != nil {
		rec.Status = ScanFailed
		rec.Err = err
		return rec
	}

	rec.Status = Complete
	for category, paths := range set.Categories {
		rec.Expected[category] = len(paths)
		actual := 0
		for _, p := range paths {
			if _, err := os.Stat(p); err == nil {
				actual++
			}
		}
		rec.Actual[category] = actual
		if actual < len(paths) {
			rec.Status = Incomplete
		}
	}

	return rec
}
