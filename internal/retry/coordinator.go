package retry

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/avocet-obs/radarpipe/internal/stage"
	"github.com/avocet-obs/radarpipe/internal/unit"
)

// Task is one self-contained retry submission: everything the downstream
// stage needs travels in the task, so concurrently running tasks share no
// mutable state.
type Task struct {
	Unit  unit.Unit
	Cause string
}

// Counts reports the retry list derivation to the operator.
type Counts struct {
	TotalCandidates int // unique candidates after dedup
	ExcludedCount   int // dropped by the exclusion list
	FinalCount      int // tasks actually dispatched
}

// BuildRetryList turns a parsed manifest into a deduplicated, filtered task
// list. Steps, in order: dedup rows to unique keys ((day, input_file) for
// file-level manifests, (site, day) for unit-level), then drop rows whose
// input locator exactly matches an excluded identifier. Duplicate rows for
// the same key are expected to be identical in the fields used here, so
// first-wins is equivalent to last-wins.
func BuildRetryList(m *Manifest, excl Exclusions, cfg stage.Config) ([]Task, Counts) {
	var candidates []Task
	seen := make(map[string]struct{})

	switch m.Schema {
	case SchemaFile:
		for _, row := range m.Files {
			key := row.Day + "\x00" + row.InputFile
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			candidates = append(candidates, Task{
				Unit: unit.Unit{
					Site:  siteFromPath(row.InputFile, row.Day),
					Day:   row.Day,
					Stage: cfg.Name,
					Input: row.InputFile,
				},
			})
		}

	case SchemaUnit:
		for _, row := range m.Units {
			key := row.Site + "\x00" + row.Day
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			input := row.InputDir
			if input == "" {
				input = filepath.Join(cfg.InputRoot, row.Site, row.Day[:4], row.Day)
			}
			candidates = append(candidates, Task{
				Unit: unit.Unit{
					Site:  row.Site,
					Day:   row.Day,
					Stage: cfg.Name,
					Input: input,
				},
				Cause: row.Cause,
			})
		}
	}

	counts := Counts{TotalCandidates: len(candidates)}

	tasks := candidates[:0]
	for _, t := range candidates {
		if excl.Has(t.Unit.Input) {
			counts.ExcludedCount++
			continue
		}
		tasks = append(tasks, t)
	}
	counts.FinalCount = len(tasks)

	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i].Unit, tasks[j].Unit
		if a.Site != b.Site {
			return a.Site < b.Site
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		return a.Input < b.Input
	})

	return tasks, counts
}

// siteFromPath recovers the site from a .../<site>/<year>/<day>/<file>
// layout. Returns "" when the path doesn't follow the mirrored tree; the
// task stays usable since the input locator is what jobs consume.
func siteFromPath(path, day string) string {
	parts := strings.Split(filepath.ToSlash(filepath.Dir(path)), "/")
	for i := len(parts) - 1; i >= 2; i-- {
		if parts[i] == day && parts[i-1] == day[:4] {
			return parts[i-2]
		}
	}
	return ""
}
