package oracle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/avocet-obs/radarpipe/internal/stage"
	"github.com/avocet-obs/radarpipe/internal/unit"
)

// StrategyFor builds the expected-output strategy for a stage config.
func StrategyFor(cfg stage.Config) (Strategy, error) {
	switch cfg.Strategy {
	case "split":
		return &SplitStrategy{Stage: cfg}, nil
	case "mirror":
		return &MirrorStrategy{Stage: cfg}, nil
	case "daily":
		return &DailyStrategy{Stage: cfg}, nil
	default:
		return nil, fmt.Errorf("stage %q: unknown strategy %q", cfg.Name, cfg.Strategy)
	}
}

// outputDir mirrors the unit's relative tree position under the stage
// output root: <output_root>/<site>/<year>/<day>.
func outputDir(cfg stage.Config, u unit.Unit) string {
	return filepath.Join(cfg.OutputRoot, u.Site, u.Day[:4], u.Day)
}

// SplitStrategy covers the split stage: one aggregated volume per day is
// broken into one file per (pulse, time) group. The group inventory comes
// from the sidecar index delivered with the volume (<base>.groups.json);
// enumerating HDF5 groups directly would need the HDF5 C toolchain.
type SplitStrategy struct {
	Stage stage.Config
}

// groupIndex is the sidecar shape: pulse type → time-slot keys.
type groupIndex map[string][]string

func (s *SplitStrategy) ExpectedOutputs(u unit.Unit) (OutputSet, error) {
	inputs, err := filepath.Glob(filepath.Join(u.Input, s.Stage.InputGlob))
	if err != nil {
		return OutputSet{}, fmt.Errorf("glob inputs for %s: %w", u, err)
	}
	if len(inputs) == 0 {
		return OutputSet{}, fmt.Errorf("no aggregated volume in %s", u.Input)
	}
	sort.Strings(inputs)

	outDir := outputDir(s.Stage, u)
	set := OutputSet{Categories: make(map[string][]string)}

	for _, in := range inputs {
		base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))

		idx, err := readGroupIndex(strings.TrimSuffix(in, filepath.Ext(in)) + ".groups.json")
		if err != nil {
			return OutputSet{}, err
		}

		for _, cat := range s.Stage.Categories {
			times, ok := idx[cat.Name]
			if !ok {
				// A volume with no groups for this pulse type owes
				// nothing in that category.
				continue
			}
			for _, t := range times {
				name := fmt.Sprintf("%s_%s_%s.h5", base, cat.Name, t)
				set.Categories[cat.Name] = append(set.Categories[cat.Name],
					filepath.Join(outDir, cat.Name, name))
			}
		}
	}

	if set.Total() == 0 {
		return OutputSet{}, fmt.Errorf("no pulse groups declared for %s", u.Input)
	}
	return set, nil
}

func readGroupIndex(path string) (groupIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read group index %s: %w", path, err)
	}
	var idx groupIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse group index %s: %w", path, err)
	}
	return idx, nil
}

// MirrorStrategy covers per-volume compute stages (vol2bird): every input
// volume in the unit's directory owes one output per category, named by
// appending the category suffix to the volume base name. The expected count
// is discovered by listing the input directory, so it tracks however many
// volumes the split stage actually produced.
type MirrorStrategy struct {
	Stage stage.Config
}

func (s *MirrorStrategy) ExpectedOutputs(u unit.Unit) (OutputSet, error) {
	inputs, err := filepath.Glob(filepath.Join(u.Input, s.Stage.InputGlob))
	if err != nil {
		return OutputSet{}, fmt.Errorf("glob inputs for %s: %w", u, err)
	}
	if len(inputs) == 0 {
		return OutputSet{}, fmt.Errorf("no input volumes in %s", u.Input)
	}
	sort.Strings(inputs)

	outDir := outputDir(s.Stage, u)
	set := OutputSet{Categories: make(map[string][]string)}

	for _, in := range inputs {
		base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
		for _, cat := range s.Stage.Categories {
			set.Categories[cat.Name] = append(set.Categories[cat.Name],
				filepath.Join(outDir, cat.Subdir, base+cat.Suffix))
		}
	}

	return set, nil
}

// DailyStrategy covers aggregate stages: one output per category per day,
// flat under the mirrored day directory.
type DailyStrategy struct {
	Stage stage.Config
}

func (s *DailyStrategy) ExpectedOutputs(u unit.Unit) (OutputSet, error) {
	outDir := outputDir(s.Stage, u)
	set := OutputSet{Categories: make(map[string][]string)}

	for _, cat := range s.Stage.Categories {
		name := fmt.Sprintf("%s_%s%s", u.Site, u.Day, cat.Suffix)
		set.Categories[cat.Name] = append(set.Categories[cat.Name],
			filepath.Join(outDir, cat.Subdir, name))
	}

	return set, nil
}
