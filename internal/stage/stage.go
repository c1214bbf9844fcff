// Package stage provides the per-stage registry for the pipeline coordinator.
package stage

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrUnknownStage is returned when a stage name doesn't match any configured stage.
var ErrUnknownStage = errors.New("unknown stage")

// Category names one independent output channel of a stage. Each category's
// expected-output count must be met independently for a unit to be complete.
type Category struct {
	Name   string `yaml:"name"`             // "csv" | "h5" | "dualpol" | "singlepol"
	Subdir string `yaml:"subdir,omitempty"` // output subfolder; empty = flat under the day dir
	Suffix string `yaml:"suffix"`           // appended to the input base name, e.g. "_vp.csv"

	// InputGlob selects this category's artifacts inside a unit's input
	// directory, relative to it (aggregate stages only), e.g.
	// "dualpol/*_vp.csv".
	InputGlob string `yaml:"input_glob,omitempty"`
}

// ArtifactGlob returns the pattern selecting this category's artifacts
// within a unit's input directory. Compute stages write one subfolder per
// category, so the default descends into it.
func (c Category) ArtifactGlob() string {
	if c.InputGlob != "" {
		return c.InputGlob
	}
	return c.Name + "/*.csv"
}

// Config defines configuration for a single pipeline stage.
type Config struct {
	Name       string     `yaml:"name"`
	InputRoot  string     `yaml:"input_root"`
	OutputRoot string     `yaml:"output_root"`
	InputGlob  string     `yaml:"input_glob"` // qualifying input files, default "*.h5"
	Strategy   string     `yaml:"strategy"`   // "split" | "mirror" | "daily"
	Categories []Category `yaml:"categories"`
	Submit     string     `yaml:"submit"`               // scheduler submit command, e.g. "sbatch"
	Script     string     `yaml:"script"`               // job script passed to the submit command
	ModeFlags  []string   `yaml:"mode_flags,omitempty"` // stage-specific options forwarded to jobs
}

// File is the on-disk shape of the stage registry.
type File struct {
	Stages []Config `yaml:"stages"`
}

// Registry holds the validated stage configurations for one invocation.
type Registry struct {
	stages map[string]Config
	order  []string
}

// NewRegistry validates stage configurations and builds a lookup registry.
// Stage names must be unique and every stage needs both roots: the
// dispatcher's output-path disjointness rests on each stage owning its own
// output tree.
func NewRegistry(stages []Config) (*Registry, error) {
	if len(stages) == 0 {
		return nil, errors.New("at least one stage must be configured")
	}

	r := &Registry{stages: make(map[string]Config, len(stages))}
	for _, s := range stages {
		if s.Name == "" {
			return nil, errors.New("stage with empty name")
		}
		if _, dup := r.stages[s.Name]; dup {
			return nil, fmt.Errorf("duplicate stage %q", s.Name)
		}
		if s.InputRoot == "" || s.OutputRoot == "" {
			return nil, fmt.Errorf("stage %q: input_root and output_root are required", s.Name)
		}
		if len(s.Categories) == 0 {
			return nil, fmt.Errorf("stage %q: at least one output category is required", s.Name)
		}
		if s.InputGlob == "" {
			s.InputGlob = "*.h5"
		}
		r.stages[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	return r, nil
}

// LoadFile reads and validates a YAML stage registry.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage file %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse stage file %s: %w", path, err)
	}

	return NewRegistry(f.Stages)
}

// Lookup returns the configuration for a stage name.
func (r *Registry) Lookup(name string) (Config, error) {
	s, ok := r.stages[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return s, nil
}

// Names returns stage names in configuration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
