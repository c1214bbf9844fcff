package dispatch

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/avocet-obs/radarpipe/internal/stage"
	"github.com/avocet-obs/radarpipe/internal/unit"
)

// Request carries everything one external job needs. The fields are passed
// through as a flat set of named values; how the job consumes them is
// entirely its own business.
type Request struct {
	Unit       unit.Unit
	InputRoot  string
	OutputRoot string
	Force      bool     // overwrite outputs even if present
	ModeFlags  []string // stage-specific options, e.g. reduced output set
}

// Submitter hands one job to the external scheduler. The returned job ID
// identifies the submission only; job execution is asynchronous and never
// observed by this process.
type Submitter interface {
	Submit(ctx context.Context, req Request) (jobID string, err error)
}

// SchedulerSubmitter submits via the scheduler's command-line client
// (sbatch or equivalent). One invocation per unit; the scheduler owns
// queueing, parallelism and wall-clock limits.
type SchedulerSubmitter struct {
	Command string // e.g. "sbatch"
	Script  string // job script path
}

// NewSchedulerSubmitter builds a submitter from a stage config.
func NewSchedulerSubmitter(cfg stage.Config) *SchedulerSubmitter {
	return &SchedulerSubmitter{Command: cfg.Submit, Script: cfg.Script}
}

// Submit runs the scheduler client and parses the job ID from its output.
// Typical output is "Submitted batch job 123456"; the last field is the ID.
func (s *SchedulerSubmitter) Submit(ctx context.Context, req Request) (string, error) {
	args := []string{s.Script,
		"--input", req.Unit.Input,
		"--input-root", req.InputRoot,
		"--output-root", req.OutputRoot,
		"--site", req.Unit.Site,
		"--day", req.Unit.Day,
	}
	if req.Force {
		args = append(args, "--force")
	}
	args = append(args, req.ModeFlags...)

	out, err := exec.CommandContext(ctx, s.Command, args...).Output()
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", req.Unit, err)
	}

	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) == 0 {
		return "", fmt.Errorf("submit %s: scheduler returned no job id", req.Unit)
	}
	return fields[len(fields)-1], nil
}
