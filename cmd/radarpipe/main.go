package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/avocet-obs/radarpipe/internal/aggregate"
	"github.com/avocet-obs/radarpipe/internal/archive"
	"github.com/avocet-obs/radarpipe/internal/config"
	"github.com/avocet-obs/radarpipe/internal/dispatch"
	"github.com/avocet-obs/radarpipe/internal/ledger"
	"github.com/avocet-obs/radarpipe/internal/logging"
	"github.com/avocet-obs/radarpipe/internal/metrics"
	"github.com/avocet-obs/radarpipe/internal/oracle"
	"github.com/avocet-obs/radarpipe/internal/retry"
	"github.com/avocet-obs/radarpipe/internal/scan"
	"github.com/avocet-obs/radarpipe/internal/stage"
	"github.com/avocet-obs/radarpipe/internal/unit"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `radarpipe %s (%s)

Usage: radarpipe <command> [flags]

Commands:
  dispatch   submit one job per incomplete unit of a stage
  status     report per-unit completion without submitting
  retry      rebuild and redispatch a failure manifest
  aggregate  merge per-volume artifacts into per-day outputs
  archive    upload daily aggregates to an object-store bucket
`, Version, GitSHA)
	os.Exit(2)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if len(os.Args) < 2 {
		usage()
	}

	cfg := config.MustLoad()
	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	slog.SetDefault(slog.Default().With("run_id", logging.NewRunID()))

	if cfg.Metrics.Enabled {
		metrics.Init("radarpipe")
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				logging.Component("metrics").Error("metrics server failed", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Printf("[shutdown] received signal: %v", sig)
		cancel()
	}()

	var code int
	switch os.Args[1] {
	case "dispatch":
		code = runDispatch(ctx, cfg, os.Args[2:], false)
	case "status":
		code = runDispatch(ctx, cfg, os.Args[2:], true)
	case "retry":
		code = runRetry(ctx, cfg, os.Args[2:])
	case "aggregate":
		code = runAggregate(ctx, cfg, os.Args[2:])
	case "archive":
		code = runArchive(ctx, cfg, os.Args[2:])
	default:
		usage()
	}
	os.Exit(code)
}

// scanFlags are the unit-selection flags shared by dispatch-like commands.
type scanFlags struct {
	stage string
	site  string
	start string
	end   string
}

func addScanFlags(fs *flag.FlagSet, f *scanFlags) {
	fs.StringVar(&f.stage, "stage", "", "stage name from the stage registry (required)")
	fs.StringVar(&f.site, "site", "", "restrict to one radar site")
	fs.StringVar(&f.start, "start", "", "inclusive first day, YYYYMMDD")
	fs.StringVar(&f.end, "end", "", "inclusive last day, YYYYMMDD")
}

func (f *scanFlags) validate() error {
	if f.stage == "" {
		return fmt.Errorf("-stage is required")
	}
	for _, d := range []string{f.start, f.end} {
		if d != "" && !unit.IsDayKey(d) {
			return fmt.Errorf("day bound %q is not an 8-digit YYYYMMDD key", d)
		}
	}
	return nil
}

// dispatchFlags builds the flag set shared by dispatch and status. Status is
// a read-only report, so it takes no -force flag.
func dispatchFlags(name string, statusOnly bool) (*flag.FlagSet, *scanFlags, *bool) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	var sf scanFlags
	addScanFlags(fs, &sf)
	force := new(bool)
	if !statusOnly {
		fs.BoolVar(force, "force", false, "resubmit even if outputs are complete")
	}
	return fs, &sf, force
}

func loadStage(cfg config.Config, name string) (stage.Config, error) {
	reg, err := stage.LoadFile(cfg.StageFile)
	if err != nil {
		return stage.Config{}, err
	}
	return reg.Lookup(name)
}

func runDispatch(ctx context.Context, cfg config.Config, args []string, statusOnly bool) int {
	name := "dispatch"
	if statusOnly {
		name = "status"
	}
	fs, sf, force := dispatchFlags(name, statusOnly)
	fs.Parse(args)

	logger := logging.Component(name)
	if err := sf.validate(); err != nil {
		logger.Error("bad arguments", "error", err)
		return 2
	}

	st, err := loadStage(cfg, sf.stage)
	if err != nil {
		logger.Error("stage registry", "error", err)
		return 2
	}

	strat, err := oracle.StrategyFor(st)
	if err != nil {
		logger.Error("stage strategy", "error", err)
		return 2
	}

	scanner := &scan.Scanner{
		Root: st.InputRoot, Stage: st.Name, Globs: []string{st.InputGlob},
		Site: sf.site, StartDay: sf.start, EndDay: sf.end,
	}
	units, err := scanner.Units()
	if err != nil {
		logger.Error("scan failed", "error", err)
		return 2
	}
	logger.Info("scanned", "stage", st.Name, "units", len(units))

	if statusOnly {
		return reportStatus(logger, oracle.New(strat), units)
	}

	lw, err := ledger.Open(cfg.Ledger.Dir, st.Name)
	if err != nil {
		logger.Error("open run ledger", "error", err)
		return 2
	}
	defer lw.Close()
	logger.Info("run ledger", "path", lw.Path())

	d := &dispatch.Dispatcher{
		Stage:     st,
		Oracle:    oracle.New(strat),
		Submitter: dispatch.NewSchedulerSubmitter(st),
		Ledger:    lw,
		Log:       logger,
	}

	sum, err := d.DispatchAll(ctx, units, *force)
	if err != nil {
		logger.Error("dispatch aborted", "error", err)
		return 2
	}
	if sum.Failed > 0 {
		return 1
	}
	return 0
}

// reportStatus prints completion state per unit without submitting.
func reportStatus(logger *slog.Logger, o *oracle.Oracle, units []unit.Unit) int {
	complete, incomplete, scanFailed := 0, 0, 0
	for _, u := range units {
		rec := o.Evaluate(u)
		switch rec.Status {
		case oracle.Complete:
			complete++
			logger.Info("complete", "site", u.Site, "day", u.Day)
		case oracle.Incomplete:
			incomplete++
			logger.Info("incomplete", "site", u.Site, "day", u.Day,
				"expected", rec.Expected, "actual", rec.Actual)
		case oracle.ScanFailed:
			scanFailed++
			logger.Warn("scan failed", "site", u.Site, "day", u.Day, "error", rec.Err)
		}
	}
	logger.Info("status summary",
		"complete", complete, "incomplete", incomplete, "scan_failed", scanFailed)
	return 0
}

func runRetry(ctx context.Context, cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("retry", flag.ExitOnError)
	stageName := fs.String("stage", "", "stage name from the stage registry (required)")
	manifestPath := fs.String("manifest", "", "tab-separated failure manifest (required)")
	excludePath := fs.String("exclude", "", "exclusion list of input locators")
	concurrency := fs.Int("concurrency", cfg.Retry.MaxConcurrent, "max simultaneous submission calls")
	fs.Parse(args)

	logger := logging.Component("retry")
	if *stageName == "" || *manifestPath == "" {
		logger.Error("bad arguments", "error", "-stage and -manifest are required")
		return 2
	}

	st, err := loadStage(cfg, *stageName)
	if err != nil {
		logger.Error("stage registry", "error", err)
		return 2
	}

	man, err := retry.ParseManifest(*manifestPath)
	if err != nil {
		logger.Error("manifest rejected, nothing submitted", "error", err)
		return 2
	}

	var excl retry.Exclusions
	if *excludePath != "" {
		excl, err = retry.LoadExclusions(*excludePath)
		if err != nil {
			logger.Error("exclusion list", "error", err)
			return 2
		}
	}

	tasks, counts := retry.BuildRetryList(man, excl, st)
	if m := metrics.Get(); m != nil {
		m.RetryCandidates.WithLabelValues(st.Name).Add(float64(counts.TotalCandidates))
		m.RetryExcluded.WithLabelValues(st.Name).Add(float64(counts.ExcludedCount))
	}
	logger.Info("retry list",
		"total_candidates", counts.TotalCandidates,
		"excluded", counts.ExcludedCount,
		"final", counts.FinalCount,
	)
	if len(tasks) == 0 {
		return 0
	}

	lw, err := ledger.Open(cfg.Ledger.Dir, st.Name+"-retry")
	if err != nil {
		logger.Error("open run ledger", "error", err)
		return 2
	}
	defer lw.Close()

	runner := &retry.Runner{
		Stage:     st,
		Submitter: dispatch.NewSchedulerSubmitter(st),
		Ledger:    lw,
		Log:       logger,
	}
	sum, err := runner.Run(ctx, tasks, *concurrency)
	if err != nil {
		logger.Error("retry aborted", "error", err)
		return 2
	}
	if sum.Failed > 0 {
		return 1
	}
	return 0
}

func runAggregate(ctx context.Context, cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("aggregate", flag.ExitOnError)
	var sf scanFlags
	addScanFlags(fs, &sf)
	chunkSize := fs.Int("chunk-size", cfg.Aggregate.ChunkSize, "artifacts merged per pass")
	parquet := fs.Bool("parquet", cfg.Aggregate.Parquet, "emit a parquet twin per day")
	fs.Parse(args)

	logger := logging.Component("aggregate")
	if err := sf.validate(); err != nil {
		logger.Error("bad arguments", "error", err)
		return 2
	}

	st, err := loadStage(cfg, sf.stage)
	if err != nil {
		logger.Error("stage registry", "error", err)
		return 2
	}

	// A day leaf qualifies when any category's artifacts are present;
	// compute stages write them into per-category subfolders.
	var globs []string
	for _, cat := range st.Categories {
		globs = append(globs, cat.ArtifactGlob())
	}
	scanner := &scan.Scanner{
		Root: st.InputRoot, Stage: st.Name, Globs: globs,
		Site: sf.site, StartDay: sf.start, EndDay: sf.end,
	}

	runner := &aggregate.DayRunner{
		Stage: st,
		Agg: &aggregate.Aggregator{
			ChunkSize: *chunkSize,
			Gzip:      cfg.Aggregate.Gzip,
			Log:       logger,
		},
		Parquet: *parquet,
	}

	mergedTotal, failedTotal := 0, 0
	err = scanner.Each(func(u unit.Unit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		merged, failed := runner.RunUnit(ctx, u)
		mergedTotal += merged
		failedTotal += failed
		return nil
	})
	if err != nil {
		logger.Error("aggregate aborted", "error", err)
		return 2
	}

	logger.Info("aggregate complete", "merged", mergedTotal, "failed", failedTotal)
	if failedTotal > 0 {
		return 1
	}
	return 0
}

func runArchive(ctx context.Context, cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	dir := fs.String("dir", "", "local tree to upload (required)")
	bucketURL := fs.String("bucket", cfg.Archive.BucketURL, "destination bucket URL")
	fs.Parse(args)

	logger := logging.Component("archive")
	if *dir == "" || *bucketURL == "" {
		logger.Error("bad arguments", "error", "-dir and a bucket URL are required")
		return 2
	}

	arch, err := archive.Open(ctx, *bucketURL, logger)
	if err != nil {
		logger.Error("open bucket", "error", err)
		return 2
	}
	defer arch.Close()

	uploaded, failed, err := arch.UploadTree(ctx, *dir)
	if err != nil {
		logger.Error("archive aborted", "error", err)
		return 2
	}
	logger.Info("archive complete", "uploaded", uploaded, "failed", failed)
	if failed > 0 {
		return 1
	}
	return 0
}
