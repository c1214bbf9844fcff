package config

import (
	"log"
	"os"
	"strconv"
)

// Config is the immutable per-invocation configuration. It is built once in
// main and threaded into every component so the same code paths run against
// arbitrary roots in tests.
type Config struct {
	StageFile string // YAML stage registry path
	Ledger    LedgerConfig
	Retry     RetryConfig
	Aggregate AggregateConfig
	Archive   ArchiveConfig
	Metrics   MetricsConfig
	Logging   LoggingConfig
}

type LedgerConfig struct {
	Dir string // directory for per-invocation run ledgers
}

type RetryConfig struct {
	MaxConcurrent int // bound on simultaneous submission calls
}

type AggregateConfig struct {
	ChunkSize int  // artifacts merged per pass; caps open files and memory
	Parquet   bool // also emit a per-day parquet twin
	Gzip      bool // gzip the merged CSV output
}

type ArchiveConfig struct {
	BucketURL string // file://, s3:// or gs:// destination for daily aggregates
}

type MetricsConfig struct {
	Enabled bool
	Address string // e.g. ":9090"
}

type LoggingConfig struct {
	Format string // "json" | "text"
	Level  string // "debug" | "info" | "warn" | "error"
}

// MustLoad reads configuration from the environment with sensible defaults.
// Per-stage paths and naming live in the YAML stage registry; only
// invocation-level knobs come from the environment.
func MustLoad() Config {
	log.Println("[config] loading")

	chunkSize := 200
	if v := os.Getenv("AGGREGATE_CHUNK_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			chunkSize = parsed
		}
	}

	maxConcurrent := 8
	if v := os.Getenv("RETRY_MAX_CONCURRENT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			maxConcurrent = parsed
		}
	}

	return Config{
		StageFile: getenvDefault("STAGE_FILE", "stages.yaml"),
		Ledger: LedgerConfig{
			Dir: getenvDefault("LEDGER_DIR", "./run-ledgers"),
		},
		Retry: RetryConfig{
			MaxConcurrent: maxConcurrent,
		},
		Aggregate: AggregateConfig{
			ChunkSize: chunkSize,
			Parquet:   os.Getenv("AGGREGATE_PARQUET") == "true",
			Gzip:      os.Getenv("AGGREGATE_GZIP") == "true",
		},
		Archive: ArchiveConfig{
			BucketURL: os.Getenv("ARCHIVE_BUCKET_URL"),
		},
		Metrics: MetricsConfig{
			Enabled: os.Getenv("METRICS_ENABLED") == "true",
			Address: getenvDefault("METRICS_ADDRESS", ":9090"),
		},
		Logging: LoggingConfig{
			Format: getenvDefault("LOG_FORMAT", "text"),
			Level:  getenvDefault("LOG_LEVEL", "info"),
		},
	}
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
