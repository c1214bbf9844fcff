package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/avocet-obs/radarpipe/internal/scan"
	"github.com/avocet-obs/radarpipe/internal/stage"
	"github.com/avocet-obs/radarpipe/internal/unit"
)

const header = "datetime,height_m,u,v,w"

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeArtifact(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	content := header + "\n" + strings.Join(lines, "\n") + "\n"

	var data []byte
	if strings.HasSuffix(path, ".gz") {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
		if err := gz.Close(); err != nil {
			t.Fatal(err)
		}
		data = buf.Bytes()
	} else {
		data = []byte(content)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestAggregateMergesAndSorts(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")
	writeArtifact(t, a,
		"20250101T1200,200.0,1,2,3",
		"20250101T1200,400.0,1,2,3",
	)
	writeArtifact(t, b,
		"20250101T0600,200.0,1,2,3",
		"20250101T1200,100.0,1,2,3",
	)

	out := filepath.Join(dir, "day.csv")
	agg := &Aggregator{ChunkSize: 10, Log: discard()}
	stats, err := agg.Aggregate(context.Background(), []string{a, b}, Output{CSVPath: out})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Files != 2 || stats.Rows != 4 {
		t.Fatalf("stats = %+v, want 2 files and 4 rows", stats)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	want := header + "\n" +
		"20250101T0600,200.0,1,2,3\n" +
		"20250101T1200,100.0,1,2,3\n" +
		"20250101T1200,200.0,1,2,3\n" +
		"20250101T1200,400.0,1,2,3\n"
	if string(data) != want {
		t.Fatalf("output:\n%s\nwant:\n%s", data, want)
	}
}

func TestAggregateChunkSizeTransparent(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	rows := []string{
		"20250101T2300,900.0,1,2,3",
		"20250101T0100,100.0,1,2,3",
		"20250101T1200,500.0,1,2,3",
		"20250101T1200,300.0,1,2,3",
		"20250101T0100,700.0,1,2,3",
		"20250101T1800,100.0,1,2,3",
		"20250101T0600,400.0,1,2,3",
	}
	for i, r := range rows {
		p := filepath.Join(dir, string(rune('a'+i))+".csv")
		writeArtifact(t, p, r)
		paths = append(paths, p)
	}

	merge := func(chunkSize int) []byte {
		out := filepath.Join(t.TempDir(), "day.csv")
		agg := &Aggregator{ChunkSize: chunkSize, Log: discard()}
		if _, err := agg.Aggregate(context.Background(), paths, Output{CSVPath: out}); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	whole := merge(1000)
	for _, size := range []int{1, 2, 3, 5} {
		if got := merge(size); !bytes.Equal(got, whole) {
			t.Fatalf("chunk size %d changed the output:\n%s\nvs\n%s", size, got, whole)
		}
	}
}

func TestAggregateGzipInput(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv.gz")
	writeArtifact(t, a, "20250101T0600,200.0,1,2,3")

	out := filepath.Join(dir, "day.csv")
	agg := &Aggregator{ChunkSize: 10, Log: discard()}
	stats, err := agg.Aggregate(context.Background(), []string{a}, Output{CSVPath: out})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Rows != 1 {
		t.Fatalf("Rows = %d, want 1", stats.Rows)
	}
}

func TestAggregateGzipOutput(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	writeArtifact(t, a, "20250101T0600,200.0,1,2,3")

	out := filepath.Join(dir, "day.csv.gz")
	agg := &Aggregator{ChunkSize: 10, Gzip: true, Log: discard()}
	if _, err := agg.Aggregate(context.Background(), []string{a}, Output{CSVPath: out}); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("output is not valid gzip: %v", err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), header+"\n") {
		t.Fatalf("decompressed output:\n%s", data)
	}
}

func TestAggregateSidecarManifest(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	writeArtifact(t, a, "20250101T0600,200.0,1,2,3")

	out := filepath.Join(dir, "day.csv")
	agg := &Aggregator{ChunkSize: 10, Log: discard()}
	stats, err := agg.Aggregate(context.Background(), []string{a}, Output{CSVPath: out})
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(out + ".manifest.json")
	if err != nil {
		t.Fatalf("sidecar manifest missing: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m.Rows != stats.Rows || m.Checksum != stats.Checksum {
		t.Fatalf("manifest = %+v, stats = %+v", m, stats)
	}
	if !strings.HasPrefix(m.Checksum, "sha256:") {
		t.Errorf("Checksum = %q, want sha256 prefix", m.Checksum)
	}
}

func TestAggregateInputValidation(t *testing.T) {
	agg := &Aggregator{ChunkSize: 0, Log: discard()}
	if _, err := agg.Aggregate(context.Background(), []string{"x"}, Output{CSVPath: "y"}); err == nil {
		t.Error("zero chunk size accepted")
	}

	agg.ChunkSize = 10
	if _, err := agg.Aggregate(context.Background(), nil, Output{CSVPath: "y"}); err == nil {
		t.Error("empty artifact list accepted")
	}
}

func TestParseRow(t *testing.T) {
	tests := []struct {
		line string
		ok   bool
	}{
		{"20250101T0600,200.0,1,2,3", true},
		{"datetime,height_m,u,v,w", false},
		{"lonely", false},
		{"", false},
	}
	for _, tt := range tests {
		if _, ok := parseRow(tt.line); ok != tt.ok {
			t.Errorf("parseRow(%q) ok = %v, want %v", tt.line, ok, tt.ok)
		}
	}
}

func TestDayRunnerCategoryIndependence(t *testing.T) {
	root := t.TempDir()
	cfg := stage.Config{
		Name:       "daily",
		InputRoot:  filepath.Join(root, "profiles"),
		OutputRoot: filepath.Join(root, "daily"),
		Strategy:   "daily",
		Categories: []stage.Category{
			{Name: "dualpol", Subdir: "dualpol", Suffix: "_day_vp.csv"},
			{Name: "singlepol", Subdir: "singlepol", Suffix: "_day_vp.csv"},
		},
	}
	u := unit.Unit{
		Site: "chenies", Day: "20250101", Stage: "daily",
		Input: filepath.Join(cfg.InputRoot, "chenies", "2025", "20250101"),
	}

	// dualpol has artifacts; singlepol has an unreadable one.
	writeArtifact(t, filepath.Join(u.Input, "dualpol", "vol_a.csv"),
		"20250101T0600,200.0,1,2,3")
	badDir := filepath.Join(u.Input, "singlepol", "vol_b.csv")
	if err := os.MkdirAll(badDir, 0755); err != nil { // a directory, not a file
		t.Fatal(err)
	}

	r := &DayRunner{Stage: cfg, Agg: &Aggregator{ChunkSize: 10, Log: discard()}}
	merged, failed := r.RunUnit(context.Background(), u)
	if merged != 1 || failed != 1 {
		t.Fatalf("merged=%d failed=%d, want the good category merged and the bad one counted", merged, failed)
	}

	out := filepath.Join(cfg.OutputRoot, "chenies", "2025", "20250101",
		"dualpol", "chenies_20250101_day_vp.csv")
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("dualpol output missing: %v", err)
	}
}

func TestDayRunnerScannedUnits(t *testing.T) {
	root := t.TempDir()
	cfg := stage.Config{
		Name:       "daily",
		InputRoot:  filepath.Join(root, "profiles"),
		OutputRoot: filepath.Join(root, "daily"),
		Strategy:   "daily",
		Categories: []stage.Category{
			{Name: "dualpol", Subdir: "dualpol", Suffix: "_day_vp.csv"},
		},
	}

	// The compute stage left its artifacts in per-category subfolders; the
	// scanner must still surface the day as a unit.
	writeArtifact(t, filepath.Join(cfg.InputRoot, "chenies", "2025", "20250101",
		"dualpol", "vol_a_vp.csv"), "20250101T0600,200.0,1,2,3")

	var globs []string
	for _, cat := range cfg.Categories {
		globs = append(globs, cat.ArtifactGlob())
	}
	s := &scan.Scanner{Root: cfg.InputRoot, Stage: cfg.Name, Globs: globs}
	units, err := s.Units()
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 {
		t.Fatalf("Units() = %d units, want the subfolder-layout day found", len(units))
	}

	r := &DayRunner{Stage: cfg, Agg: &Aggregator{ChunkSize: 10, Log: discard()}}
	merged, failed := r.RunUnit(context.Background(), units[0])
	if merged != 1 || failed != 0 {
		t.Fatalf("merged=%d failed=%d, want one clean merge", merged, failed)
	}

	out := filepath.Join(cfg.OutputRoot, "chenies", "2025", "20250101",
		"dualpol", "chenies_20250101_day_vp.csv")
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("daily output missing: %v", err)
	}
}

func TestDayRunnerSkipsEmptyCategory(t *testing.T) {
	root := t.TempDir()
	cfg := stage.Config{
		Name:       "daily",
		InputRoot:  filepath.Join(root, "profiles"),
		OutputRoot: filepath.Join(root, "daily"),
		Strategy:   "daily",
		Categories: []stage.Category{
			{Name: "dualpol", Subdir: "dualpol", Suffix: "_day_vp.csv"},
		},
	}
	u := unit.Unit{
		Site: "chenies", Day: "20250101", Stage: "daily",
		Input: filepath.Join(cfg.InputRoot, "chenies", "2025", "20250101"),
	}
	if err := os.MkdirAll(u.Input, 0755); err != nil {
		t.Fatal(err)
	}

	r := &DayRunner{Stage: cfg, Agg: &Aggregator{ChunkSize: 10, Log: discard()}}
	merged, failed := r.RunUnit(context.Background(), u)
	if merged != 0 || failed != 0 {
		t.Fatalf("merged=%d failed=%d, want a clean skip", merged, failed)
	}
}
