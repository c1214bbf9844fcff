// Package aggregate merges many small per-volume profile artifacts into
// per-day outputs under bounded memory and file-descriptor use.
//
// Merging a whole day in one pass can exceed open-file ceilings on busy
// days, so artifacts are processed in contiguous chunks. Chunking is
// order-transparent: partial results are concatenated and re-sorted by the
// domain key (timestamp, then height) before emission, so the merged output
// is byte-identical regardless of chunk size.
package aggregate

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Stats summarizes one aggregation run.
type Stats struct {
	Files       int
	Rows        int
	ByteSize    int64
	Checksum    string
	ParquetRows int
}

// Output names the destinations for one category's merged day.
// ParquetPath is optional; Site and Day label the parquet rows.
type Output struct {
	CSVPath     string
	ParquetPath string
	Site        string
	Day         string
}

// Aggregator merges profile CSV artifacts for one output category.
type Aggregator struct {
	ChunkSize int // artifacts merged per pass; must be positive
	Gzip      bool
	Log       *slog.Logger
}

// row is one profile data line with its extracted sort key.
type row struct {
	ts     string
	height float64
	line   string
}

// Aggregate merges the artifacts into out.CSVPath. Inputs may be plain CSV
// or gzip-compressed (.gz); one header line is preserved. The write is
// atomic (temp file + rename) and a checksum sidecar manifest is written
// next to the output. When out.ParquetPath is set, a typed parquet twin is
// emitted as well.
func (a *Aggregator) Aggregate(ctx context.Context, paths []string, out Output) (Stats, error) {
	var stats Stats

	if a.ChunkSize <= 0 {
		return stats, fmt.Errorf("chunk size must be positive, got %d", a.ChunkSize)
	}
	if len(paths) == 0 {
		return stats, fmt.Errorf("no artifacts to aggregate")
	}

	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	var (
		header string
		rows   []row
	)

	for start := 0; start < len(sorted); start += a.ChunkSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := start + a.ChunkSize
		if end > len(sorted) {
			end = len(sorted)
		}

		chunkHeader, chunkRows, err := a.mergeChunk(sorted[start:end])
		if err != nil {
			return stats, err
		}
		if header == "" {
			header = chunkHeader
		}
		rows = append(rows, chunkRows...)
	}

	// The concatenation order depends on where chunk boundaries fell;
	// re-sorting by the domain key makes the result independent of it.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ts != rows[j].ts {
			return rows[i].ts < rows[j].ts
		}
		return rows[i].height < rows[j].height
	})

	data, err := render(header, rows, a.Gzip)
	if err != nil {
		return stats, err
	}

	if err := writeAtomic(out.CSVPath, data); err != nil {
		return stats, err
	}

	stats.Files = len(sorted)
	stats.Rows = len(rows)
	stats.ByteSize = int64(len(data))
	stats.Checksum = "sha256:" + checksum(data)

	if out.ParquetPath != "" {
		n, err := a.WriteParquet(header, rows, out.Site, out.Day, out.ParquetPath)
		if err != nil {
			return stats, fmt.Errorf("parquet twin for %s: %w", out.CSVPath, err)
		}
		stats.ParquetRows = n
	}

	if err := writeSidecar(out.CSVPath, stats); err != nil {
		a.Log.Warn("failed to write aggregate manifest", "error", err)
	}

	a.Log.Info("aggregated",
		"out", out.CSVPath,
		"files", stats.Files,
		"rows", stats.Rows,
		"bytes", stats.ByteSize,
	)
	return stats, nil
}

// mergeChunk reads one chunk of artifacts into memory. Files are opened one
// at a time, so at most one input descriptor is held per chunk pass.
func (a *Aggregator) mergeChunk(paths []string) (string, []row, error) {
	var (
		header string
		rows   []row
	)
	for _, p := range paths {
		h, rs, err := readArtifact(p)
		if err != nil {
			return "", nil, err
		}
		if header == "" {
			header = h
		}
		rows = append(rows, rs...)
	}
	return header, rows, nil
}

// readArtifact parses one profile CSV, transparently decompressing .gz.
func readArtifact(path string) (string, []row, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return "", nil, fmt.Errorf("gunzip artifact %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	var (
		header string
		rows   []row
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		if line == "" {
			continue
		}
		rw, ok := parseRow(line)
		if !ok {
			// Non-data line: the column header. Every artifact carries
			// the same one; keep the first.
			if header == "" {
				header = line
			}
			continue
		}
		rows = append(rows, rw)
	}
	if err := sc.Err(); err != nil {
		return "", nil, fmt.Errorf("read artifact %s: %w", path, err)
	}

	return header, rows, nil
}

// parseRow extracts the (timestamp, height) sort key from a CSV line.
// Lines whose second field isn't numeric are headers, not data.
func parseRow(line string) (row, bool) {
	fields := strings.SplitN(line, ",", 3)
	if len(fields) < 2 {
		return row{}, false
	}
	h, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return row{}, false
	}
	return row{ts: strings.TrimSpace(fields[0]), height: h, line: line}, true
}

// render serializes the merged output, optionally gzip-compressed.
func render(header string, rows []row, gzipped bool) ([]byte, error) {
	var body bytes.Buffer
	if header != "" {
		body.WriteString(header)
		body.WriteByte('\n')
	}
	for _, r := range rows {
		body.WriteString(r.line)
		body.WriteByte('\n')
	}

	if !gzipped {
		return body.Bytes(), nil
	}

	var out bytes.Buffer
	gz := gzip.NewWriter(&out)
	if _, err := gz.Write(body.Bytes()); err != nil {
		return nil, fmt.Errorf("gzip output: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip output: %w", err)
	}
	return out.Bytes(), nil
}

// writeAtomic writes data via temp file + rename so a concurrent reader
// never sees a half-written aggregate.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
