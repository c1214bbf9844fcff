// Package retry rebuilds a deduplicated task list from an operator-supplied
// failure manifest and redispatches it under a concurrency bound.
package retry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/avocet-obs/radarpipe/internal/unit"
)

// ErrManifestStructure is returned when a manifest is missing a required
// column or a row cannot be resolved to a self-contained task. Structural
// problems are fatal before any submission: partial interpretation of a
// malformed manifest is unsafe.
var ErrManifestStructure = errors.New("retry manifest structure error")

// Schema identifies the manifest granularity.
type Schema int

const (
	// SchemaFile is a file-level manifest: one row per failed input file.
	// Requires column input_file; day is optional (derived from an
	// embedded 8-digit token when absent).
	SchemaFile Schema = iota
	// SchemaUnit is a unit-level manifest: one row per failed site/day.
	// Requires columns site and date; cause and input_dir are optional.
	SchemaUnit
)

// FileRow is one file-level manifest row.
type FileRow struct {
	InputFile string
	Day       string
}

// UnitRow is one unit-level manifest row.
type UnitRow struct {
	Site     string
	Day      string
	Cause    string
	InputDir string // explicit override of the derived input path
}

// Manifest is the parsed, schema-resolved manifest.
type Manifest struct {
	Schema Schema
	Files  []FileRow
	Units  []UnitRow
}

// ParseManifest reads a tab-separated manifest with a required header row.
// The schema is resolved from header inspection, not per-cell guessing.
func ParseManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer f.Close()
	return parseManifest(f)
}

func parseManifest(r io.Reader) (*Manifest, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty manifest", ErrManifestStructure)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var m Manifest
	switch {
	case has(col, "input_file"):
		m.Schema = SchemaFile
	case has(col, "site") && has(col, "date"):
		m.Schema = SchemaUnit
	default:
		return nil, fmt.Errorf("%w: need input_file, or site and date columns (have %v)",
			ErrManifestStructure, header)
	}

	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read manifest row: %w", err)
		}
		line++

		switch m.Schema {
		case SchemaFile:
			fr := FileRow{
				InputFile: field(row, "input_file"),
				Day:       field(row, "day"),
			}
			if fr.InputFile == "" {
				return nil, fmt.Errorf("%w: line %d: empty input_file", ErrManifestStructure, line)
			}
			if fr.Day == "" {
				fr.Day = unit.ExtractDay(fr.InputFile)
			}
			if !unit.IsDayKey(fr.Day) {
				return nil, fmt.Errorf("%w: line %d: no day column and no date token in %q",
					ErrManifestStructure, line, fr.InputFile)
			}
			m.Files = append(m.Files, fr)

		case SchemaUnit:
			ur := UnitRow{
				Site:     field(row, "site"),
				Day:      field(row, "date"),
				Cause:    field(row, "cause"),
				InputDir: field(row, "input_dir"),
			}
			if ur.Site == "" || !unit.IsDayKey(ur.Day) {
				return nil, fmt.Errorf("%w: line %d: site=%q date=%q",
					ErrManifestStructure, line, ur.Site, ur.Day)
			}
			m.Units = append(m.Units, ur)
		}
	}

	return &m, nil
}

func has(col map[string]int, name string) bool {
	_, ok := col[name]
	return ok
}
