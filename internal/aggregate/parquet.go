package aggregate

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// ProfileRow is one height bin of a vertical profile in the analysis-ready
// daily parquet table.
type ProfileRow struct {
	// Unit identity
	Site string `parquet:"site,dict"`
	Day  string `parquet:"day,dict"`

	// Domain ordering key
	Timestamp string  `parquet:"timestamp"`
	HeightM   float64 `parquet:"height_m"`

	// Profile quantities; absent columns are NaN
	U     float64 `parquet:"u"`
	V     float64 `parquet:"v"`
	W     float64 `parquet:"w"`
	FF    float64 `parquet:"ff"`
	DD    float64 `parquet:"dd"`
	SdVvp float64 `parquet:"sd_vvp"`
	Dbz   float64 `parquet:"dbz"`
	Eta   float64 `parquet:"eta"`
	Dens  float64 `parquet:"dens"`
	N     int64   `parquet:"n"`
}

// profileColumns maps CSV header names to ProfileRow field setters.
var profileColumns = map[string]func(*ProfileRow, float64){
	"u":      func(r *ProfileRow, v float64) { r.U = v },
	"v":      func(r *ProfileRow, v float64) { r.V = v },
	"w":      func(r *ProfileRow, v float64) { r.W = v },
	"ff":     func(r *ProfileRow, v float64) { r.FF = v },
	"dd":     func(r *ProfileRow, v float64) { r.DD = v },
	"sd_vvp": func(r *ProfileRow, v float64) { r.SdVvp = v },
	"dbz":    func(r *ProfileRow, v float64) { r.Dbz = v },
	"eta":    func(r *ProfileRow, v float64) { r.Eta = v },
	"dens":   func(r *ProfileRow, v float64) { r.Dens = v },
}

// WriteParquet emits the merged rows as a parquet twin of the daily CSV,
// written atomically next to it.
func (a *Aggregator) WriteParquet(header string, rows []row, site, day, path string) (int, error) {
	profiles, err := toProfileRows(header, rows, site, day)
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[ProfileRow](&buf, parquet.Compression(&parquet.Snappy))
	if _, err := w.Write(profiles); err != nil {
		return 0, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("close parquet writer: %w", err)
	}

	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return 0, err
	}
	return len(profiles), nil
}

// toProfileRows parses CSV lines into typed rows using the header for
// column positions. Unknown columns are ignored; known-but-absent columns
// stay NaN.
func toProfileRows(header string, rows []row, site, day string) ([]ProfileRow, error) {
	if header == "" {
		return nil, fmt.Errorf("profile artifacts carry no header, cannot type columns")
	}

	names := strings.Split(header, ",")
	setters := make([]func(*ProfileRow, float64), len(names))
	for i, name := range names {
		setters[i] = profileColumns[strings.ToLower(strings.TrimSpace(name))]
	}

	nan := math.NaN()
	out := make([]ProfileRow, 0, len(rows))
	for _, r := range rows {
		pr := ProfileRow{
			Site:      site,
			Day:       day,
			Timestamp: r.ts,
			HeightM:   r.height,
			U:         nan, V: nan, W: nan,
			FF: nan, DD: nan, SdVvp: nan,
			Dbz: nan, Eta: nan, Dens: nan,
		}

		fields := strings.Split(r.line, ",")
		for i, f := range fields {
			if i >= len(setters) {
				break
			}
			name := strings.ToLower(strings.TrimSpace(names[i]))
			if name == "n" {
				if n, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64); err == nil {
					pr.N = n
				}
				continue
			}
			set := setters[i]
			if set == nil {
				continue
			}
			if v, err := strconv.ParseFloat(strings.TrimSpace(f), 64); err == nil {
				set(&pr, v)
			}
		}
		out = append(out, pr)
	}

	return out, nil
}
