package retry

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Exclusions is a set of input locators that must never be retried
// automatically, typically inputs known to be permanently corrupt.
type Exclusions map[string]struct{}

// Has reports whether the locator is excluded. Matching is exact.
func (e Exclusions) Has(locator string) bool {
	_, ok := e[locator]
	return ok
}

// LoadExclusions reads an exclusion list: either newline-delimited
// identifiers, or a TSV whose input_file column (else first column) is
// used. Header detection is heuristic: single-column files have no header;
// a multi-column first line is treated as a header row.
func LoadExclusions(path string) (Exclusions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open exclusion list %s: %w", path, err)
	}
	defer f.Close()

	excl := make(Exclusions)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	first := true
	column := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")

		if first {
			first = false
			if len(fields) > 1 {
				// TSV with a header row; find the input_file column.
				column = 0
				for i, name := range fields {
					if name == "input_file" {
						column = i
						break
					}
				}
				continue
			}
		}

		if column < len(fields) {
			if v := strings.TrimSpace(fields[column]); v != "" {
				excl[v] = struct{}{}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read exclusion list %s: %w", path, err)
	}

	return excl, nil
}
