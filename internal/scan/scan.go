// Package scan enumerates candidate work units from a mirrored stage tree.
//
// Stage input trees are laid out <root>/<site>/<year>/<DAY>/..., where DAY
// is an 8-digit YYYYMMDD key. A leaf day directory is a candidate unit only
// if it holds at least one qualifying input file; empty leaves are skipped
// silently.
package scan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/avocet-obs/radarpipe/internal/unit"
)

// ErrRootNotFound is returned when the scan root does not exist. This is
// fatal: every downstream decision would be unsafe against a missing tree.
var ErrRootNotFound = errors.New("scan root not found")

// Scanner walks one stage's input tree.
type Scanner struct {
	Root  string
	Stage string

	// Globs are the qualifying file patterns within a day dir, e.g. "*.h5".
	// Slash-containing patterns descend into subfolders ("dualpol/*.csv"),
	// which is how aggregate stages find compute-stage artifacts. A leaf
	// qualifies when any pattern matches.
	Globs []string

	// Optional filters.
	Site     string // exact site match; empty = all sites
	StartDay string // inclusive 8-digit lower bound; empty = open
	EndDay   string // inclusive 8-digit upper bound; empty = open
}

// Each walks the tree lazily and calls fn once per candidate unit, in
// directory order. The walk is restartable: calling Each again re-reads
// filesystem truth. Returning an error from fn stops the walk.
func (s *Scanner) Each(fn func(unit.Unit) error) error {
	info, err := os.Stat(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrRootNotFound, s.Root)
		}
		return fmt.Errorf("stat scan root %s: %w", s.Root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, s.Root)
	}

	globs := s.Globs
	if len(globs) == 0 {
		globs = []string{"*.h5"}
	}

	sites, err := os.ReadDir(s.Root)
	if err != nil {
		return fmt.Errorf("read scan root %s: %w", s.Root, err)
	}

	for _, siteEnt := range sites {
		if !siteEnt.IsDir() {
			continue
		}
		site := siteEnt.Name()
		if s.Site != "" && site != s.Site {
			continue
		}

		siteDir := filepath.Join(s.Root, site)
		years, err := os.ReadDir(siteDir)
		if err != nil {
			return fmt.Errorf("read site dir %s: %w", siteDir, err)
		}

		for _, yearEnt := range years {
			if !yearEnt.IsDir() {
				continue
			}

			yearDir := filepath.Join(siteDir, yearEnt.Name())
			days, err := os.ReadDir(yearDir)
			if err != nil {
				return fmt.Errorf("read year dir %s: %w", yearDir, err)
			}

			for _, dayEnt := range days {
				if !dayEnt.IsDir() {
					continue
				}
				day := dayEnt.Name()
				if !unit.IsDayKey(day) {
					continue
				}
				if !unit.InRange(day, s.StartDay, s.EndDay) {
					continue
				}

				dayDir := filepath.Join(yearDir, day)
				ok, err := hasQualifyingFile(dayDir, globs)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}

				u := unit.Unit{
					Site:  site,
					Day:   day,
					Stage: s.Stage,
					Input: dayDir,
				}
				if err := fn(u); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// Units collects all candidates into a slice sorted by (site, day).
func (s *Scanner) Units() ([]unit.Unit, error) {
	var units []unit.Unit
	err := s.Each(func(u unit.Unit) error {
		units = append(units, u)
		return nil
	})
	if err != nil {
		return nil, err
	}
	unit.Sort(units)
	return units, nil
}

// hasQualifyingFile reports whether dir contains a file matching any of the
// glob patterns.
func hasQualifyingFile(dir string, globs []string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("read day dir %s: %w", dir, err)
	}
	for _, glob := range globs {
		ok, err := matchesGlob(dir, entries, glob)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// matchesGlob checks one pattern against a directory's entries, descending
// into matching subfolders for slash-containing patterns.
func matchesGlob(dir string, entries []os.DirEntry, glob string) (bool, error) {
	subPat, rest, nested := strings.Cut(glob, "/")

	for _, e := range entries {
		if nested {
			if !e.IsDir() {
				continue
			}
			matched, err := filepath.Match(subPat, e.Name())
			if err != nil {
				return false, fmt.Errorf("bad input glob %q: %w", glob, err)
			}
			if !matched {
				continue
			}
			ok, err := hasQualifyingFile(filepath.Join(dir, e.Name()), []string{rest})
			if err != nil || ok {
				return ok, err
			}
			continue
		}

		if e.IsDir() {
			continue
		}
		matched, err := filepath.Match(glob, e.Name())
		if err != nil {
			return false, fmt.Errorf("bad input glob %q: %w", glob, err)
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}
