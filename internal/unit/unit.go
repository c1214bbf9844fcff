// Package unit defines the atomic scope of pipeline work: one site/day
// per stage, tracked independently for completion.
package unit

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
)

// Unit identifies one atomic scope of work. Units for the same (site, day)
// across different stages are related but never shared: each stage tracks
// its own completion state.
type Unit struct {
	Site  string // radar site code, e.g. "chenies"
	Day   string // 8-digit calendar key YYYYMMDD
	Stage string // stage name, e.g. "split", "vol2bird"
	Input string // path to this unit's input file or directory
}

// Key returns the (site, day) identity used for sorting and dedup.
func (u Unit) Key() string {
	return u.Site + "/" + u.Day
}

func (u Unit) String() string {
	return fmt.Sprintf("%s site=%s day=%s", u.Stage, u.Site, u.Day)
}

// dayPattern matches an exact 8-digit day key.
var dayPattern = regexp.MustCompile(`^\d{8}$`)

// IsDayKey reports whether s is a valid 8-digit YYYYMMDD key.
// Fixed-width zero padding makes lexicographic comparison equal to
// chronological comparison, so range filters compare strings directly.
func IsDayKey(s string) bool {
	return dayPattern.MatchString(s)
}

// dayToken matches an 8-digit run embedded in a path or filename,
// bounded by non-digits so longer numbers don't match.
var dayToken = regexp.MustCompile(`(?:^|[^0-9])(\d{8})(?:[^0-9]|$)`)

// ExtractDay pulls the first embedded 8-digit day token out of a path
// or filename. Returns "" if none is present.
func ExtractDay(path string) string {
	// Prefer the base name: raw volume files lead with the date
	// (e.g. 20250101_chenies_agg.h5).
	if m := dayToken.FindStringSubmatch(filepath.Base(path)); m != nil {
		return m[1]
	}
	if m := dayToken.FindStringSubmatch(path); m != nil {
		return m[1]
	}
	return ""
}

// InRange reports whether day falls inside the inclusive [start, end]
// range. An empty bound is open on that side.
func InRange(day, start, end string) bool {
	if start != "" && day < start {
		return false
	}
	if end != "" && day > end {
		return false
	}
	return true
}

// Sort orders units by (site, day) ascending for deterministic,
// auditable run logs.
func Sort(units []Unit) {
	sort.Slice(units, func(i, j int) bool {
		if units[i].Site != units[j].Site {
			return units[i].Site < units[j].Site
		}
		return units[i].Day < units[j].Day
	})
}
