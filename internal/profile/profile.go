// Package profile loads the client's station-profile configuration: a
// TOML document naming, for each profile, which roster entries to show
// and in what order, matched by case-insensitive glob against station
// identifiers. No glob library appears anywhere in the examples this
// project draws on, so matching is built directly on path/filepath's
// Match, lowercased on both sides to get case-insensitivity for free.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Profile is one named view: include/exclude glob lists that decide
// visibility, a separate ordered priority glob list that decides sort
// order, and a table of display aliases keyed by frequency.
type Profile struct {
	Include  []string          `toml:"include"`
	Exclude  []string          `toml:"exclude"`
	Priority []string          `toml:"priority"`
	Aliases  map[string]string `toml:"aliases"`
}

// Document is the top-level TOML structure: a named map of profiles.
type Document struct {
	Profiles map[string]Profile `toml:"profiles"`
}

// Load reads and parses a station-profile TOML file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	var doc Document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse profile file: %w", err)
	}
	return &doc, nil
}

// matchGlob reports whether pattern matches name, case-insensitively.
// Both path/filepath.Match wildcards ("*", "?") are supported; matching
// is purely textual, the "/" path-separator semantics of Match are
// unused since station identifiers never contain one.
func matchGlob(pattern, name string) bool {
	ok, err := filepath.Match(strings.ToLower(pattern), strings.ToLower(name))
	return ok && err == nil
}

// matchAny reports whether name matches any of patterns.
func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if matchGlob(p, name) {
			return true
		}
	}
	return false
}

// visible reports whether id should show under p: it must match some
// include pattern (an empty include list matches everything) and no
// exclude pattern. Visibility is always judged against the raw station
// ID, never an alias.
func visible(p Profile, id string) bool {
	if matchAny(p.Exclude, id) {
		return false
	}
	return len(p.Include) == 0 || matchAny(p.Include, id)
}

// priorityIndex returns the index of the first priority pattern that
// matches name, or noPriorityMatch if none does — a station with no
// priority match sorts after every station that has one.
func priorityIndex(patterns []string, name string) int {
	for i, pattern := range patterns {
		if matchGlob(pattern, name) {
			return i
		}
	}
	return noPriorityMatch
}

const noPriorityMatch = 1 << 30

// StationInfo is one roster station as known to the client driver: the
// identifier profiles filter/sort on, and the frequency aliases key off.
type StationInfo struct {
	StationID string
	Frequency string
}

// Entry is one roster station as filtered and ordered by a profile.
type Entry struct {
	StationID   string
	DisplayName string
	priority    int
}

// facilitySuffix returns the part of a station ID after the last
// underscore, used as the profile's secondary sort key (e.g. the "TWR"
// in "KJFK_TWR").
func facilitySuffix(stationID string) string {
	if i := strings.LastIndex(stationID, "_"); i >= 0 {
		return stationID[i+1:]
	}
	return ""
}

// Apply filters and orders stations per p: a station shows iff it
// matches some include pattern (or include is empty) and no exclude
// pattern, judged against its raw station ID. The rest are sorted by
// (priority index ascending, facility suffix ascending, station ID
// ascending), where the priority index is the position of the first
// priority pattern that matches — matched against the station's alias
// if it has one, since aliases affect display and priority matching but
// never include/exclude matching.
func (p Profile) Apply(stations []StationInfo) []Entry {
	entries := make([]Entry, 0, len(stations))
	for _, s := range stations {
		if !visible(p, s.StationID) {
			continue
		}

		display := s.StationID
		if alias, ok := p.Aliases[s.Frequency]; ok && alias != "" {
			display = alias
		}

		idx := priorityIndex(p.Priority, display)
		entries = append(entries, Entry{StationID: s.StationID, DisplayName: display, priority: idx})
	}

	sortEntries(entries)
	return entries
}

func sortEntries(entries []Entry) {
	less := func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		si, sj := facilitySuffix(entries[i].StationID), facilitySuffix(entries[j].StationID)
		if si != sj {
			return si < sj
		}
		return entries[i].StationID < entries[j].StationID
	}

	// Insertion sort: profile lists are short (a handful to a few dozen
	// stations), and this keeps the comparator above as the single
	// source of truth with no separate sort.Interface boilerplate.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}
