// Package unused computes, caches and reviews git-annex's "unused objects" report.
package unused

import (
	"regexp"
	"strconv"
)

var (
	entryLine    = regexp.MustCompile(`^\s+(\d+)\s+(\S+)\s*$`)
	badMarker    = regexp.MustCompile(`(?i)corrupted files .*preserved`)
	tmpMarker    = regexp.MustCompile(`(?i)partially transferred data`)
	plainMarkers = regexp.MustCompile(`(?i)no longer used by any files|not used by any files`)
)

// Entry is one numbered object of the unused report.
type Entry struct {
	// Number is git-annex's 1-based unused index, the argument dropunused expects.
	Number int    `json:"number"`
	Key    string `json:"key"`
	// Bad marks a corrupted copy fsck preserved; Tmp marks a partial transfer.
	Bad bool `json:"bad"`
	Tmp bool `json:"tmp"`
	// LogLines is nil until the history of Key was searched; an empty slice means none found.
	LogLines []string `json:"log_lines"`
}

// HasLog reports whether the entry's history has been searched.
func (e *Entry) HasLog() bool {
	return e.LogLines != nil
}

// Plain reports whether the entry is neither a preserved corrupt copy nor temporary data.
func (e *Entry) Plain() bool {
	return !e.Bad && !e.Tmp
}

type section int

const (
	sectionPlain section = iota
	sectionBad
	sectionTmp
)

// ParseReport extracts the numbered entries from `git annex unused` output.
// Section headers classify the entries that follow them until the next header.
func ParseReport(report string) []Entry {
	var (
		entries []Entry
		current = sectionPlain
		start   int
	)

	for end := 0; end <= len(report); end++ {
		if end < len(report) && report[end] != '\n' {
			continue
		}
		line := report[start:end]
		start = end + 1

		switch {
		case badMarker.MatchString(line):
			current = sectionBad
			continue
		case tmpMarker.MatchString(line):
			current = sectionTmp
			continue
		case plainMarkers.MatchString(line):
			current = sectionPlain
			continue
		}

		match := entryLine.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		number, err := strconv.Atoi(match[1])
		if err != nil || number < 1 {
			continue
		}

		entries = append(entries, Entry{
			Number: number,
			Key:    match[2],
			Bad:    current == sectionBad,
			Tmp:    current == sectionTmp,
		})
	}

	return entries
}
