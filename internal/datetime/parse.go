// Package datetime parses the loosely formatted instants found in stored
// event records, recurrence rules and query strings.
package datetime

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrEmpty is returned for blank input.
var ErrEmpty = errors.New("empty time value")

// zoned layouts carry their own offset; the location argument is ignored.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"20060102T150405Z",
}

// local layouts are interpreted in the caller-supplied location.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"20060102T150405",
	"20060102T1504",
	"20060102",
}

// Parse resolves s into an instant. Accepted forms are ISO 8601 / RFC 3339
// (with or without offset), the compact iCalendar DATE and DATE-TIME forms,
// and integer epoch seconds. Values without an offset are read in loc
// (time.UTC when nil).
func Parse(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrEmpty
	}
	if loc == nil {
		loc = time.UTC
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(loc), nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}

	// Eight-digit values were already tried as YYYYMMDD above.
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).In(loc), nil
	}

	return time.Time{}, errors.New("unrecognized time value: " + strconv.Quote(s))
}

// LoadLocation resolves an IANA zone name, falling back to def for blank
// or unknown names.
func LoadLocation(name string, def *time.Location) *time.Location {
	if def == nil {
		def = time.UTC
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return def
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return def
	}
	return loc
}
