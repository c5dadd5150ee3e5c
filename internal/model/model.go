package model

import "time"

// StatusPublish is the only status visible through the read API.
const StatusPublish = "publish"

// Event is the calendar-relevant projection of one stored content record.
// Start/End hold the raw stored values; they are parsed during expansion
// so that a malformed record degrades instead of failing the whole query.
type Event struct {
	ID     int64  `yaml:"id" json:"id"`
	Title  string `yaml:"title" json:"title"`
	Status string `yaml:"status" json:"status"`

	Start    string `yaml:"start" json:"start"`
	End      string `yaml:"end" json:"end"`
	AllDay   bool   `yaml:"all_day" json:"all_day"`
	Timezone string `yaml:"timezone" json:"timezone"`

	// Recurrence is a compact rule string such as
	// "FREQ=WEEKLY;INTERVAL=1;COUNT=3", or empty for a one-off event.
	Recurrence string `yaml:"recurrence" json:"recurrence"`

	Location       string   `yaml:"location" json:"location"`
	Description    string   `yaml:"description" json:"description"`
	Cost           string   `yaml:"cost" json:"cost"`
	Categories     []string `yaml:"categories" json:"categories"`
	OrganizationID int64    `yaml:"organization_id" json:"organization_id"`
	Thumbnail      string   `yaml:"thumbnail" json:"thumbnail"`
	Permalink      string   `yaml:"permalink" json:"permalink"`
	Favorite       bool     `yaml:"-" json:"favorite"`

	// SourceID is set for events imported from an ICS feed.
	SourceID string `yaml:"source_id,omitempty" json:"source_id,omitempty"`
	UID      string `yaml:"uid,omitempty" json:"uid,omitempty"`
}

// Published reports whether the event is visible through the read API.
func (e Event) Published() bool {
	return e.Status == StatusPublish
}

// Occurrence represents a single concrete instance of an event after
// recurrence expansion. Start/End are in the event's own timezone.
type Occurrence struct {
	EventID int64  `json:"id"`
	Title   string `json:"title"`

	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day"`

	Timezone string `json:"timezone"`

	// Index is the zero-based position of this occurrence within the
	// expansion call that produced it.
	Index int `json:"occurrence"`

	Location       string   `json:"location,omitempty"`
	Description    string   `json:"description,omitempty"`
	Cost           string   `json:"cost,omitempty"`
	Categories     []string `json:"categories"`
	OrganizationID int64    `json:"organization_id,omitempty"`
	Thumbnail      string   `json:"thumbnail,omitempty"`
	Permalink      string   `json:"permalink,omitempty"`
	Favorite       bool     `json:"favorite"`
}

// QueryRange bounds expansion and filtering. A nil bound is unbounded.
type QueryRange struct {
	Start *time.Time
	End   *time.Time
}

// Unbounded reports whether neither bound is set.
func (r QueryRange) Unbounded() bool {
	return r.Start == nil && r.End == nil
}

// Pagination describes the slice of a sorted occurrence stream that was
// returned.
type Pagination struct {
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
	PerPage    int `json:"per_page"`
	Current    int `json:"current"`
}

// Page is one cached /events result.
type Page struct {
	Events     []Occurrence `json:"events"`
	Pagination Pagination   `json:"pagination"`
}
