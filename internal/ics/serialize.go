package ics

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"evcal/internal/model"
)

// ProductID identifies this service in exported calendars.
const ProductID = "-//evcal//Event Occurrences//EN"

// uidNamespace scopes the deterministic occurrence UIDs.
var uidNamespace = uuid.MustParse("3c1e7a2e-9f0b-4d52-8a57-2b9e6a7d1f44")

var markupRe = regexp.MustCompile(`(?s)<[^>]*>`)

// Serializer renders occurrences as an iCalendar document.
type Serializer struct {
	// Now stamps DTSTAMP; defaults to time.Now.
	Now func() time.Time
}

// NewSerializer returns a Serializer using the wall clock.
func NewSerializer() *Serializer {
	return &Serializer{Now: time.Now}
}

// Serialize builds the VCALENDAR text for occ, one VEVENT per occurrence in
// input order. Occurrences without a start are skipped. Every line,
// including the last, ends in CRLF.
func (s *Serializer) Serialize(occ []model.Occurrence) string {
	now := time.Now
	if s != nil && s.Now != nil {
		now = s.Now
	}
	stamp := now().UTC()

	cal := ical.NewCalendarFor("evcal")
	cal.SetProductId(ProductID)
	cal.SetCalscale("GREGORIAN")

	for _, o := range occ {
		if o.Start.IsZero() {
			continue
		}

		ev := cal.AddEvent(UID(o.EventID, o.Start, o.End))
		ev.SetDtStampTime(stamp)

		if o.AllDay {
			ev.SetAllDayStartAt(o.Start)
			if !o.End.IsZero() {
				ev.SetAllDayEndAt(o.End)
			}
		} else {
			ev.SetStartAt(o.Start)
			if !o.End.IsZero() {
				ev.SetEndAt(o.End)
			}
		}

		ev.SetSummary(cleanText(o.Title))
		if v := cleanText(o.Location); v != "" {
			ev.SetLocation(v)
		}
		if v := cleanText(o.Description); v != "" {
			ev.SetDescription(v)
		}
		if o.Permalink != "" {
			ev.SetURL(o.Permalink, ical.WithValue("URI"))
		}
	}

	return cal.Serialize(ical.WithNewLineWindows)
}

// WriteTo serializes occ into w.
func (s *Serializer) WriteTo(w io.Writer, occ []model.Occurrence) error {
	_, err := io.WriteString(w, s.Serialize(occ))
	return err
}

// UID derives a stable identifier from an occurrence's event id and
// interval so that calendar clients de-duplicate on re-sync.
func UID(eventID int64, start, end time.Time) string {
	name := fmt.Sprintf("%d|%s|%s", eventID, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	return uuid.NewSHA1(uidNamespace, []byte(name)).String() + "@evcal"
}

// cleanText strips markup and carriage returns from a display value. The
// iCalendar TEXT escaping of backslash, comma, semicolon and newline is
// applied by the calendar encoder.
func cleanText(s string) string {
	if s == "" {
		return ""
	}
	s = markupRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\r", "")
	return strings.TrimSpace(s)
}
