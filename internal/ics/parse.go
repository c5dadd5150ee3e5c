package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "evcal/internal/log"
	"evcal/internal/model"
)

// ParseICS parses a feed payload into events ready for the store.
//
//   - Start/End are stored as RFC 3339 (timed) or YYYY-MM-DD (all-day)
//     strings so that feed events go through the same expansion path as
//     locally created ones.
//   - RRULE is kept verbatim; unsupported parts degrade during expansion.
//   - RECURRENCE-ID overrides are skipped; EXDATE is ignored.
//
// Imported events have no ID; the store assigns one keyed by
// (SourceID, UID).
func ParseICS(src Source, body []byte) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]model.Event, 0)
	skipped := 0

	for _, comp := range cal.Events() {
		if comp.GetProperty("RECURRENCE-ID") != nil {
			skipped++
			continue
		}
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events), "overrides_skipped", skipped)
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (model.Event, error) {
	out := model.Event{
		SourceID:   src.ID,
		Status:     model.StatusPublish,
		Categories: append([]string(nil), src.Categories...),
	}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyUrl); p != nil {
		out.Permalink = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyCategories) {
		for _, c := range strings.Split(p.Value, ",") {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				out.Categories = append(out.Categories, c)
			}
		}
	}

	dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStartProp == nil {
		return out, errors.New("missing DTSTART")
	}

	// VALUE=DATE or no 'T' in the value -> all-day
	allDay := !strings.Contains(dtStartProp.Value, "T")
	if vs, ok := dtStartProp.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		allDay = true
	}
	if tzs, ok := dtStartProp.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		out.Timezone = tzs[0]
	}
	out.AllDay = allDay

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	out.Start = formatStored(start, allDay)

	if end, err := ve.GetEndAt(); err == nil {
		out.End = formatStored(end, allDay)
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.Recurrence = rruleProp.Value
	}

	return out, nil
}

func formatStored(t time.Time, allDay bool) string {
	if allDay {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}
