package ics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedBody = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//test//EN
BEGIN:VEVENT
UID:weekly-1@example.org
DTSTAMP:20240101T000000Z
DTSTART:20240301T100000Z
DTEND:20240301T110000Z
SUMMARY:Weekly sync
LOCATION:Room 4
URL:https://example.org/weekly
CATEGORIES:Work,Meetings
RRULE:FREQ=WEEKLY;COUNT=3
END:VEVENT
BEGIN:VEVENT
UID:weekly-1@example.org
RECURRENCE-ID:20240308T100000Z
DTSTAMP:20240101T000000Z
DTSTART:20240308T120000Z
DTEND:20240308T130000Z
SUMMARY:Weekly sync (moved)
END:VEVENT
BEGIN:VEVENT
UID:holiday@example.org
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20240505
DTEND;VALUE=DATE:20240506
SUMMARY:Holiday
END:VEVENT
BEGIN:VEVENT
DTSTAMP:20240101T000000Z
DTSTART:20240301T100000Z
SUMMARY:No uid
END:VEVENT
END:VCALENDAR
`

func TestParseICS(t *testing.T) {
	body := strings.ReplaceAll(feedBody, "\n", "\r\n")
	src := Source{ID: "club", URL: "https://example.org/feed.ics", Categories: []string{"club"}}

	events, err := ParseICS(src, []byte(body))
	require.NoError(t, err)
	require.Len(t, events, 2)

	weekly := events[0]
	assert.Equal(t, "weekly-1@example.org", weekly.UID)
	assert.Equal(t, "club", weekly.SourceID)
	assert.Equal(t, "Weekly sync", weekly.Title)
	assert.Equal(t, "Room 4", weekly.Location)
	assert.Equal(t, "https://example.org/weekly", weekly.Permalink)
	assert.Equal(t, "FREQ=WEEKLY;COUNT=3", weekly.Recurrence)
	assert.Equal(t, "2024-03-01T10:00:00Z", weekly.Start)
	assert.Equal(t, "2024-03-01T11:00:00Z", weekly.End)
	assert.False(t, weekly.AllDay)
	assert.Equal(t, []string{"club", "work", "meetings"}, weekly.Categories)
	assert.True(t, weekly.Published())

	holiday := events[1]
	assert.True(t, holiday.AllDay)
	assert.Equal(t, "2024-05-05", holiday.Start)
	assert.Equal(t, "2024-05-06", holiday.End)
}

func TestParseICSEmpty(t *testing.T) {
	_, err := ParseICS(Source{ID: "x"}, nil)
	assert.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.org/...(redacted)", redactURL("https://example.org/private/abc.ics?token=1"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
