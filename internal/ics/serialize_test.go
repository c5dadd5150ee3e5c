package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evcal/internal/model"
	"evcal/internal/occurrence"
)

func fixedSerializer() *Serializer {
	return &Serializer{Now: func() time.Time { return time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC) }}
}

func lines(doc string) []string {
	return strings.Split(strings.TrimSuffix(doc, "\r\n"), "\r\n")
}

func TestSerializeWeeklyExample(t *testing.T) {
	x := occurrence.NewExpander(occurrence.Config{})
	rs := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	re := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	res := x.Expand(model.Event{
		ID:         7,
		Title:      "Weekly sync",
		Start:      "2024-03-01T10:00:00Z",
		Recurrence: "FREQ=WEEKLY;INTERVAL=1;COUNT=3",
	}, model.QueryRange{Start: &rs, End: &re})
	require.Len(t, res.Occurrences, 3)

	doc := fixedSerializer().Serialize(res.Occurrences)

	assert.Equal(t, 3, strings.Count(doc, "BEGIN:VEVENT"))
	assert.Equal(t, 3, strings.Count(doc, "END:VEVENT"))

	var dtstarts []string
	for _, l := range lines(doc) {
		if strings.HasPrefix(l, "DTSTART") {
			dtstarts = append(dtstarts, l)
		}
	}
	assert.Equal(t, []string{
		"DTSTART:20240301T100000Z",
		"DTSTART:20240308T100000Z",
		"DTSTART:20240315T100000Z",
	}, dtstarts)
}

func TestSerializeEnvelope(t *testing.T) {
	doc := fixedSerializer().Serialize(nil)

	assert.True(t, strings.HasPrefix(doc, "BEGIN:VCALENDAR\r\n"))
	assert.True(t, strings.HasSuffix(doc, "END:VCALENDAR\r\n"))
	assert.Contains(t, doc, "VERSION:2.0\r\n")
	assert.Contains(t, doc, "PRODID:"+ProductID+"\r\n")
	assert.Contains(t, doc, "CALSCALE:GREGORIAN\r\n")
	assert.NotContains(t, doc, "BEGIN:VEVENT")
	assert.NotContains(t, strings.ReplaceAll(doc, "\r\n", ""), "\n")
}

func TestSerializeAllDay(t *testing.T) {
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	doc := fixedSerializer().Serialize([]model.Occurrence{
		{EventID: 1, Title: "Holiday", Start: day, End: day.AddDate(0, 0, 1), AllDay: true},
	})

	assert.Contains(t, doc, "DTSTART;VALUE=DATE:20240305\r\n")
	assert.Contains(t, doc, "DTEND;VALUE=DATE:20240306\r\n")
}

func TestSerializeTimedConvertsToUTC(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	start := time.Date(2024, 3, 5, 10, 0, 0, 0, berlin)

	doc := fixedSerializer().Serialize([]model.Occurrence{
		{EventID: 1, Title: "Talk", Start: start, End: start.Add(90 * time.Minute)},
	})

	assert.Contains(t, doc, "DTSTART:20240305T090000Z\r\n")
	assert.Contains(t, doc, "DTEND:20240305T103000Z\r\n")
	assert.Contains(t, doc, "DTSTAMP:20240201T120000Z\r\n")
}

func TestSerializeOptionalFields(t *testing.T) {
	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	doc := fixedSerializer().Serialize([]model.Occurrence{
		{EventID: 1, Title: "Plain", Start: start, End: start},
		{EventID: 2, Title: "Full", Start: start, End: start, Location: "Hall", Description: "<p>Bring tea</p>", Permalink: "https://example.org/e/2"},
	})

	blocks := strings.Split(doc, "BEGIN:VEVENT")
	require.Len(t, blocks, 3)

	assert.NotContains(t, blocks[1], "LOCATION")
	assert.NotContains(t, blocks[1], "DESCRIPTION")
	assert.NotContains(t, blocks[1], "URL")

	assert.Contains(t, blocks[2], "SUMMARY:Full\r\n")
	assert.Contains(t, blocks[2], "LOCATION:Hall\r\n")
	assert.Contains(t, blocks[2], "DESCRIPTION:Bring tea\r\n")
	assert.Contains(t, blocks[2], "URL;VALUE=URI:https://example.org/e/2\r\n")
}

func TestSerializeSkipsZeroStart(t *testing.T) {
	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	doc := fixedSerializer().Serialize([]model.Occurrence{
		{EventID: 1, Title: "broken"},
		{EventID: 2, Title: "ok", Start: start, End: start},
	})
	assert.Equal(t, 1, strings.Count(doc, "BEGIN:VEVENT"))
}

func TestUIDDeterministic(t *testing.T) {
	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	occ := []model.Occurrence{{EventID: 42, Title: "x", Start: start, End: start.Add(time.Hour)}}

	uidLine := func(doc string) string {
		for _, l := range lines(doc) {
			if strings.HasPrefix(l, "UID:") {
				return l
			}
		}
		return ""
	}

	first := uidLine(NewSerializer().Serialize(occ))
	second := uidLine(NewSerializer().Serialize(occ))
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)

	assert.Equal(t, UID(42, start, start.Add(time.Hour)), UID(42, start.In(time.Local), start.Add(time.Hour)))
	assert.NotEqual(t, UID(42, start, start.Add(time.Hour)), UID(42, start.AddDate(0, 0, 7), start.AddDate(0, 0, 7).Add(time.Hour)))
	assert.NotEqual(t, UID(42, start, start), UID(43, start, start))
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Bold & bright", cleanText("<b>Bold</b> &amp; bright"))
	assert.Equal(t, "line one\nline two", cleanText("line one\r\nline two"))
	assert.Equal(t, "", cleanText(""))
}

func TestSerializeEscapesText(t *testing.T) {
	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	doc := fixedSerializer().Serialize([]model.Occurrence{{
		EventID:     1,
		Title:       `a,b;c\d`,
		Description: "first\r\nsecond",
		Location:    "Hall; east",
		Start:       start,
		End:         start,
	}})

	assert.Contains(t, doc, `SUMMARY:a\,b\;c\\d`+"\r\n")
	assert.Contains(t, doc, `DESCRIPTION:first\nsecond`+"\r\n")
	assert.Contains(t, doc, `LOCATION:Hall\; east`+"\r\n")
	assert.NotContains(t, strings.ReplaceAll(doc, "\r\n", ""), "\r")
	assert.NotContains(t, strings.ReplaceAll(doc, "\r\n", ""), "\n")
}

func TestSerializeEveryLineEndsInCRLF(t *testing.T) {
	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	doc := fixedSerializer().Serialize([]model.Occurrence{
		{EventID: 1, Title: strings.Repeat("long title ", 12), Start: start, End: start.Add(time.Hour)},
	})

	require.True(t, strings.HasSuffix(doc, "\r\n"))
	for i := 0; i < len(doc); i++ {
		if doc[i] == '\n' {
			require.Greater(t, i, 0)
			assert.Equal(t, byte('\r'), doc[i-1], "bare LF at offset %d", i)
		}
	}
}
