package feed

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evcal/internal/config"
	"evcal/internal/ics"
	"evcal/internal/store"
)

const clubFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//test//EN
BEGIN:VEVENT
UID:weekly@club
DTSTAMP:20240101T000000Z
DTSTART:20240301T100000Z
DTEND:20240301T110000Z
SUMMARY:Club night
RRULE:FREQ=WEEKLY;COUNT=4
END:VEVENT
BEGIN:VEVENT
UID:fair@club
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20240505
SUMMARY:Fair
END:VEVENT
END:VCALENDAR
`

type fakeFetcher struct {
	bodies map[string]string
	errs   map[string]error
}

func (f *fakeFetcher) FetchOne(_ context.Context, src ics.Source) (ics.FetchResult, error) {
	if err := f.errs[src.ID]; err != nil {
		return ics.FetchResult{}, err
	}
	body := strings.ReplaceAll(f.bodies[src.ID], "\n", "\r\n")
	return ics.FetchResult{Source: src, Body: []byte(body)}, nil
}

func TestSyncImportsFeeds(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	var reasons []string
	st.OnChange(func(_ context.Context, reason string, _ int64) { reasons = append(reasons, reason) })

	fetcher := &fakeFetcher{bodies: map[string]string{"club": clubFeed}}
	s := NewSyncer(fetcher, st, []config.FeedConfig{
		{ID: "club", URL: "https://example.org/club.ics", Categories: []string{"Club"}},
		{ID: "empty-url"},
	})
	require.Len(t, s.Sources(), 1)

	rep, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Sources)
	assert.Equal(t, 2, rep.Imported)
	assert.Equal(t, []string{"club"}, rep.Changed)

	events, err := st.Find(ctx, store.Filter{Categories: []string{"club"}})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Club night", events[0].Title)
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", events[0].Recurrence)
	assert.True(t, events[1].AllDay)

	rep, err = s.Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Changed, "unchanged feed does not bump")
	assert.Equal(t, []string{"import"}, reasons)
}

func TestSyncKeepsEventsOnFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	fetcher := &fakeFetcher{
		bodies: map[string]string{"club": clubFeed},
		errs:   map[string]error{},
	}
	s := NewSyncer(fetcher, st, []config.FeedConfig{
		{ID: "club", URL: "https://example.org/club.ics"},
		{ID: "down", URL: "https://example.org/down.ics"},
	})

	_, err := s.Sync(ctx)
	require.Error(t, err, "down has no body")
	require.Equal(t, 2, st.Len())

	fetcher.errs["club"] = errors.New("connection refused")
	rep, err := s.Sync(ctx)
	require.Error(t, err)
	assert.ElementsMatch(t, []string{"club", "down"}, rep.Failed)
	assert.Equal(t, 2, st.Len(), "failed fetch keeps the last import")
}

func TestSyncStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSyncer(&fakeFetcher{}, store.NewMemory(), []config.FeedConfig{{ID: "a", URL: "https://example.org/a.ics"}})
	rep, err := s.Sync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, rep.Imported)
}
