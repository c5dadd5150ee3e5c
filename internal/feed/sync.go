// Package feed imports subscribed ICS feeds into the event store.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"evcal/internal/config"
	"evcal/internal/ics"
	appLog "evcal/internal/log"
	"evcal/internal/model"
)

// Importer replaces the events of one feed in the store.
type Importer interface {
	ReplaceSource(ctx context.Context, sourceID string, events []model.Event) (bool, error)
}

// Fetcher downloads feed bodies.
type Fetcher interface {
	FetchOne(ctx context.Context, src ics.Source) (ics.FetchResult, error)
}

// Report summarizes one Sync run.
type Report struct {
	Sources  int
	Imported int
	Changed  []string
	Failed   []string
	Took     time.Duration
}

// Syncer fetches, parses and imports every configured feed.
type Syncer struct {
	fetcher  Fetcher
	importer Importer
	sources  []ics.Source

	// mu serializes runs so a slow refresh is never overlapped by the next
	// cron tick.
	mu sync.Mutex
}

func NewSyncer(fetcher Fetcher, importer Importer, feeds []config.FeedConfig) *Syncer {
	sources := make([]ics.Source, 0, len(feeds))
	for _, f := range feeds {
		if f.URL == "" {
			continue
		}
		id := f.ID
		if id == "" {
			id = f.URL
		}
		sources = append(sources, ics.Source{ID: id, URL: f.URL, Categories: f.Categories})
	}
	return &Syncer{fetcher: fetcher, importer: importer, sources: sources}
}

// Sources returns the normalized feed list.
func (s *Syncer) Sources() []ics.Source {
	return s.sources
}

// Sync runs one refresh. A feed that fails to fetch or parse keeps its
// previously imported events. The returned error joins every per-feed
// failure; the report is valid either way.
func (s *Syncer) Sync(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	rep := Report{Sources: len(s.sources)}
	var errs []error

	for _, src := range s.sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		n, changed, err := s.syncOne(ctx, src)
		if err != nil {
			rep.Failed = append(rep.Failed, src.ID)
			errs = append(errs, fmt.Errorf("feed %s: %w", src.ID, err))
			continue
		}
		rep.Imported += n
		if changed {
			rep.Changed = append(rep.Changed, src.ID)
		}
	}

	rep.Took = time.Since(started)
	appLog.Info("feed sync completed",
		"sources", rep.Sources,
		"imported", rep.Imported,
		"changed", len(rep.Changed),
		"failed", len(rep.Failed),
		"took", rep.Took,
	)
	return rep, errors.Join(errs...)
}

func (s *Syncer) syncOne(ctx context.Context, src ics.Source) (int, bool, error) {
	res, err := s.fetcher.FetchOne(ctx, src)
	if err != nil {
		return 0, false, fmt.Errorf("fetch: %w", err)
	}
	events, err := ics.ParseICS(src, res.Body)
	if err != nil {
		return 0, false, fmt.Errorf("parse: %w", err)
	}
	changed, err := s.importer.ReplaceSource(ctx, src.ID, events)
	if err != nil {
		return 0, false, fmt.Errorf("import: %w", err)
	}
	if changed {
		appLog.Debug("feed changed", "id", src.ID, "events", len(events), "not_modified", res.NotModified)
	}
	return len(events), changed, nil
}
