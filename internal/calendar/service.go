// Package calendar answers occurrence queries: it loads events from the
// store, expands them, filters, sorts and paginates the merged stream, and
// keeps the result in the versioned cache.
package calendar

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"evcal/internal/cache"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/occurrence"
	"evcal/internal/recurrence"
	"evcal/internal/store"
)

// ErrNotFound is returned by Event for unknown or unpublished ids.
var ErrNotFound = store.ErrNotFound

// Query is the typed form of the /events and /events.ics parameters.
type Query struct {
	Range      model.QueryRange
	Categories []string
	OrgID      int64
	EventID    int64
	// Favorites restricts results to occurrences the user favorited.
	Favorites bool
	UserID    string

	Page    int
	PerPage int
	OrderBy occurrence.OrderBy
	Order   occurrence.Order
}

// cacheParams is the normalized cache identity of a query.
type cacheParams struct {
	Start      string   `json:"start"`
	End        string   `json:"end"`
	Categories []string `json:"category"`
	OrgID      int64    `json:"org"`
	EventID    int64    `json:"event_id"`
	Favorites  bool     `json:"favorites"`
	UserID     string   `json:"user"`
	Page       int      `json:"page"`
	PerPage    int      `json:"per_page"`
	OrderBy    string   `json:"orderby"`
	Order      string   `json:"order"`
	Paginate   bool     `json:"apply_pagination"`
}

// Detail is the single-event projection with its full expansion.
type Detail struct {
	model.Event
	Occurrences  []model.Occurrence   `json:"occurrences"`
	Truncated    bool                 `json:"truncated,omitempty"`
	Rule         string               `json:"rule,omitempty"`
	RuleWarnings []recurrence.Warning `json:"rule_warnings,omitempty"`
}

// Service wires the store, expander and cache together.
type Service struct {
	store     store.Store
	favorites store.Favorites
	expander  *occurrence.Expander
	cache     *cache.Versioned
	metrics   *Metrics
	loc       *time.Location
}

// Options configures a Service. Favorites, Cache and Metrics may be nil.
type Options struct {
	Store     store.Store
	Favorites store.Favorites
	Expander  *occurrence.Expander
	Cache     *cache.Versioned
	Metrics   *Metrics
	// Location is the default zone for rule parsing in Event.
	Location *time.Location
}

func NewService(opts Options) *Service {
	if opts.Expander == nil {
		opts.Expander = occurrence.NewExpander(occurrence.Config{DefaultLocation: opts.Location})
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics("evcal")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		store:     opts.Store,
		favorites: opts.Favorites,
		expander:  opts.Expander,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		loc:       opts.Location,
	}
}

func (s *Service) Metrics() *Metrics { return s.metrics }

// Events returns one page of the sorted occurrence stream for q.
func (s *Service) Events(ctx context.Context, q Query) (model.Page, error) {
	q = normalize(q)

	var page model.Page
	key, hit := s.lookup(ctx, "page", q.params(true), &page)
	if hit {
		return page, nil
	}

	all, err := s.collect(ctx, q)
	if err != nil {
		return model.Page{}, err
	}
	items, p := occurrence.Paginate(all, q.Page, q.PerPage)
	page = model.Page{Events: items, Pagination: p}

	s.save(ctx, key, page)
	return page, nil
}

// All returns the whole sorted occurrence stream for q, ignoring
// pagination. The calendar export uses this.
func (s *Service) All(ctx context.Context, q Query) ([]model.Occurrence, error) {
	q = normalize(q)

	var all []model.Occurrence
	key, hit := s.lookup(ctx, "all", q.params(false), &all)
	if hit {
		return all, nil
	}

	all, err := s.collect(ctx, q)
	if err != nil {
		return nil, err
	}
	s.save(ctx, key, all)
	return all, nil
}

// Event returns a published event with its unbounded expansion.
func (s *Service) Event(ctx context.Context, id int64, userID string) (Detail, error) {
	ev, err := s.store.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	if userID != "" && s.favorites != nil {
		ev.Favorite = s.favorites.IsFavorite(ctx, userID, ev.ID)
	}

	res := s.expander.Expand(ev, model.QueryRange{})
	truncated := 0
	if res.Truncated {
		truncated = 1
	}
	s.observe(len(res.Occurrences), truncated)

	d := Detail{Event: ev, Occurrences: res.Occurrences, Truncated: res.Truncated}
	if d.Occurrences == nil {
		d.Occurrences = []model.Occurrence{}
	}
	if parsed, ok := recurrence.Parse(ev.Recurrence, s.loc); ok {
		d.Rule = parsed.Rule.String()
		d.RuleWarnings = parsed.Warnings
	}
	return d, nil
}

// Invalidate bumps the event version. Its signature matches
// store.ChangeFunc so it can be registered on a store directly.
func (s *Service) Invalidate(ctx context.Context, reason string, eventID int64) {
	s.metrics.Invalidations.WithLabelValues(reason).Inc()
	if s.cache == nil {
		return
	}
	v, err := s.cache.Invalidate(ctx)
	if err != nil {
		s.metrics.CacheErrors.Inc()
		appLog.Error("cache invalidation failed", err, "reason", reason, "event_id", eventID)
		return
	}
	appLog.Debug("cache version bumped", "reason", reason, "event_id", eventID, "version", v)
}

// collect loads, expands, filters and sorts the stream for q.
func (s *Service) collect(ctx context.Context, q Query) ([]model.Occurrence, error) {
	events, err := s.store.Find(ctx, store.Filter{
		EventID:        q.EventID,
		OrganizationID: q.OrgID,
		Categories:     q.Categories,
	})
	if err != nil {
		return nil, err
	}

	res := s.expander.ExpandAll(events, q.Range)
	s.observe(len(res.Occurrences), len(res.TruncatedEvents))

	all := occurrence.Filter(res.Occurrences, q.Range)
	all = s.applyFavorites(ctx, all, q)
	occurrence.Sort(all, occurrence.SortOptions{OrderBy: q.OrderBy, Order: q.Order})
	return all, nil
}

func (s *Service) applyFavorites(ctx context.Context, list []model.Occurrence, q Query) []model.Occurrence {
	if q.UserID == "" || s.favorites == nil {
		if q.Favorites {
			return []model.Occurrence{}
		}
		return list
	}

	out := list[:0]
	for _, o := range list {
		o.Favorite = s.favorites.IsFavorite(ctx, q.UserID, o.EventID)
		if q.Favorites && !o.Favorite {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (s *Service) lookup(ctx context.Context, kind string, params cacheParams, dst any) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	key, hit, err := s.cache.Lookup(ctx, params, dst)
	if err != nil {
		s.metrics.CacheErrors.Inc()
		appLog.Error("cache lookup failed; serving uncached", err, "kind", kind)
		return "", false
	}
	if hit {
		s.metrics.CacheHits.WithLabelValues(kind).Inc()
	} else {
		s.metrics.CacheMisses.WithLabelValues(kind).Inc()
	}
	return key, hit
}

func (s *Service) save(ctx context.Context, key string, value any) {
	if s.cache == nil || key == "" {
		return
	}
	if err := s.cache.Store(ctx, key, value); err != nil {
		s.metrics.CacheErrors.Inc()
		appLog.Error("cache store failed", err, "key", key)
	}
}

// observe records n expanded occurrences and the number of events that
// hit a cap while producing them.
func (s *Service) observe(n, truncated int) {
	s.metrics.OccurrencesExpanded.Add(float64(n))
	s.metrics.TruncatedEvents.Add(float64(truncated))
}

func normalize(q Query) Query {
	if q.Page < 1 {
		q.Page = occurrence.DefaultPage
	}
	if q.PerPage < 1 {
		q.PerPage = occurrence.DefaultPerPage
	}
	if q.OrderBy == "" {
		q.OrderBy = occurrence.OrderByStart
	}
	if q.Order == "" {
		q.Order = occurrence.OrderAsc
	}

	cats := make([]string, 0, len(q.Categories))
	for _, c := range q.Categories {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" && !slices.Contains(cats, c) {
			cats = append(cats, c)
		}
	}
	slices.Sort(cats)
	q.Categories = cats
	return q
}

func (q Query) params(paginate bool) cacheParams {
	p := cacheParams{
		Categories: q.Categories,
		OrgID:      q.OrgID,
		EventID:    q.EventID,
		Favorites:  q.Favorites,
		UserID:     q.UserID,
		OrderBy:    string(q.OrderBy),
		Order:      string(q.Order),
		Paginate:   paginate,
	}
	if q.Range.Start != nil {
		p.Start = q.Range.Start.UTC().Format(time.RFC3339)
	}
	if q.Range.End != nil {
		p.End = q.Range.End.UTC().Format(time.RFC3339)
	}
	if paginate {
		p.Page, p.PerPage = q.Page, q.PerPage
	}
	return p
}

// IsNotFound reports whether err means the event does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
