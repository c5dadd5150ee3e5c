// Package store holds the event records the occurrence engine reads.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	appLog "evcal/internal/log"
	"evcal/internal/model"
)

var (
	// ErrNotFound is returned for unknown ids and for events that are not
	// published.
	ErrNotFound = errors.New("event not found")
	ErrExists   = errors.New("event already exists")
)

// Filter narrows Find. Zero fields do not filter.
type Filter struct {
	EventID        int64
	OrganizationID int64
	// Categories matches events carrying any of the given slugs.
	Categories []string
}

// Store is the read side consumed by the query service.
type Store interface {
	Find(ctx context.Context, f Filter) ([]model.Event, error)
	Get(ctx context.Context, id int64) (model.Event, error)
}

// ChangeFunc is notified after every successful mutation.
type ChangeFunc func(ctx context.Context, reason string, eventID int64)

type sourceKey struct {
	source string
	uid    string
}

// Memory is an in-process Store with a write API. It is safe for
// concurrent use.
type Memory struct {
	mu        sync.RWMutex
	events    map[int64]model.Event
	bySource  map[sourceKey]int64
	nextID    int64
	listeners []ChangeFunc
}

func NewMemory() *Memory {
	return &Memory{
		events:   make(map[int64]model.Event),
		bySource: make(map[sourceKey]int64),
		nextID:   1,
	}
}

// OnChange registers fn to run after each mutation.
func (m *Memory) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Memory) notify(ctx context.Context, reason string, id int64) {
	m.mu.RLock()
	ls := slices.Clone(m.listeners)
	m.mu.RUnlock()
	for _, fn := range ls {
		fn(ctx, reason, id)
	}
}

func (m *Memory) Find(_ context.Context, f Filter) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := normalizeSlugs(f.Categories)
	out := make([]model.Event, 0)
	for _, ev := range m.events {
		if !ev.Published() {
			continue
		}
		if f.EventID != 0 && ev.ID != f.EventID {
			continue
		}
		if f.OrganizationID != 0 && ev.OrganizationID != f.OrganizationID {
			continue
		}
		if len(wanted) > 0 && !hasAny(ev.Categories, wanted) {
			continue
		}
		out = append(out, cloneEvent(ev))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Get(_ context.Context, id int64) (model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[id]
	if !ok || !ev.Published() {
		return model.Event{}, ErrNotFound
	}
	return cloneEvent(ev), nil
}

// Create stores ev. A zero ID is assigned the next free id.
func (m *Memory) Create(ctx context.Context, ev model.Event) (model.Event, error) {
	m.mu.Lock()
	if ev.ID == 0 {
		ev.ID = m.allocID()
	} else if _, exists := m.events[ev.ID]; exists {
		m.mu.Unlock()
		return model.Event{}, fmt.Errorf("create %d: %w", ev.ID, ErrExists)
	} else if ev.ID >= m.nextID {
		m.nextID = ev.ID + 1
	}
	if ev.Status == "" {
		ev.Status = model.StatusPublish
	}
	ev.Categories = normalizeSlugs(ev.Categories)
	m.events[ev.ID] = cloneEvent(ev)
	if ev.SourceID != "" && ev.UID != "" {
		m.bySource[sourceKey{ev.SourceID, ev.UID}] = ev.ID
	}
	m.mu.Unlock()

	m.notify(ctx, "create", ev.ID)
	return ev, nil
}

// Update replaces the stored record with the same ID.
func (m *Memory) Update(ctx context.Context, ev model.Event) (model.Event, error) {
	m.mu.Lock()
	prev, ok := m.events[ev.ID]
	if !ok {
		m.mu.Unlock()
		return model.Event{}, fmt.Errorf("update %d: %w", ev.ID, ErrNotFound)
	}
	if ev.Status == "" {
		ev.Status = prev.Status
	}
	ev.SourceID, ev.UID = prev.SourceID, prev.UID
	ev.Categories = normalizeSlugs(ev.Categories)
	m.events[ev.ID] = cloneEvent(ev)
	m.mu.Unlock()

	m.notify(ctx, "update", ev.ID)
	return ev, nil
}

func (m *Memory) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	ev, ok := m.events[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("delete %d: %w", id, ErrNotFound)
	}
	delete(m.events, id)
	delete(m.bySource, sourceKey{ev.SourceID, ev.UID})
	m.mu.Unlock()

	m.notify(ctx, "delete", id)
	return nil
}

// SetCategories replaces the category assignment of an event.
func (m *Memory) SetCategories(ctx context.Context, id int64, categories []string) error {
	m.mu.Lock()
	ev, ok := m.events[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("set categories %d: %w", id, ErrNotFound)
	}
	ev.Categories = normalizeSlugs(categories)
	m.events[id] = ev
	m.mu.Unlock()

	m.notify(ctx, "terms", id)
	return nil
}

// ReplaceSource makes the events of one feed match events, keyed by UID:
// new UIDs are created, known ones updated in place (keeping their id),
// and UIDs missing from events are deleted. It reports whether anything
// changed and notifies listeners once if so.
func (m *Memory) ReplaceSource(ctx context.Context, sourceID string, events []model.Event) (bool, error) {
	if sourceID == "" {
		return false, errors.New("replace source: empty source id")
	}

	m.mu.Lock()
	changed := false
	seen := make(map[string]bool, len(events))

	for _, ev := range events {
		if ev.UID == "" {
			continue
		}
		seen[ev.UID] = true
		ev.SourceID = sourceID
		ev.Categories = normalizeSlugs(ev.Categories)
		if ev.Status == "" {
			ev.Status = model.StatusPublish
		}

		k := sourceKey{sourceID, ev.UID}
		if id, ok := m.bySource[k]; ok {
			ev.ID = id
			if reflect.DeepEqual(m.events[id], ev) {
				continue
			}
		} else {
			ev.ID = m.allocID()
			m.bySource[k] = ev.ID
		}
		m.events[ev.ID] = cloneEvent(ev)
		changed = true
	}

	for k, id := range m.bySource {
		if k.source == sourceID && !seen[k.uid] {
			delete(m.bySource, k)
			delete(m.events, id)
			changed = true
		}
	}
	m.mu.Unlock()

	if changed {
		m.notify(ctx, "import", 0)
	}
	return changed, nil
}

// Len returns the number of stored records of any status.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

func (m *Memory) allocID() int64 {
	for {
		id := m.nextID
		m.nextID++
		if _, taken := m.events[id]; !taken {
			return id
		}
	}
}

// seedFile is the YAML layout accepted by LoadFile.
type seedFile struct {
	Events []model.Event `yaml:"events"`
}

// LoadFile reads a YAML seed file of events and creates each one. It
// returns the number of events created.
func (m *Memory) LoadFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parse seed %s: %w", path, err)
	}

	n := 0
	for _, ev := range seed.Events {
		if _, err := m.Create(ctx, ev); err != nil {
			appLog.Error("seed event skipped", err, "path", path, "event_id", ev.ID)
			continue
		}
		n++
	}
	return n, nil
}

func normalizeSlugs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func hasAny(have, wanted []string) bool {
	for _, h := range have {
		if slices.Contains(wanted, h) {
			return true
		}
	}
	return false
}

func cloneEvent(ev model.Event) model.Event {
	ev.Categories = slices.Clone(ev.Categories)
	return ev
}
