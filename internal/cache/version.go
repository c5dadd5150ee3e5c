package cache

import (
	"context"
	"sync"
	"sync/atomic"
)

// ContentTypeEvent is the version namespace for event records.
const ContentTypeEvent = "event"

// VersionStore exposes one monotonically increasing counter per content
// type. Bump must be atomic with respect to concurrent writers.
type VersionStore interface {
	Version(ctx context.Context, contentType string) (int64, error)
	Bump(ctx context.Context, contentType string) (int64, error)
}

// MemoryVersions is a process-local VersionStore. Counters start at 0.
type MemoryVersions struct {
	counters sync.Map // string -> *atomic.Int64
}

func NewMemoryVersions() *MemoryVersions {
	return &MemoryVersions{}
}

func (m *MemoryVersions) counter(contentType string) *atomic.Int64 {
	if c, ok := m.counters.Load(contentType); ok {
		return c.(*atomic.Int64)
	}
	c, _ := m.counters.LoadOrStore(contentType, new(atomic.Int64))
	return c.(*atomic.Int64)
}

func (m *MemoryVersions) Version(_ context.Context, contentType string) (int64, error) {
	return m.counter(contentType).Load(), nil
}

func (m *MemoryVersions) Bump(_ context.Context, contentType string) (int64, error) {
	return m.counter(contentType).Add(1), nil
}
