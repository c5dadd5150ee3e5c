package cache

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestCache(max int) (*MemoryCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(max, time.Hour)
	c.now = clock.now
	return c, clock
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(10)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	clock.t = clock.t.Add(time.Hour)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheEvictsSoonestExpiry(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(2)

	require.NoError(t, c.Set(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "long", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "new", []byte("3"), time.Hour))

	_, ok, _ := c.Get(ctx, "short")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "long")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestMemoryVersionsConcurrentBumps(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVersions()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = v.Bump(ctx, ContentTypeEvent)
		}()
	}
	wg.Wait()

	n, err := v.Version(ctx, ContentTypeEvent)
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)

	other, _ := v.Version(ctx, "organization")
	assert.Equal(t, int64(0), other)
}

type params struct {
	Start string `json:"start"`
	Page  int    `json:"page"`
}

func TestKeyEmbedsVersion(t *testing.T) {
	k0, err := Key(ContentTypeEvent, 0, params{Start: "2024-03-01", Page: 1})
	require.NoError(t, err)
	k1, err := Key(ContentTypeEvent, 1, params{Start: "2024-03-01", Page: 1})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(k0, "evcal_event_v0_"))
	assert.True(t, strings.HasPrefix(k1, "evcal_event_v1_"))
	assert.Equal(t, strings.TrimPrefix(k0, "evcal_event_v0_"), strings.TrimPrefix(k1, "evcal_event_v1_"))

	k2, _ := Key(ContentTypeEvent, 0, params{Start: "2024-03-01", Page: 2})
	assert.NotEqual(t, k0, k2)
}

func TestVersionedBumpCausesMiss(t *testing.T) {
	ctx := context.Background()
	v := NewVersioned(NewMemoryCache(10, time.Hour), NewMemoryVersions(), ContentTypeEvent, time.Hour)
	p := params{Start: "2024-03-01", Page: 1}

	var got []string
	key, hit, err := v.Lookup(ctx, p, &got)
	require.NoError(t, err)
	assert.False(t, hit)
	require.NoError(t, v.Store(ctx, key, []string{"a", "b"}))

	_, hit, err = v.Lookup(ctx, p, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"a", "b"}, got)

	n, err := v.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	newKey, hit, err := v.Lookup(ctx, p, &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotEqual(t, key, newKey)
}
