package occurrence

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evcal/internal/model"
)

func sample(n int) []model.Occurrence {
	base := utc(2024, 3, 1, 10)
	out := make([]model.Occurrence, n)
	for i := range out {
		s := base.AddDate(0, 0, i)
		out[i] = model.Occurrence{EventID: int64(i + 1), Title: fmt.Sprintf("event %02d", n-i), Start: s, End: s.Add(time.Hour)}
	}
	return out
}

func TestSortByStartAscAndDesc(t *testing.T) {
	list := sample(5)
	list[0], list[3] = list[3], list[0]

	Sort(list, SortOptions{})
	for i := 1; i < len(list); i++ {
		assert.True(t, list[i-1].Start.Before(list[i].Start))
	}

	Sort(list, SortOptions{OrderBy: OrderByStart, Order: OrderDesc})
	for i := 1; i < len(list); i++ {
		assert.True(t, list[i-1].Start.After(list[i].Start))
	}
}

func TestSortByTitle(t *testing.T) {
	list := sample(3)
	Sort(list, SortOptions{OrderBy: OrderByTitle})
	assert.Equal(t, []string{"event 01", "event 02", "event 03"}, []string{list[0].Title, list[1].Title, list[2].Title})
}

func TestSortIsStableOnEqualKeys(t *testing.T) {
	s := utc(2024, 3, 1, 10)
	list := []model.Occurrence{
		{EventID: 1, Start: s},
		{EventID: 2, Start: s},
		{EventID: 3, Start: s},
	}
	Sort(list, SortOptions{OrderBy: OrderByStart})
	assert.Equal(t, []int64{1, 2, 3}, []int64{list[0].EventID, list[1].EventID, list[2].EventID})
}

func TestSortComparesRenderedText(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 11:00 New York is 16:00 UTC, later than 12:00 UTC as an instant, but
	// its rendered wall clock sorts first.
	list := []model.Occurrence{
		{EventID: 1, Start: utc(2024, 3, 1, 12)},
		{EventID: 2, Start: time.Date(2024, 3, 1, 11, 0, 0, 0, ny)},
	}
	Sort(list, SortOptions{})
	assert.Equal(t, int64(2), list[0].EventID)
}

func TestPaginateTotals(t *testing.T) {
	const n, per = 23, 5
	list := sample(n)

	seen := make(map[int64]bool)
	var rebuilt []model.Occurrence
	for page := 1; page <= 5; page++ {
		items, p := Paginate(list, page, per)
		assert.Equal(t, n, p.Total)
		assert.Equal(t, 5, p.TotalPages)
		assert.Equal(t, per, p.PerPage)
		assert.Equal(t, page, p.Current)
		for _, o := range items {
			assert.False(t, seen[o.EventID], "duplicate %d", o.EventID)
			seen[o.EventID] = true
		}
		rebuilt = append(rebuilt, items...)
	}
	assert.Equal(t, list, rebuilt)

	items, p := Paginate(list, 6, per)
	assert.Empty(t, items)
	assert.Equal(t, n, p.Total)
}

func TestPaginateHugePage(t *testing.T) {
	list := sample(30)
	for _, page := range []int{1 << 62, math.MaxInt} {
		items, p := Paginate(list, page, DefaultPerPage)
		assert.Empty(t, items)
		assert.Equal(t, 30, p.Total)
		assert.Equal(t, page, p.Current)
	}
	items, p := Paginate(list, 1, math.MaxInt)
	assert.Len(t, items, 30)
	assert.Equal(t, 1, p.TotalPages)
	items, _ = Paginate(list, 1<<40, math.MaxInt)
	assert.Empty(t, items)
}

func TestPaginateDefaults(t *testing.T) {
	items, p := Paginate(sample(30), 0, 0)
	assert.Len(t, items, DefaultPerPage)
	assert.Equal(t, 2, p.TotalPages)
	assert.Equal(t, 1, p.Current)

	items, p = Paginate(nil, 1, 10)
	assert.Empty(t, items)
	assert.Equal(t, 0, p.TotalPages)
}

func TestFilter(t *testing.T) {
	list := sample(10)
	r := model.QueryRange{Start: ptr(utc(2024, 3, 3, 0)), End: ptr(utc(2024, 3, 5, 23))}

	got := Filter(list, r)
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[0].EventID)
	assert.Len(t, Filter(list, model.QueryRange{}), 10)
}
