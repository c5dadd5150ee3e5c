package occurrence

import (
	"sort"
	"time"

	"evcal/internal/model"
)

type OrderBy string

const (
	OrderByStart OrderBy = "start"
	OrderByEnd   OrderBy = "end"
	OrderByTitle OrderBy = "title"
)

type Order string

const (
	OrderAsc  Order = "ASC"
	OrderDesc Order = "DESC"
)

const (
	DefaultPerPage = 20
	DefaultPage    = 1
)

// SortOptions selects the sort field and direction. Zero values mean
// start/ASC.
type SortOptions struct {
	OrderBy OrderBy
	Order   Order
}

// Filter keeps the occurrences overlapping r, preserving order.
func Filter(list []model.Occurrence, r model.QueryRange) []model.Occurrence {
	if r.Unbounded() {
		return list
	}
	out := list[:0:0]
	for _, o := range list {
		if Overlaps(o.Start, o.End, r) {
			out = append(out, o)
		}
	}
	return out
}

// Sort orders list in place by the string form of the selected field.
// Times compare as RFC 3339 text, not as instants, so occurrences in
// different zones sort by their rendered wall clock. Equal keys keep
// their input order.
func Sort(list []model.Occurrence, opts SortOptions) {
	key := sortKey(opts.OrderBy)
	desc := opts.Order == OrderDesc

	sort.SliceStable(list, func(i, j int) bool {
		a, b := key(list[i]), key(list[j])
		if desc {
			return a > b
		}
		return a < b
	})
}

func sortKey(by OrderBy) func(model.Occurrence) string {
	switch by {
	case OrderByEnd:
		return func(o model.Occurrence) string { return o.End.Format(time.RFC3339) }
	case OrderByTitle:
		return func(o model.Occurrence) string { return o.Title }
	default:
		return func(o model.Occurrence) string { return o.Start.Format(time.RFC3339) }
	}
}

// Paginate returns the page-th slice of perPage items from list along with
// totals computed over the whole list. Non-positive arguments take their
// defaults. A page past the end yields an empty slice.
func Paginate(list []model.Occurrence, page, perPage int) ([]model.Occurrence, model.Pagination) {
	if page < 1 {
		page = DefaultPage
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}

	total := len(list)
	p := model.Pagination{
		Total:   total,
		PerPage: perPage,
		Current: page,
	}
	if total > 0 {
		p.TotalPages = (total-1)/perPage + 1
	}

	// Compared in pages so that a huge page never reaches the multiply.
	if page-1 >= p.TotalPages {
		return []model.Occurrence{}, p
	}
	from := (page - 1) * perPage
	return list[from : from+min(perPage, total-from)], p
}
