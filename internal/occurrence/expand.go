package occurrence

import (
	"errors"
	"time"

	"evcal/internal/datetime"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/recurrence"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
	defaultMaxIterationsPerEvent  = 100000

	// defaultDuration is applied to timed events whose end is missing.
	defaultDuration = time.Hour

	// rangeSlack lets the cursor run one day past the range end before the
	// loop gives up.
	rangeSlack = 24 * time.Hour
)

// Config controls how recurrence expansion is performed.
type Config struct {
	// DefaultLocation is used for events without a (valid) timezone.
	// If nil, time.UTC is used.
	DefaultLocation *time.Location

	// MaxOccurrencesPerEvent caps the occurrences emitted for one event.
	// If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int

	// MaxIterationsPerEvent caps cursor steps for one event, which matters
	// when a range start lies far after the event start and nothing is
	// emitted for a long time. If zero, defaultMaxIterationsPerEvent is used.
	MaxIterationsPerEvent int
}

// Expander turns stored events into concrete occurrences.
type Expander struct {
	cfg Config
}

// NewExpander applies defaults to cfg and returns an Expander.
func NewExpander(cfg Config) *Expander {
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}
	if cfg.MaxIterationsPerEvent <= 0 {
		cfg.MaxIterationsPerEvent = defaultMaxIterationsPerEvent
	}
	return &Expander{cfg: cfg}
}

// Result is the expansion of a single event.
type Result struct {
	Occurrences []model.Occurrence
	// Truncated is set when a safety cap stopped the expansion early.
	Truncated bool
}

// ExpandResult wraps the merged expansion of many events.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents records ids that hit a safety cap.
	TruncatedEvents []int64
}

// ExpandAll expands every event against r and concatenates the results in
// input order.
func (x *Expander) ExpandAll(events []model.Event, r model.QueryRange) ExpandResult {
	var result ExpandResult
	all := make([]model.Occurrence, 0, len(events))

	for _, ev := range events {
		res := x.Expand(ev, r)
		if res.Truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.ID)
		}
		all = append(all, res.Occurrences...)
	}

	result.Occurrences = all
	return result
}

// Expand produces the occurrences of ev that overlap r, in chronological
// order. An unparsable start yields no occurrences.
func (x *Expander) Expand(ev model.Event, r model.QueryRange) Result {
	var res Result

	loc := datetime.LoadLocation(ev.Timezone, x.cfg.DefaultLocation)

	start, err := datetime.Parse(ev.Start, loc)
	if err != nil {
		appLog.Debug("expand: skipping event with unusable start", "event_id", ev.ID, "start", ev.Start)
		return res
	}

	end, err := datetime.Parse(ev.End, loc)
	if err != nil {
		if ev.AllDay {
			end = start
		} else {
			end = start.Add(defaultDuration)
		}
	}

	parsed, ok := recurrence.Parse(ev.Recurrence, loc)
	if !ok {
		if Overlaps(start, end, r) {
			res.Occurrences = []model.Occurrence{makeOccurrence(ev, start, end, 0, loc)}
		}
		return res
	}
	if parsed.Coerced() {
		appLog.Debug("expand: recurrence rule coerced", "event_id", ev.ID, "rule", ev.Recurrence, "warnings", len(parsed.Warnings))
	}

	return x.expandRecurring(ev, parsed.Rule, start, end, r, loc)
}

func (x *Expander) expandRecurring(ev model.Event, rule recurrence.Rule, start, end time.Time, r model.QueryRange, loc *time.Location) Result {
	var res Result
	out := make([]model.Occurrence, 0)

	curStart, curEnd := start, end
	emitted := 0

	for step := 0; ; step++ {
		if rule.HasCount() && emitted >= rule.Count {
			break
		}
		if rule.HasUntil() && curStart.After(rule.Until) {
			break
		}
		if emitted >= x.cfg.MaxOccurrencesPerEvent || step >= x.cfg.MaxIterationsPerEvent {
			res.Truncated = true
			appLog.Error("expand: truncated occurrences for event due to cap",
				errors.New("max occurrences reached"),
				"event_id", ev.ID,
				"emitted", emitted,
				"steps", step,
			)
			break
		}

		if Overlaps(curStart, curEnd, r) {
			out = append(out, makeOccurrence(ev, curStart, curEnd, emitted, loc))
			emitted++
		}

		curStart, curEnd = advance(curStart, rule), advance(curEnd, rule)

		if r.End != nil && curStart.After(r.End.Add(rangeSlack)) {
			break
		}
	}

	res.Occurrences = out
	return res
}

// advance moves t forward by one period of rule. Calendar arithmetic is
// done in t's location so wall-clock time survives DST changes; month
// overflow normalizes the way time.AddDate does (Jan 31 + 1 month = Mar 2/3).
func advance(t time.Time, rule recurrence.Rule) time.Time {
	n := rule.Interval
	if n < 1 {
		n = 1
	}
	switch rule.Freq {
	case recurrence.Weekly:
		return t.AddDate(0, 0, 7*n)
	case recurrence.Monthly:
		return t.AddDate(0, n, 0)
	default:
		return t.AddDate(0, 0, n)
	}
}

// Overlaps reports whether the interval [s, e] intersects r. Either bound
// of r may be absent; with both absent every interval overlaps.
func Overlaps(s, e time.Time, r model.QueryRange) bool {
	if r.Start != nil && e.Before(*r.Start) {
		return false
	}
	if r.End != nil && s.After(*r.End) {
		return false
	}
	return true
}

// makeOccurrence copies the display fields of ev onto a concrete interval.
func makeOccurrence(ev model.Event, start, end time.Time, index int, loc *time.Location) model.Occurrence {
	cats := ev.Categories
	if cats == nil {
		cats = []string{}
	}
	return model.Occurrence{
		EventID:        ev.ID,
		Title:          ev.Title,
		Start:          start.In(loc),
		End:            end.In(loc),
		AllDay:         ev.AllDay,
		Timezone:       loc.String(),
		Index:          index,
		Location:       ev.Location,
		Description:    ev.Description,
		Cost:           ev.Cost,
		Categories:     cats,
		OrganizationID: ev.OrganizationID,
		Thumbnail:      ev.Thumbnail,
		Permalink:      ev.Permalink,
		Favorite:       ev.Favorite,
	}
}
