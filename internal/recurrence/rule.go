// Package recurrence parses the compact recurrence rules stored on events.
//
// Only FREQ (DAILY, WEEKLY, MONTHLY), INTERVAL, COUNT and UNTIL are
// understood. Parsing never fails for a non-blank rule: malformed fields
// fall back to defaults and are reported as warnings.
package recurrence

import (
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"evcal/internal/datetime"
)

// Freq is the closed set of supported frequencies.
type Freq int

const (
	Daily Freq = iota
	Weekly
	Monthly
)

func (f Freq) String() string {
	switch f {
	case Weekly:
		return "WEEKLY"
	case Monthly:
		return "MONTHLY"
	default:
		return "DAILY"
	}
}

func (f Freq) rrule() rrule.Frequency {
	switch f {
	case Weekly:
		return rrule.WEEKLY
	case Monthly:
		return rrule.MONTHLY
	default:
		return rrule.DAILY
	}
}

// Rule is a normalized recurrence rule. Count == 0 and a zero Until mean
// the respective bound is absent.
type Rule struct {
	Freq     Freq
	Interval int
	Count    int
	Until    time.Time
}

// HasCount reports whether the rule is bounded by occurrence count.
func (r Rule) HasCount() bool { return r.Count > 0 }

// HasUntil reports whether the rule is bounded by an UNTIL instant.
func (r Rule) HasUntil() bool { return !r.Until.IsZero() }

// Unbounded reports whether neither COUNT nor UNTIL bounds the rule.
func (r Rule) Unbounded() bool { return !r.HasCount() && !r.HasUntil() }

// String renders the rule in canonical RRULE form.
func (r Rule) String() string {
	opt := rrule.ROption{
		Freq:     r.Freq.rrule(),
		Interval: r.Interval,
		Count:    r.Count,
	}
	if r.HasUntil() {
		opt.Until = r.Until.UTC()
	}
	return opt.RRuleString()
}

// Warning records a field that was coerced to its default.
type Warning struct {
	Field string `json:"field"`
	Value string `json:"value"`
	Msg   string `json:"message"`
}

func (w Warning) String() string {
	return w.Field + "=" + strconv.Quote(w.Value) + ": " + w.Msg
}

// Result is a parsed rule together with every coercion applied to it, so
// that callers can tell "explicitly daily" apart from "defaulted to daily".
type Result struct {
	Rule     Rule
	Warnings []Warning
}

// Coerced reports whether any field fell back to a default.
func (r Result) Coerced() bool { return len(r.Warnings) > 0 }

const prefix = "RRULE:"

// Parse parses s into a rule. It returns ok=false only for blank input;
// every other input yields some rule. UNTIL values without an offset are
// read in loc.
func Parse(s string, loc *time.Location) (Result, bool) {
	s = strings.TrimSpace(s)
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		s = strings.TrimSpace(s[len(prefix):])
	}
	if s == "" {
		return Result{}, false
	}

	res := Result{Rule: Rule{Freq: Daily, Interval: 1}}
	warn := func(field, value, msg string) {
		res.Warnings = append(res.Warnings, Warning{Field: field, Value: value, Msg: msg})
	}

	for _, tok := range strings.Split(s, ";") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		key, value, found := strings.Cut(tok, "=")
		if !found {
			warn("", tok, "malformed token ignored")
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "FREQ":
			switch strings.ToUpper(value) {
			case "DAILY":
				res.Rule.Freq = Daily
			case "WEEKLY":
				res.Rule.Freq = Weekly
			case "MONTHLY":
				res.Rule.Freq = Monthly
			default:
				warn(key, value, "unsupported frequency, keeping "+res.Rule.Freq.String())
			}
		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				res.Rule.Interval = 1
				warn(key, value, "interval coerced to 1")
				continue
			}
			res.Rule.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				res.Rule.Count = 0
				warn(key, value, "count ignored")
				continue
			}
			res.Rule.Count = n
		case "UNTIL":
			t, err := datetime.Parse(value, loc)
			if err != nil {
				res.Rule.Until = time.Time{}
				warn(key, value, "until ignored")
				continue
			}
			res.Rule.Until = t
		}
	}

	return res, true
}
