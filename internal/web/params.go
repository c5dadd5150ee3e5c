package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"evcal/internal/calendar"
	"evcal/internal/datetime"
	"evcal/internal/occurrence"
)

// eventsParams is the raw /events query after type conversion.
type eventsParams struct {
	Page    int    `validate:"min=1"`
	PerPage int    `validate:"min=1"`
	OrderBy string `validate:"oneof=start end title"`
	Order   string `validate:"oneof=ASC DESC"`
	OrgID   int64  `validate:"min=0"`
	EventID int64  `validate:"min=0"`
}

// paramError is a client error in the query string.
type paramError struct {
	param string
	msg   string
}

func (e *paramError) Error() string {
	return e.param + ": " + e.msg
}

// parseQuery converts the shared filter params and, when paginate is set,
// the pagination params into a calendar.Query.
func (s *Server) parseQuery(r *http.Request, paginate bool) (calendar.Query, error) {
	v := r.URL.Query()
	loc := s.cfg.Location()

	p := eventsParams{
		Page:    occurrence.DefaultPage,
		PerPage: s.cfg.DefaultPerPage,
		OrderBy: string(occurrence.OrderByStart),
		Order:   string(occurrence.OrderAsc),
	}
	if p.PerPage < 1 {
		p.PerPage = occurrence.DefaultPerPage
	}

	var err error
	if p.OrgID, err = int64Param(v, "org"); err != nil {
		return calendar.Query{}, err
	}
	if p.EventID, err = int64Param(v, "event_id"); err != nil {
		return calendar.Query{}, err
	}
	if ob := strings.TrimSpace(v.Get("orderby")); ob != "" {
		p.OrderBy = strings.ToLower(ob)
	}
	if o := strings.TrimSpace(v.Get("order")); o != "" {
		p.Order = strings.ToUpper(o)
	}
	if paginate {
		if n, err := int64Param(v, "page"); err != nil {
			return calendar.Query{}, err
		} else if v.Has("page") {
			p.Page = int(n)
		}
		if n, err := int64Param(v, "per_page"); err != nil {
			return calendar.Query{}, err
		} else if v.Has("per_page") {
			p.PerPage = int(n)
		}
	}

	if err := s.validate.Struct(p); err != nil {
		return calendar.Query{}, validationError(err)
	}
	if paginate && s.cfg.MaxPerPage > 0 && p.PerPage > s.cfg.MaxPerPage {
		return calendar.Query{}, &paramError{"per_page", fmt.Sprintf("must be at most %d", s.cfg.MaxPerPage)}
	}

	q := calendar.Query{
		Categories: categoriesParam(v),
		OrgID:      p.OrgID,
		EventID:    p.EventID,
		UserID:     s.userID(r),
		Page:       p.Page,
		PerPage:    p.PerPage,
		OrderBy:    occurrence.OrderBy(p.OrderBy),
		Order:      occurrence.Order(p.Order),
	}
	if q.Range.Start, err = timeParam(v, "start", loc); err != nil {
		return calendar.Query{}, err
	}
	if q.Range.End, err = timeParam(v, "end", loc); err != nil {
		return calendar.Query{}, err
	}
	if fav := strings.TrimSpace(v.Get("favorites")); fav != "" {
		b, err := strconv.ParseBool(fav)
		if err != nil {
			return calendar.Query{}, &paramError{"favorites", "must be a boolean"}
		}
		q.Favorites = b
	}
	return q, nil
}

func int64Param(v url.Values, name string) (int64, error) {
	s := strings.TrimSpace(v.Get(name))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &paramError{name, "must be an integer"}
	}
	return n, nil
}

// timeParam accepts ISO 8601 or epoch seconds. Values without an offset
// are read in loc.
func timeParam(v url.Values, name string, loc *time.Location) (*time.Time, error) {
	s := strings.TrimSpace(v.Get(name))
	if s == "" {
		return nil, nil
	}
	t, err := datetime.Parse(s, loc)
	if err != nil {
		return nil, &paramError{name, "must be ISO 8601 or epoch seconds"}
	}
	return &t, nil
}

// categoriesParam collects category slugs from repeated and comma-joined
// values.
func categoriesParam(v url.Values) []string {
	var out []string
	for _, raw := range v["category"] {
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out = append(out, c)
			}
		}
	}
	return out
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &paramError{"query", err.Error()}
	}
	e := verrs[0]
	name := paramName(e.Field())
	switch e.Tag() {
	case "min":
		return &paramError{name, "must be at least " + e.Param()}
	case "oneof":
		return &paramError{name, "must be one of: " + e.Param()}
	default:
		return &paramError{name, "is invalid"}
	}
}

func paramName(field string) string {
	switch field {
	case "PerPage":
		return "per_page"
	case "OrderBy":
		return "orderby"
	case "OrgID":
		return "org"
	case "EventID":
		return "event_id"
	default:
		return strings.ToLower(field)
	}
}
