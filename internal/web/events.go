package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"evcal/internal/calendar"
	appLog "evcal/internal/log"
)

// handleEvents returns one page of expanded occurrences.
//
// GET /events?start=&end=&category=&org=&favorites=&page=&per_page=&orderby=&order=&event_id=
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r, true)
	if err != nil {
		writeParamError(w, err)
		return
	}

	page, err := s.svc.Events(r.Context(), q)
	if err != nil {
		appLog.Error("events query failed", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to load events")
		return
	}

	w.Header().Set("X-WP-Total", strconv.Itoa(page.Pagination.Total))
	w.Header().Set("X-WP-TotalPages", strconv.Itoa(page.Pagination.TotalPages))
	writeJSON(w, http.StatusOK, page)
}

// handleEventsICS exports every matching occurrence as an iCalendar file.
func (s *Server) handleEventsICS(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r, false)
	if err != nil {
		writeParamError(w, err)
		return
	}

	all, err := s.svc.All(r.Context(), q)
	if err != nil {
		appLog.Error("calendar export failed", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to load events")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events.ics"`)
	w.WriteHeader(http.StatusOK)
	if err := s.ics.WriteTo(w, all); err != nil {
		appLog.Error("failed to write calendar export", err)
	}
}

// handleEvent returns one published event with its full expansion.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}

	d, err := s.svc.Event(r.Context(), id, s.userID(r))
	if err != nil {
		if calendar.IsNotFound(err) {
			writeError(w, http.StatusNotFound, codeNotFound, "event not found")
			return
		}
		appLog.Error("event lookup failed", err, "event_id", id)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to load event")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func eventID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, codeNotFound, "event not found")
		return 0, false
	}
	return id, true
}

func writeParamError(w http.ResponseWriter, err error) {
	var pe *paramError
	if errors.As(err, &pe) {
		writeError(w, http.StatusBadRequest, codeInvalidParam, pe.Error())
		return
	}
	writeError(w, http.StatusBadRequest, codeInvalidParam, err.Error())
}
