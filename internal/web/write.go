package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"evcal/internal/datetime"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/store"
)

// eventInput is the JSON body of POST /events and PUT /event/{id}.
type eventInput struct {
	Title          string   `json:"title" validate:"required"`
	Status         string   `json:"status" validate:"omitempty,oneof=publish draft pending private"`
	Start          string   `json:"start" validate:"required"`
	End            string   `json:"end"`
	AllDay         bool     `json:"all_day"`
	Timezone       string   `json:"timezone"`
	Recurrence     string   `json:"recurrence"`
	Location       string   `json:"location"`
	Description    string   `json:"description"`
	Cost           string   `json:"cost"`
	Categories     []string `json:"categories"`
	OrganizationID int64    `json:"organization_id" validate:"min=0"`
	Thumbnail      string   `json:"thumbnail" validate:"omitempty,url"`
	Permalink      string   `json:"permalink" validate:"omitempty,url"`
}

func (in eventInput) event(id int64) model.Event {
	return model.Event{
		ID:             id,
		Title:          in.Title,
		Status:         in.Status,
		Start:          in.Start,
		End:            in.End,
		AllDay:         in.AllDay,
		Timezone:       in.Timezone,
		Recurrence:     in.Recurrence,
		Location:       in.Location,
		Description:    in.Description,
		Cost:           in.Cost,
		Categories:     in.Categories,
		OrganizationID: in.OrganizationID,
		Thumbnail:      in.Thumbnail,
		Permalink:      in.Permalink,
	}
}

type categoriesInput struct {
	Categories []string `json:"categories" validate:"required"`
}

// decodeBody reads a JSON body into dst and validates it.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParam, "invalid JSON body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		pe := validationError(err)
		writeError(w, http.StatusBadRequest, codeInvalidParam, pe.Error())
		return false
	}
	return true
}

// checkStart rejects starts the expander could never use. Stored events
// with bad dates are tolerated, but the API does not create new ones.
func (s *Server) checkStart(w http.ResponseWriter, in eventInput) bool {
	loc := datetime.LoadLocation(in.Timezone, s.cfg.Location())
	if _, err := datetime.Parse(in.Start, loc); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParam, "start: must be ISO 8601 or epoch seconds")
		return false
	}
	return true
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in eventInput
	if !s.decodeBody(w, r, &in) || !s.checkStart(w, in) {
		return
	}

	ev, err := s.writer.Create(r.Context(), in.event(0))
	if err != nil {
		s.writeStoreError(w, err, 0)
		return
	}
	appLog.Info("event created", "event_id", ev.ID, "title", ev.Title)
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}
	var in eventInput
	if !s.decodeBody(w, r, &in) || !s.checkStart(w, in) {
		return
	}

	ev, err := s.writer.Update(r.Context(), in.event(id))
	if err != nil {
		s.writeStoreError(w, err, id)
		return
	}
	appLog.Info("event updated", "event_id", ev.ID)
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}
	if err := s.writer.Delete(r.Context(), id); err != nil {
		s.writeStoreError(w, err, id)
		return
	}
	appLog.Info("event deleted", "event_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetCategories(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}
	var in categoriesInput
	if !s.decodeBody(w, r, &in) {
		return
	}
	if err := s.writer.SetCategories(r.Context(), id, in.Categories); err != nil {
		s.writeStoreError(w, err, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleToggleFavorite flips the caller's favorite flag. The event version
// is bumped because cached pages carry per-user favorite flags.
func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if _, err := s.writer.Get(ctx, id); err != nil {
		s.writeStoreError(w, err, id)
		return
	}

	fav := s.favorites.Toggle(ctx, s.userID(r), id)
	s.svc.Invalidate(ctx, "favorite", id)

	writeJSON(w, http.StatusOK, struct {
		ID       int64 `json:"id"`
		Favorite bool  `json:"favorite"`
	}{id, fav})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, id int64) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "event not found")
	case errors.Is(err, store.ErrExists):
		writeError(w, http.StatusConflict, codeInvalidParam, "event already exists")
	default:
		appLog.Error("event write failed", err, "event_id", id)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to write event")
	}
}
