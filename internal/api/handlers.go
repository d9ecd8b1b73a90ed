package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"camstore/internal/model"
	"camstore/internal/station"
)

// FlagRequest is the body of a flag edit.
type FlagRequest struct {
	Field string `json:"field" validate:"required,oneof=favorite to_be_deleted"`
	Value *bool  `json:"value" validate:"required"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"station_id": s.stationID,
	})
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	var obs station.Observation
	if !s.decodeBody(w, r, &obs) {
		return
	}
	entry, err := s.station.Ingest(r.Context(), obs)
	if err != nil {
		s.respondStationError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) collection(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.liveKind(w, r)
	if !ok {
		return
	}
	files, err := s.station.Collection(kind)
	if err != nil {
		s.respondStationError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, files)
}

// setFlag queues a flag edit. The edit is applied by the queue consumer, so
// success is 202 Accepted.
func (s *Server) setFlag(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return
	}
	key, err := model.NewKey(kind, r.URL.Query().Get("date"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return
	}

	var req FlagRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.station.EnqueueFlagChange(key, id, req.Field, *req.Value); err != nil {
		s.respondStationError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]any{
		"key":   key.String(),
		"id":    id,
		"field": req.Field,
		"value": *req.Value,
	})
}

func (s *Server) listBackups(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.station.ListSnapshots()
	if err != nil {
		s.respondStationError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, snapshots)
}

func (s *Server) getBackup(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if !model.ValidDate(date) {
		s.respondError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("invalid date %q, want YYYYMMDD", date), nil)
		return
	}
	doc, err := s.station.Snapshot(date)
	if errors.Is(err, station.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, CodeNotFound, "no backup for "+date, nil)
		return
	}
	if err != nil {
		s.respondStationError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) triggerBackup(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date != "" && !model.ValidDate(date) {
		s.respondError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("invalid date %q, want YYYYMMDD", date), nil)
		return
	}
	result, err := s.station.TriggerBackup(r.Context(), date)
	if err != nil {
		s.respondStationError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) triggerCleanup(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return
	}
	q := r.URL.Query()
	date := q.Get("date")
	if _, err := model.NewKey(kind, date); err != nil {
		s.respondError(w, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return
	}
	orphans, err := boolParam(q.Get("orphans"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, CodeBadRequest, "orphans must be a boolean", nil)
		return
	}

	result, err := s.station.TriggerCleanup(r.Context(), kind, date, orphans)
	if err != nil {
		s.respondStationError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			s.respondError(w, http.StatusBadRequest, CodeBadRequest, "limit must be between 1 and 1000", nil)
			return
		}
		limit = n
	}
	ops, err := s.station.History(limit)
	if err != nil {
		s.respondStationError(w, err)
		return
	}
	if ops == nil {
		ops = []*station.Operation{}
	}
	s.respondJSON(w, http.StatusOK, ops)
}

// liveKind reads the {kind} parameter of a working-set route.
func (s *Server) liveKind(w http.ResponseWriter, r *http.Request) (model.Kind, bool) {
	kind, err := model.ParseKind(chi.URLParam(r, "kind"))
	if err == nil && kind == model.KindBackup {
		err = fmt.Errorf("backups are read from /api/v1/backups/{date}")
	}
	if err != nil {
		s.respondError(w, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return "", false
	}
	return kind, true
}

// respondStationError maps service errors to status codes.
func (s *Server) respondStationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, station.ErrEntryNotFound):
		s.respondError(w, http.StatusNotFound, CodeNotFound, err.Error(), nil)
	case errors.Is(err, station.ErrNotFound):
		s.respondError(w, http.StatusNotFound, CodeNotFound, err.Error(), nil)
	case errors.Is(err, station.ErrDuplicateEntry):
		s.respondError(w, http.StatusConflict, CodeConflict, err.Error(), nil)
	case errors.Is(err, model.ErrUnknownField):
		s.respondError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
	case errors.Is(err, station.ErrLockTimeout), errors.Is(err, station.ErrStoreClosed):
		s.respondError(w, http.StatusServiceUnavailable, CodeUnavailable, err.Error(), err)
	default:
		s.respondError(w, http.StatusInternalServerError, CodeInternal, "internal error", err)
	}
}

func boolParam(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
