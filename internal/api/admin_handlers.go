package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bauki/assistant-backend/internal/apperr"
	"github.com/bauki/assistant-backend/internal/store"
)

func (h *Handler) ListFeedback(w http.ResponseWriter, r *http.Request) {
	items, err := h.feedback.List(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if items == nil {
		items = []store.Feedback{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) DeleteFeedback(w http.ResponseWriter, r *http.Request) {
	if err := h.feedback.Delete(r.Context(), IdentityFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats reads the optional start_date and end_date query parameters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	start, err := parseDate(r.URL.Query().Get("start_date"), false)
	if err != nil {
		writeError(w, r, h.log, apperr.Validation("start_date must be an RFC 3339 timestamp or YYYY-MM-DD"))
		return
	}
	end, err := parseDate(r.URL.Query().Get("end_date"), true)
	if err != nil {
		writeError(w, r, h.log, apperr.Validation("end_date must be an RFC 3339 timestamp or YYYY-MM-DD"))
		return
	}
	out, err := h.stats.Stats(r.Context(), IdentityFrom(r.Context()), start, end)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// parseDate accepts RFC 3339 or a bare date. A bare end date covers the
// whole day.
func parseDate(s string, end bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}
