package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/kansoku/internal/config"
	"github.com/ashita-ai/kansoku/internal/model"
)

// HandleSessionWindow handles GET /sessions?start=&end=&limit=. start and end
// are RFC 3339; the defaults cover the last 24 hours.
func (h *Handlers) HandleSessionWindow(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	start := now.Add(-24 * time.Hour)
	end := now
	limit := 50

	q := r.URL.Query()
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "start must be RFC 3339")
			return
		}
		start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "end must be RFC 3339")
			return
		}
		end = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if end.Before(start) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "end must not precede start")
		return
	}

	summaries, err := h.aggregator.Window(r.Context(), start, end, limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to load sessions", err)
		return
	}
	writeJSON(w, r, http.StatusOK, summaries)
}

// HandleSessionDetails handles POST /sessions/details.
func (h *Handlers) HandleSessionDetails(w http.ResponseWriter, r *http.Request) {
	var req model.SessionDetailsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	details, err := h.aggregator.Details(r.Context(), req)
	if err != nil {
		h.writeInternalError(w, r, "failed to load session details", err)
		return
	}
	writeJSON(w, r, http.StatusOK, details)
}

// HandleSessionCompare handles POST /sessions/compare.
func (h *Handlers) HandleSessionCompare(w http.ResponseWriter, r *http.Request) {
	var req model.SessionCompareRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	cmp, err := h.aggregator.Compare(r.Context(), req.SessionIDs)
	if err != nil {
		h.writeInternalError(w, r, "failed to compare sessions", err)
		return
	}
	writeJSON(w, r, http.StatusOK, cmp)
}

// HandleSessionTimeline handles GET /sessions/{session_id}/timeline.
func (h *Handlers) HandleSessionTimeline(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id is required")
		return
	}

	tl, err := h.reconstructor.Build(r.Context(), sessionID, config.LoadPriority())
	if err != nil {
		h.writeInternalError(w, r, "failed to build timeline", err)
		return
	}
	if tl.Entries == nil {
		tl.Entries = []model.TimelineEntry{}
	}
	writeJSON(w, r, http.StatusOK, tl)
}
