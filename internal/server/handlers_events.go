package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/kansoku/internal/config"
	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/priority"
)

// HandleSubmitEvent handles POST /events. The event is classified, persisted
// and fanned out; broadcast failures never surface to the submitter.
func (h *Handlers) HandleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitEventRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	now := time.Now().UTC()
	ev := model.Event{
		SourceApp: req.SourceApp,
		SessionID: req.SessionID,
		EventType: req.EventType,
		Payload:   req.Payload,
		Chat:      req.Chat,
		Summary:   req.Summary,
		Timestamp: now,
	}
	if req.Timestamp != nil {
		ev.Timestamp = req.Timestamp.UTC()
	}
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}
	ev.Priority = priority.Classify(ev.EventType, ev.Payload)
	ev.PriorityMetadata = priority.Metadata(ev.EventType, ev.Priority, now)

	stored, err := h.db.InsertEvent(r.Context(), ev)
	if err != nil {
		h.writeInternalError(w, r, "failed to store event", err)
		return
	}

	info := h.engine.Info(r.Context(), config.LoadPriority())
	h.hub.PublishEvent(stored, &info)

	writeJSON(w, r, http.StatusCreated, stored)
}

// HandleRecentEvents handles GET /events/recent?limit=&priority=.
// priority=false forces plain newest-N retrieval; the default is the
// priority-aware path, which itself degrades on an older store.
func (h *Handlers) HandleRecentEvents(w http.ResponseWriter, r *http.Request) {
	cfg := config.LoadPriority()
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be a positive integer")
			return
		}
		cfg.TotalLimit = n
	}

	priorityAware := true
	if v := r.URL.Query().Get("priority"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "priority must be a boolean")
			return
		}
		priorityAware = b
	}

	var (
		events []model.Event
		err    error
	)
	if priorityAware {
		events, err = h.engine.Recent(r.Context(), cfg)
	} else {
		events, err = h.db.RecentEvents(r.Context(), cfg.TotalLimit)
	}
	if err != nil {
		h.writeInternalError(w, r, "failed to load events", err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, r, http.StatusOK, events)
}

// HandleFilterOptions handles GET /events/filter-options.
func (h *Handlers) HandleFilterOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := h.db.FilterOptions(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to load filter options", err)
		return
	}
	writeJSON(w, r, http.StatusOK, opts)
}

// HandleSessionEvents handles GET /events/session/{session_id}?event_types=a,b.
func (h *Handlers) HandleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id is required")
		return
	}

	var eventTypes []string
	if v := r.URL.Query().Get("event_types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				eventTypes = append(eventTypes, t)
			}
		}
	}

	events, err := h.engine.Session(r.Context(), sessionID, eventTypes, config.LoadPriority())
	if err != nil {
		h.writeInternalError(w, r, "failed to load session events", err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, r, http.StatusOK, events)
}
