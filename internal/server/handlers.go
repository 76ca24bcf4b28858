package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/kansoku/internal/hub"
	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/priority"
	"github.com/ashita-ai/kansoku/internal/sessions"
	"github.com/ashita-ai/kansoku/internal/storage"
	"github.com/ashita-ai/kansoku/internal/timeline"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	engine              *priority.Engine
	aggregator          *sessions.Aggregator
	reconstructor       *timeline.Reconstructor
	hub                 *hub.Hub
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	observerQueueSize   int
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB                  *storage.DB
	Engine              *priority.Engine
	Aggregator          *sessions.Aggregator
	Reconstructor       *timeline.Reconstructor
	Hub                 *hub.Hub
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	ObserverQueueSize   int
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		engine:              d.Engine,
		aggregator:          d.Aggregator,
		reconstructor:       d.Reconstructor,
		hub:                 d.Hub,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		observerQueueSize:   d.ObserverQueueSize,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Postgres:  "ok",
		Schema:    "full",
		Observers: h.hub.Observers(),
		Uptime:    int64(time.Since(h.startedAt).Seconds()),
	}
	if err := h.db.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Postgres = "unreachable"
	}
	if !h.db.HasPrioritySchema() {
		resp.Schema = "degraded"
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// writeInternalError logs the cause and hides it from the client.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}
