package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/kansoku/internal/hub"
	"github.com/ashita-ai/kansoku/internal/priority"
	"github.com/ashita-ai/kansoku/internal/ratelimit"
	"github.com/ashita-ai/kansoku/internal/sessions"
	"github.com/ashita-ai/kansoku/internal/storage"
	"github.com/ashita-ai/kansoku/internal/timeline"
)

// Server is the Kansoku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Limiter is optional (nil = no rate limiting).
type ServerConfig struct {
	DB            *storage.DB
	Engine        *priority.Engine
	Aggregator    *sessions.Aggregator
	Reconstructor *timeline.Reconstructor
	Hub           *hub.Hub
	Logger        *slog.Logger

	Limiter ratelimit.Limiter

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	ObserverQueueSize   int
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		Engine:              cfg.Engine,
		Aggregator:          cfg.Aggregator,
		Reconstructor:       cfg.Reconstructor,
		Hub:                 cfg.Hub,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		ObserverQueueSize:   cfg.ObserverQueueSize,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Rate limit rules. Ingestion and polling are separated so a chatty
	// hook cannot starve the coordination bus.
	ingestRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{Prefix: "ingest"}, ratelimit.IPKeyFunc, reqIDFunc)
	queryRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{Prefix: "query"}, ratelimit.IPKeyFunc, reqIDFunc)
	pollRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{Prefix: "poll"}, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Event ingestion and retrieval.
	mux.Handle("POST /events", ingestRL(http.HandlerFunc(h.HandleSubmitEvent)))
	mux.Handle("GET /events/recent", queryRL(http.HandlerFunc(h.HandleRecentEvents)))
	mux.Handle("GET /events/filter-options", queryRL(http.HandlerFunc(h.HandleFilterOptions)))
	mux.Handle("GET /events/session/{session_id}", queryRL(http.HandlerFunc(h.HandleSessionEvents)))

	// Subagent registry and message ledger.
	mux.Handle("POST /subagents/register", ingestRL(http.HandlerFunc(h.HandleRegisterSubagent)))
	mux.Handle("POST /subagents/message", ingestRL(http.HandlerFunc(h.HandleSendMessage)))
	mux.Handle("POST /subagents/unread", pollRL(http.HandlerFunc(h.HandleUnreadMessages)))
	mux.Handle("POST /subagents/completion", ingestRL(http.HandlerFunc(h.HandleReportCompletion)))
	mux.Handle("POST /subagents/prompt", ingestRL(http.HandlerFunc(h.HandleUpdatePrompt)))
	mux.Handle("GET /subagents/{session_id}", queryRL(http.HandlerFunc(h.HandleListSubagents)))

	// Session aggregation and timelines.
	mux.Handle("GET /sessions", queryRL(http.HandlerFunc(h.HandleSessionWindow)))
	mux.Handle("POST /sessions/details", queryRL(http.HandlerFunc(h.HandleSessionDetails)))
	mux.Handle("POST /sessions/compare", queryRL(http.HandlerFunc(h.HandleSessionCompare)))
	mux.Handle("GET /sessions/{session_id}/timeline", queryRL(http.HandlerFunc(h.HandleSessionTimeline)))

	// Live channel (no rate limit — long-lived connection).
	mux.HandleFunc("GET /stream", h.HandleStream)

	// Admin priority recovery.
	mux.Handle("POST /admin/priority/backup", queryRL(http.HandlerFunc(h.HandleBackupPriority)))
	mux.Handle("POST /admin/priority/restore", queryRL(http.HandlerFunc(h.HandleRestorePriority)))

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handlers returns the underlying Handlers for use in tests.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
