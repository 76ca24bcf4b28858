package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kansoku/internal/config"
	"github.com/ashita-ai/kansoku/internal/hub"
	"github.com/ashita-ai/kansoku/internal/priority"
	"github.com/ashita-ai/kansoku/internal/ratelimit"
	"github.com/ashita-ai/kansoku/internal/server"
	"github.com/ashita-ai/kansoku/internal/sessions"
	"github.com/ashita-ai/kansoku/internal/storage"
	"github.com/ashita-ai/kansoku/internal/telemetry"
	"github.com/ashita-ai/kansoku/internal/timeline"
	"github.com/ashita-ai/kansoku/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KANSOKU_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("kansoku starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()
	db.SetSlowQueryThreshold(cfg.SlowQueryThreshold)

	// Base migrations. A failure is fatal only on a fresh store — an
	// existing store keeps serving with whatever schema it has.
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		fresh, probeErr := missingEventsTable(ctx, db)
		if probeErr != nil || fresh {
			return fmt.Errorf("migrations on fresh store: %w", err)
		}
		slog.Warn("migrations failed on existing store, continuing", "error", err)
	}

	// Additive evolution (priority columns). Non-fatal: the probe below
	// decides whether reads run full or degraded.
	if err := db.EvolveSchema(ctx); err != nil {
		slog.Warn("schema evolution failed, store may run degraded", "error", err)
	}
	if err := db.ProbePrioritySchema(ctx); err != nil {
		slog.Warn("priority schema probe failed, assuming degraded store", "error", err)
	}

	// Assemble the core.
	broadcaster := hub.New(logger)
	engine := priority.NewEngine(db, logger)
	aggregator := sessions.NewAggregator(db, logger)
	reconstructor := timeline.NewReconstructor(engine, db, logger)

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		memLimiter := ratelimit.NewMemoryLimiter(10, 300)
		defer func() { _ = memLimiter.Close() }()
		limiter = memLimiter
		logger.Info("rate limiting: memory (in-process token bucket)")
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		Engine:              engine,
		Aggregator:          aggregator,
		Reconstructor:       reconstructor,
		Hub:                 broadcaster,
		Logger:              logger,
		Limiter:             limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		ObserverQueueSize:   cfg.ObserverQueueSize,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Background idle-termination sweep. Registration also sweeps inline,
	// so this loop only catches agents in sessions that went fully quiet.
	g.Go(func() error {
		sweepLoop(gctx, db, broadcaster, logger, cfg.SweepInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("kansoku shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("kansoku stopped")
	return nil
}

// missingEventsTable reports whether the base events table is absent,
// distinguishing a fresh store from a broken migration on an existing one.
func missingEventsTable(ctx context.Context, db *storage.DB) (bool, error) {
	var exists bool
	err := db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'events')`,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

func sweepLoop(ctx context.Context, db *storage.DB, broadcaster *hub.Hub, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := db.TerminateIdle(ctx)
			if err != nil {
				logger.Warn("idle sweep failed", "error", err)
				continue
			}
			for _, a := range swept {
				broadcaster.PublishSubagent(a.SessionID, map[string]any{
					"action":     "terminated",
					"session_id": a.SessionID,
					"name":       a.Name,
				})
			}
			if len(swept) > 0 {
				logger.Info("idle subagents terminated", "count", len(swept))
			}
		}
	}
}
