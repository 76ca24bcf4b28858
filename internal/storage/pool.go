// Package storage provides the PostgreSQL storage layer for Kansoku.
//
// It manages connection pooling via pgxpool, forward-only base migrations,
// the additive schema-evolution pass that retrofits priority columns onto
// older stores, and query methods for all tables. The datastore is the sole
// synchronization point for read-modify-write races (unread claims,
// idle-termination sweeps), so every such operation is a single statement or
// a single transaction here — callers never coordinate.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgxpool.Pool plus the probed schema capabilities.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	// hasPriority is probed once after migration, not per call. When false
	// all priority-aware read paths silently degrade to unclassified
	// retrieval.
	hasPriority bool

	// slowQueryThreshold triggers advisory logging on read paths.
	// Diagnostics only; queries are never aborted.
	slowQueryThreshold time.Duration
}

// New creates a new DB with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{
		pool:               pool,
		logger:             logger,
		slowQueryThreshold: 500 * time.Millisecond,
	}, nil
}

// SetSlowQueryThreshold overrides the advisory slow-query logging threshold.
func (db *DB) SetSlowQueryThreshold(d time.Duration) {
	if d > 0 {
		db.slowQueryThreshold = d
	}
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// logSlow emits an advisory log line when a read path exceeds the slow-query
// threshold. Call with defer: defer db.logSlow("recent events", time.Now()).
func (db *DB) logSlow(op string, start time.Time) {
	if elapsed := time.Since(start); elapsed > db.slowQueryThreshold {
		db.logger.Warn("slow query", "op", op, "elapsed_ms", elapsed.Milliseconds())
	}
}
