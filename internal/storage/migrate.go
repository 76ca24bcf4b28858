package storage

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// RunMigrations executes unapplied SQL migration files from the provided
// filesystem in order. It tracks applied migrations in a schema_migrations
// table so each file runs at most once. Forward-only: migration files create
// the base schema and never alter existing columns — additive evolution is
// EvolveSchema's job.
func (db *DB) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	// Ensure the tracking table exists. This is idempotent.
	if _, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	applied, err := db.loadAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("storage: load applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("storage: read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		name := entry.Name()
		if applied[name] {
			db.logger.Debug("migration already applied, skipping", "file", name)
			continue
		}

		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("storage: read migration %s: %w", name, err)
		}

		db.logger.Info("running migration", "file", name)
		if _, err := db.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("storage: execute migration %s: %w", name, err)
		}

		if _, err := db.pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name,
		); err != nil {
			return fmt.Errorf("storage: record migration %s: %w", name, err)
		}
	}

	return nil
}

// loadAppliedMigrations returns the set of migration filenames already
// recorded in the schema_migrations table.
func (db *DB) loadAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := db.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// evolveStatements are the additive schema changes applied on every startup.
// Each statement must be safe to re-run: ADD COLUMN IF NOT EXISTS and
// CREATE INDEX IF NOT EXISTS only. Never drop, never rename.
var evolveStatements = []string{
	`ALTER TABLE events ADD COLUMN IF NOT EXISTS priority INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE events ADD COLUMN IF NOT EXISTS priority_metadata JSONB`,
	`CREATE INDEX IF NOT EXISTS idx_events_priority ON events (priority, created_at DESC)`,
}

// EvolveSchema applies the additive evolution pass. A failure here is not
// fatal for an existing store: the caller logs it and the store continues in
// degraded (pre-evolution) mode, decided by ProbePrioritySchema.
func (db *DB) EvolveSchema(ctx context.Context) error {
	for _, stmt := range evolveStatements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("storage: evolve schema: %w", err)
		}
	}
	return nil
}

// ProbePrioritySchema checks once whether the priority columns exist and
// records the result on the DB. All priority-aware read paths consult the
// recorded flag instead of probing per call.
func (db *DB) ProbePrioritySchema(ctx context.Context) error {
	var present bool
	err := db.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = 'public'
			  AND table_name = 'events'
			  AND column_name = 'priority'
		)
	`).Scan(&present)
	if err != nil {
		return fmt.Errorf("storage: probe priority schema: %w", err)
	}
	db.hasPriority = present
	if !present {
		db.logger.Warn("priority columns absent, retrieval degrades to unclassified")
	}
	return nil
}

// HasPrioritySchema reports the result of the startup probe.
func (db *DB) HasPrioritySchema() bool {
	return db.hasPriority
}
