package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// BackupPriority snapshots every event's non-default priority state into the
// priority_recovery table under a fresh snapshot id, then clears the live
// columns. The snapshot and the clear share a transaction: either both happen
// or neither does. Returns the snapshot id and the number of rows captured.
func (db *DB) BackupPriority(ctx context.Context) (uuid.UUID, int64, error) {
	if !db.hasPriority {
		return uuid.Nil, 0, ErrDegradedSchema
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("storage: begin backup tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS priority_recovery (
			snapshot_id UUID NOT NULL,
			event_id BIGINT NOT NULL,
			priority INTEGER NOT NULL,
			priority_metadata JSONB,
			backed_up_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (snapshot_id, event_id)
		)`); err != nil {
		return uuid.Nil, 0, fmt.Errorf("storage: create priority_recovery: %w", err)
	}

	snapshotID := uuid.New()
	tag, err := tx.Exec(ctx, `
		INSERT INTO priority_recovery (snapshot_id, event_id, priority, priority_metadata)
		SELECT $1, id, priority, priority_metadata
		FROM events
		WHERE priority <> 0 OR priority_metadata IS NOT NULL`,
		snapshotID,
	)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("storage: snapshot priorities: %w", err)
	}
	count := tag.RowsAffected()

	if _, err := tx.Exec(ctx, `
		UPDATE events SET priority = 0, priority_metadata = NULL
		WHERE priority <> 0 OR priority_metadata IS NOT NULL`,
	); err != nil {
		return uuid.Nil, 0, fmt.Errorf("storage: clear priorities: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, 0, fmt.Errorf("storage: commit backup tx: %w", err)
	}

	db.logger.Info("priority state backed up", "snapshot_id", snapshotID, "events", count)
	return snapshotID, count, nil
}

// RestorePriority replays a snapshot back onto the events table. Events
// deleted since the backup are skipped. Returns the number of events
// restored, or ErrNotFound when the snapshot does not exist.
func (db *DB) RestorePriority(ctx context.Context, snapshotID uuid.UUID) (int64, error) {
	if !db.hasPriority {
		return 0, ErrDegradedSchema
	}

	var exists bool
	err := db.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM priority_recovery WHERE snapshot_id = $1
		)`, snapshotID,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("storage: check snapshot: %w", err)
	}
	if !exists {
		return 0, ErrNotFound
	}

	tag, err := db.pool.Exec(ctx, `
		UPDATE events e
		SET priority = r.priority, priority_metadata = r.priority_metadata
		FROM priority_recovery r
		WHERE r.snapshot_id = $1 AND r.event_id = e.id`,
		snapshotID,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: restore priorities: %w", err)
	}

	db.logger.Info("priority state restored", "snapshot_id", snapshotID, "events", tag.RowsAffected())
	return tag.RowsAffected(), nil
}
