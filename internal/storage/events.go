package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kansoku/internal/model"
)

// InsertEvent persists a single event and returns it with id and timestamp
// assigned. The caller (the priority engine) has already fixed the priority
// fields; on a degraded store they are simply not written.
func (db *DB) InsertEvent(ctx context.Context, e model.Event) (model.Event, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var chat any
	if e.Chat != nil {
		chat = e.Chat
	}
	var summary any
	if e.Summary != "" {
		summary = e.Summary
	}

	if db.hasPriority {
		err := db.pool.QueryRow(ctx,
			`INSERT INTO events (source_app, session_id, event_type, payload, chat, summary, created_at, priority, priority_metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id`,
			e.SourceApp, e.SessionID, e.EventType, e.Payload, chat, summary,
			e.Timestamp, e.Priority, e.PriorityMetadata,
		).Scan(&e.ID)
		if err != nil {
			return model.Event{}, fmt.Errorf("storage: insert event: %w", err)
		}
		return e, nil
	}

	// Degraded store: the priority columns do not exist.
	e.Priority = model.TierRegular
	e.PriorityMetadata = nil
	err := db.pool.QueryRow(ctx,
		`INSERT INTO events (source_app, session_id, event_type, payload, chat, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		e.SourceApp, e.SessionID, e.EventType, e.Payload, chat, summary, e.Timestamp,
	).Scan(&e.ID)
	if err != nil {
		return model.Event{}, fmt.Errorf("storage: insert event: %w", err)
	}
	return e, nil
}

// eventColumns is the select list shared by all event queries. The priority
// columns are projected as constants on degraded stores so scanning stays
// uniform.
func (db *DB) eventColumns() string {
	if db.hasPriority {
		return `id, source_app, session_id, event_type, payload, chat, summary, created_at, priority, priority_metadata`
	}
	return `id, source_app, session_id, event_type, payload, chat, summary, created_at, 0 AS priority, NULL::jsonb AS priority_metadata`
}

// RecentEvents returns the newest limit events in ascending timestamp order
// (presentation order). Tier is ignored; this is both the plain retrieval
// path and the degraded-schema fallback.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]model.Event, error) {
	defer db.logSlow("recent events", time.Now())
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM (
			SELECT * FROM events ORDER BY created_at DESC, id DESC LIMIT $1
		 ) recent ORDER BY created_at ASC, id ASC`, db.eventColumns()),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// EventsByTierWindow returns up to limit events of the given tier newer than
// cutoff, newest first. Only valid on stores with the priority schema.
func (db *DB) EventsByTierWindow(ctx context.Context, tier int, cutoff time.Time, limit int) ([]model.Event, error) {
	defer db.logSlow("events by tier window", time.Now())
	if !db.hasPriority {
		return nil, ErrDegradedSchema
	}
	rows, err := db.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM events
		 WHERE priority = $1 AND created_at >= $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`, db.eventColumns()),
		tier, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: events by tier window: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// SessionEvents returns a session's events in ascending order, applying the
// per-tier retention cutoffs (time-bounded, not count-bounded: a session's
// slice is expected to be small). eventTypes narrows the result when
// non-empty. On a degraded store the cutoffs are skipped entirely.
func (db *DB) SessionEvents(ctx context.Context, sessionID string, eventTypes []string, priorityCutoff, regularCutoff time.Time) ([]model.Event, error) {
	defer db.logSlow("session events", time.Now())

	q := `SELECT ` + db.eventColumns() + ` FROM events WHERE session_id = $1`
	args := []any{sessionID}
	n := 2

	if len(eventTypes) > 0 {
		q += fmt.Sprintf(" AND event_type = ANY($%d)", n)
		args = append(args, eventTypes)
		n++
	}
	if db.hasPriority {
		q += fmt.Sprintf(" AND ((priority >= 1 AND created_at >= $%d) OR (priority = 0 AND created_at >= $%d))", n, n+1)
		args = append(args, priorityCutoff, regularCutoff)
	}
	q += " ORDER BY created_at ASC, id ASC"

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: session events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// CountEventsByTier returns how many events of each tier currently fall
// inside their retention window. Used for priority_info self-description.
func (db *DB) CountEventsByTier(ctx context.Context, priorityCutoff, regularCutoff time.Time) (priority, regular int, err error) {
	if !db.hasPriority {
		return 0, 0, ErrDegradedSchema
	}
	err = db.pool.QueryRow(ctx,
		`SELECT
			count(*) FILTER (WHERE priority >= 1 AND created_at >= $1),
			count(*) FILTER (WHERE priority = 0 AND created_at >= $2)
		 FROM events`,
		priorityCutoff, regularCutoff,
	).Scan(&priority, &regular)
	if err != nil {
		return 0, 0, fmt.Errorf("storage: count events by tier: %w", err)
	}
	return priority, regular, nil
}

// FilterOptions returns the distinct source apps, session ids and event
// types present in the store, each ascending.
func (db *DB) FilterOptions(ctx context.Context) (model.FilterOptions, error) {
	defer db.logSlow("filter options", time.Now())
	var opts model.FilterOptions

	for _, col := range []struct {
		name   string
		target *[]string
	}{
		{"source_app", &opts.SourceApps},
		{"session_id", &opts.SessionIDs},
		{"event_type", &opts.EventTypes},
	} {
		rows, err := db.pool.Query(ctx,
			fmt.Sprintf(`SELECT DISTINCT %s FROM events ORDER BY %s ASC`, col.name, col.name))
		if err != nil {
			return model.FilterOptions{}, fmt.Errorf("storage: filter options %s: %w", col.name, err)
		}
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return model.FilterOptions{}, fmt.Errorf("storage: scan filter option: %w", err)
			}
			*col.target = append(*col.target, v)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return model.FilterOptions{}, fmt.Errorf("storage: filter options %s: %w", col.name, err)
		}
	}
	return opts, nil
}

func scanEvents(rows pgx.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var e model.Event
		var summary *string
		if err := rows.Scan(
			&e.ID, &e.SourceApp, &e.SessionID, &e.EventType,
			&e.Payload, &e.Chat, &summary, &e.Timestamp,
			&e.Priority, &e.PriorityMetadata,
		); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		if summary != nil {
			e.Summary = *summary
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
