package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SessionAgg is one session's raw per-session aggregate over its subagent
// registrations. Sessions are derived, never stored; the aggregator package
// turns these rows into summaries.
type SessionAgg struct {
	SessionID       string
	AgentCount      int
	CompletedCount  int
	ActiveCount     int
	TerminatedCount int
	FirstCreated    time.Time
	LastActivity    time.Time
	TotalTokens     int64
	ToolUseCount    int64
}

const sessionAggSelect = `
	SELECT session_id,
	       count(*) AS agent_count,
	       count(*) FILTER (WHERE status = 'completed') AS completed_count,
	       count(*) FILTER (WHERE status = 'active') AS active_count,
	       count(*) FILTER (WHERE status = 'terminated') AS terminated_count,
	       min(created_at) AS first_created,
	       max(greatest(created_at, coalesce(completed_at, created_at))) AS last_activity,
	       coalesce(sum(total_tokens), 0) AS total_tokens,
	       coalesce(sum(tool_use_count), 0) AS tool_use_count
	FROM subagents
	GROUP BY session_id`

// SessionWindow returns aggregates for sessions whose last activity falls
// inside [start, end], most recently active first. A session with old
// registrations but recent activity still qualifies, and its counts cover
// every registration, not only those inside the window.
func (db *DB) SessionWindow(ctx context.Context, start, end time.Time, limit int) ([]SessionAgg, error) {
	defer db.logSlow("session window", time.Now())
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		sessionAggSelect+`
		HAVING max(greatest(created_at, coalesce(completed_at, created_at))) BETWEEN $1 AND $2
		ORDER BY last_activity DESC
		LIMIT $3`,
		start, end, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: session window: %w", err)
	}
	defer rows.Close()

	return scanSessionAggs(rows)
}

// SessionAggByIDs returns aggregates for the named sessions. Unknown ids
// simply produce no row.
func (db *DB) SessionAggByIDs(ctx context.Context, sessionIDs []string) ([]SessionAgg, error) {
	defer db.logSlow("session agg by ids", time.Now())
	rows, err := db.pool.Query(ctx,
		sessionAggSelect+`
		HAVING session_id = ANY($1)
		ORDER BY last_activity DESC`,
		sessionIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: session agg by ids: %w", err)
	}
	defer rows.Close()

	return scanSessionAggs(rows)
}

func scanSessionAggs(rows pgx.Rows) ([]SessionAgg, error) {
	var aggs []SessionAgg
	for rows.Next() {
		var a SessionAgg
		if err := rows.Scan(
			&a.SessionID, &a.AgentCount, &a.CompletedCount, &a.ActiveCount,
			&a.TerminatedCount, &a.FirstCreated, &a.LastActivity,
			&a.TotalTokens, &a.ToolUseCount,
		); err != nil {
			return nil, fmt.Errorf("storage: scan session agg: %w", err)
		}
		aggs = append(aggs, a)
	}
	return aggs, rows.Err()
}
