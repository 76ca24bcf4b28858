package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kansoku/internal/model"
)

// Idle-termination policy. An active subagent with no completion is swept
// when it is older than idleSessionAge within the registering session, or
// older than idleGlobalAge in any session. Termination backdates completion
// to the agent's last observed activity plus terminationGrace, so duration
// metrics stay meaningful.
const (
	idleSessionAge   = 60 * time.Second
	idleGlobalAge    = 60 * time.Minute
	terminationGrace = 10 * time.Second
)

// SweptAgent identifies one registration closed by the idle sweep, so the
// caller can fan the termination out as a registry change.
type SweptAgent struct {
	SessionID string
	Name      string
}

// sweepSQL terminates idle subagents. completed_at is backdated to the last
// ledger message the agent sent (else its creation time) plus the grace
// interval. Idempotent: terminated rows no longer match the WHERE clause.
const sweepSQL = `
	UPDATE subagents s
	SET status = 'terminated',
	    completed_at = COALESCE(
	        (SELECT max(m.created_at) FROM subagent_messages m WHERE m.sender = s.name),
	        s.created_at
	    ) + $1::interval
	WHERE s.status = 'active'
	  AND s.completed_at IS NULL
	  AND (
	        (s.session_id = $2 AND s.created_at < now() - $3::interval)
	     OR s.created_at < now() - $4::interval
	  )
	RETURNING s.session_id, s.name`

// RegisterSubagent runs the idle-termination sweep and inserts a new
// registration row in one transaction. Registration always inserts: a name
// is a versioned identity, resolved elsewhere as its most recent row. The
// swept registrations are returned alongside the new id so the caller can
// broadcast the terminations.
func (db *DB) RegisterSubagent(ctx context.Context, sessionID, name, subagentType string) (int64, []SweptAgent, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("storage: begin register tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, sweepSQL,
		terminationGrace, sessionID, idleSessionAge, idleGlobalAge)
	if err != nil {
		return 0, nil, fmt.Errorf("storage: idle sweep: %w", err)
	}
	swept, err := scanSwept(rows)
	if err != nil {
		return 0, nil, err
	}
	if len(swept) > 0 {
		db.logger.Info("idle subagents terminated", "count", len(swept), "session_id", sessionID)
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO subagents (session_id, name, subagent_type)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		sessionID, name, subagentType,
	).Scan(&id)
	if err != nil {
		return 0, nil, fmt.Errorf("storage: insert subagent: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, nil, fmt.Errorf("storage: commit register tx: %w", err)
	}
	return id, swept, nil
}

// TerminateIdle runs the global idle-termination sweep outside of a
// registration (the background sweeper loop). Session-scoped aging does not
// apply here; only the global threshold. Returns the swept registrations.
func (db *DB) TerminateIdle(ctx context.Context) ([]SweptAgent, error) {
	rows, err := db.pool.Query(ctx, `
		UPDATE subagents s
		SET status = 'terminated',
		    completed_at = COALESCE(
		        (SELECT max(m.created_at) FROM subagent_messages m WHERE m.sender = s.name),
		        s.created_at
		    ) + $1::interval
		WHERE s.status = 'active'
		  AND s.completed_at IS NULL
		  AND s.created_at < now() - $2::interval
		RETURNING s.session_id, s.name`,
		terminationGrace, idleGlobalAge,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: terminate idle: %w", err)
	}
	return scanSwept(rows)
}

func scanSwept(rows pgx.Rows) ([]SweptAgent, error) {
	defer rows.Close()
	var swept []SweptAgent
	for rows.Next() {
		var a SweptAgent
		if err := rows.Scan(&a.SessionID, &a.Name); err != nil {
			return nil, fmt.Errorf("storage: scan swept agent: %w", err)
		}
		swept = append(swept, a)
	}
	return swept, rows.Err()
}

// ReportCompletion applies a partial update to the most recent registration
// of (session, name). Absent fields leave the stored value untouched. The
// status transition only fires from 'active' (terminated and completed are
// terminal states); metric fields are applied regardless so a late report
// can still fill in token counts. A report carrying an explicit completed_at
// stores it verbatim; otherwise the transition stamps the server clock.
// Returns false when no row matches.
func (db *DB) ReportCompletion(ctx context.Context, req model.CompletionRequest) (bool, error) {
	status := string(model.StatusCompleted)
	if req.Status != nil {
		status = *req.Status
	}

	tag, err := db.pool.Exec(ctx, `
		UPDATE subagents SET
			status         = CASE WHEN status = 'active' THEN $3 ELSE status END,
			completed_at   = CASE WHEN status = 'active' THEN COALESCE($4, now()) ELSE completed_at END,
			duration_ms    = COALESCE($5, duration_ms),
			input_tokens   = COALESCE($6, input_tokens),
			output_tokens  = COALESCE($7, output_tokens),
			total_tokens   = COALESCE($8, total_tokens),
			tool_use_count = COALESCE($9, tool_use_count),
			final_response = COALESCE($10, final_response)
		WHERE id = (
			SELECT id FROM subagents
			WHERE session_id = $1 AND name = $2
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)`,
		req.SessionID, req.Name, status, req.CompletedAt,
		req.DurationMs, req.InputTokens, req.OutputTokens,
		req.TotalTokens, req.ToolUseCount, req.FinalResponse,
	)
	if err != nil {
		return false, fmt.Errorf("storage: report completion: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateSubagentPrompt records the initial prompt on the most recent
// registration of (session, name). Returns false when no row matches.
func (db *DB) UpdateSubagentPrompt(ctx context.Context, sessionID, name, prompt string) (bool, error) {
	tag, err := db.pool.Exec(ctx, `
		UPDATE subagents SET initial_prompt = $3
		WHERE id = (
			SELECT id FROM subagents
			WHERE session_id = $1 AND name = $2
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)`,
		sessionID, name, prompt,
	)
	if err != nil {
		return false, fmt.Errorf("storage: update subagent prompt: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListSubagents returns all registrations for a session, oldest first.
func (db *DB) ListSubagents(ctx context.Context, sessionID string) ([]model.Subagent, error) {
	defer db.logSlow("list subagents", time.Now())
	rows, err := db.pool.Query(ctx,
		subagentSelect+` WHERE session_id = $1 ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list subagents: %w", err)
	}
	defer rows.Close()

	return scanSubagents(rows)
}

// LatestSubagentByName resolves "the" subagent for a name: its most recent
// registration across sessions. Returns ErrNotFound when the name was never
// registered.
func (db *DB) LatestSubagentByName(ctx context.Context, name string) (model.Subagent, error) {
	rows, err := db.pool.Query(ctx,
		subagentSelect+` WHERE name = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		name,
	)
	if err != nil {
		return model.Subagent{}, fmt.Errorf("storage: latest subagent by name: %w", err)
	}
	defer rows.Close()

	agents, err := scanSubagents(rows)
	if err != nil {
		return model.Subagent{}, err
	}
	if len(agents) == 0 {
		return model.Subagent{}, ErrNotFound
	}
	return agents[0], nil
}

// SubagentTypes returns name → declared type for a session, resolving each
// name to its most recent registration.
func (db *DB) SubagentTypes(ctx context.Context, sessionID string) (map[string]string, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT DISTINCT ON (name) name, subagent_type
		FROM subagents
		WHERE session_id = $1
		ORDER BY name, created_at DESC, id DESC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: subagent types: %w", err)
	}
	defer rows.Close()

	types := make(map[string]string)
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, fmt.Errorf("storage: scan subagent type: %w", err)
		}
		types[name] = typ
	}
	return types, rows.Err()
}

const subagentSelect = `
	SELECT id, session_id, name, subagent_type, status, created_at, completed_at,
	       duration_ms, input_tokens, output_tokens, total_tokens, tool_use_count,
	       initial_prompt, final_response
	FROM subagents`

func scanSubagents(rows pgx.Rows) ([]model.Subagent, error) {
	var agents []model.Subagent
	for rows.Next() {
		var a model.Subagent
		if err := rows.Scan(
			&a.ID, &a.SessionID, &a.Name, &a.SubagentType, &a.Status,
			&a.CreatedAt, &a.CompletedAt,
			&a.DurationMs, &a.InputTokens, &a.OutputTokens, &a.TotalTokens,
			&a.ToolUseCount, &a.InitialPrompt, &a.FinalResponse,
		); err != nil {
			return nil, fmt.Errorf("storage: scan subagent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
