package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashita-ai/kansoku/internal/model"
)

// SendMessage appends a message to the shared ledger and returns it with id
// and timestamp assigned. The ledger is append-only and global: delivery
// scoping happens at read time against each reader's registration. The
// message is any JSON value, not just an object, so it is marshalled here
// rather than left to driver inference.
func (db *DB) SendMessage(ctx context.Context, sender string, message any) (model.SubagentMessage, error) {
	raw, err := json.Marshal(message)
	if err != nil {
		return model.SubagentMessage{}, fmt.Errorf("storage: encode message: %w", err)
	}

	m := model.SubagentMessage{Sender: sender, Message: message}
	err = db.pool.QueryRow(ctx,
		`INSERT INTO subagent_messages (sender, message)
		 VALUES ($1, $2)
		 RETURNING id, created_at`,
		sender, raw,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return model.SubagentMessage{}, fmt.Errorf("storage: send message: %w", err)
	}
	return m, nil
}

// UnreadMessages claims and returns the messages a reader has not yet seen:
// everything posted at or after the reader's latest registration, excluding
// the reader's own messages. The claim and the read happen in one statement,
// so two concurrent polls for the same reader cannot both return the same
// message — ON CONFLICT DO NOTHING makes the loser's claim return no rows.
// A name that was never registered gets nothing (the CTE is empty).
func (db *DB) UnreadMessages(ctx context.Context, reader string) ([]model.UnreadMessage, error) {
	defer db.logSlow("unread messages", time.Now())
	rows, err := db.pool.Query(ctx, `
		WITH reg AS (
			SELECT created_at FROM subagents
			WHERE name = $1
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		),
		claimed AS (
			INSERT INTO message_reads (message_id, reader)
			SELECT m.id, $1
			FROM subagent_messages m, reg
			WHERE m.created_at >= reg.created_at
			  AND m.sender <> $1
			ON CONFLICT (message_id, reader) DO NOTHING
			RETURNING message_id
		)
		SELECT m.sender, m.message, m.created_at
		FROM subagent_messages m
		JOIN claimed c ON c.message_id = m.id
		ORDER BY m.created_at ASC, m.id ASC`,
		reader,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: unread messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.UnreadMessage
	for rows.Next() {
		var m model.UnreadMessage
		if err := rows.Scan(&m.Sender, &m.Message, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan unread message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessagesInWindow returns ledger messages posted inside [from, to],
// ascending. Used by the timeline reconstructor; does not claim reads.
func (db *DB) MessagesInWindow(ctx context.Context, from, to time.Time) ([]model.SubagentMessage, error) {
	defer db.logSlow("messages in window", time.Now())
	rows, err := db.pool.Query(ctx,
		`SELECT id, sender, message, created_at
		 FROM subagent_messages
		 WHERE created_at >= $1 AND created_at <= $2
		 ORDER BY created_at ASC, id ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: messages in window: %w", err)
	}
	defer rows.Close()

	var msgs []model.SubagentMessage
	for rows.Next() {
		var m model.SubagentMessage
		if err := rows.Scan(&m.ID, &m.Sender, &m.Message, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
