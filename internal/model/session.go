package model

import (
	"fmt"
	"time"
)

// SessionSummary is the derived view of a session: the set of subagent rows
// sharing a session id. Sessions are never stored; they are computed from
// the registry on demand.
type SessionSummary struct {
	SessionID      string    `json:"session_id"`
	AgentCount     int       `json:"agent_count"`
	CompletedCount int       `json:"completed_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Status         string    `json:"status"`
	DurationMs     int64     `json:"duration_ms"`
	CompletionRate float64   `json:"completion_rate"`
}

// SessionDetails is a summary plus optional agent rows and ledger messages.
type SessionDetails struct {
	SessionSummary
	Agents   []Subagent        `json:"agents,omitempty"`
	Messages []SubagentMessage `json:"messages,omitempty"`
}

// SessionMetrics are the per-session figures used by comparison.
type SessionMetrics struct {
	SessionID      string  `json:"session_id"`
	AgentCount     int     `json:"agent_count"`
	CompletedCount int     `json:"completed_count"`
	CompletionRate float64 `json:"completion_rate"`
	DurationMs     int64   `json:"duration_ms"`
	TotalTokens    int64   `json:"total_tokens"`
	ToolUseCount   int     `json:"tool_use_count"`
}

// ComparisonAggregate holds totals and averages across the sessions that
// resolved. Averages are computed over resolved sessions, not over the
// requested id count.
type ComparisonAggregate struct {
	SessionCount      int     `json:"session_count"`
	TotalAgents       int     `json:"total_agents"`
	TotalTokens       int64   `json:"total_tokens"`
	TotalDurationMs   int64   `json:"total_duration_ms"`
	AvgAgents         float64 `json:"avg_agents"`
	AvgDurationMs     float64 `json:"avg_duration_ms"`
	AvgCompletionRate float64 `json:"avg_completion_rate"`
}

// SessionComparison is the result of comparing a set of sessions.
type SessionComparison struct {
	Sessions  []SessionMetrics    `json:"sessions"`
	Aggregate ComparisonAggregate `json:"aggregate"`
}

// MaxSessionBatch caps how many session ids a single details/compare
// request may name.
const MaxSessionBatch = 50

// SessionDetailsRequest is the body of POST /sessions/details.
type SessionDetailsRequest struct {
	SessionIDs      []string `json:"session_ids"`
	IncludeAgents   bool     `json:"include_agents"`
	IncludeMessages bool     `json:"include_messages"`
}

// Validate checks the id list.
func (r SessionDetailsRequest) Validate() error {
	if len(r.SessionIDs) == 0 {
		return fmt.Errorf("session_ids is required")
	}
	if len(r.SessionIDs) > MaxSessionBatch {
		return fmt.Errorf("session_ids exceeds maximum batch of %d", MaxSessionBatch)
	}
	return nil
}

// SessionCompareRequest is the body of POST /sessions/compare.
type SessionCompareRequest struct {
	SessionIDs []string `json:"session_ids"`
}

// Validate checks the id list.
func (r SessionCompareRequest) Validate() error {
	if len(r.SessionIDs) == 0 {
		return fmt.Errorf("session_ids is required")
	}
	if len(r.SessionIDs) > MaxSessionBatch {
		return fmt.Errorf("session_ids exceeds maximum batch of %d", MaxSessionBatch)
	}
	return nil
}
