package model

import (
	"fmt"
	"time"
)

// Priority tiers. Tier is a small integer so future refinement can add
// levels without a schema change; today only these two exist.
const (
	TierRegular  = 0
	TierPriority = 1
)

// Well-known event types emitted by agent session hooks.
const (
	EventUserPromptSubmit = "UserPromptSubmit"
	EventNotification     = "Notification"
	EventStop             = "Stop"
	EventPreToolUse       = "PreToolUse"
	EventPostToolUse      = "PostToolUse"
	EventSubagentStop     = "SubagentStop"
	EventPreCompact       = "PreCompact"
)

// Event is one entry in the append-only event log. Immutable once written;
// the priority fields are fixed at insert time by classification.
type Event struct {
	ID               int64             `json:"id"`
	SourceApp        string            `json:"source_app"`
	SessionID        string            `json:"session_id"`
	EventType        string            `json:"event_type"`
	Payload          map[string]any    `json:"payload"`
	Chat             []map[string]any  `json:"chat,omitempty"`
	Summary          string            `json:"summary,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	Priority         int               `json:"priority"`
	PriorityMetadata *PriorityMetadata `json:"priority_metadata,omitempty"`
}

// PriorityMetadata records why an event landed in its tier.
type PriorityMetadata struct {
	ClassifiedAt    time.Time `json:"classified_at"`
	Reason          string    `json:"reason"`
	RetentionPolicy string    `json:"retention_policy,omitempty"`
}

// Field length limits for ingested events. These cap what a single hook
// invocation can push into Postgres TEXT/JSONB columns.
const (
	MaxSourceAppLen = 200
	MaxSessionIDLen = 200
	MaxEventTypeLen = 200
	MaxSummaryLen   = 32 * 1024
)

// SubmitEventRequest is the body of POST /events.
type SubmitEventRequest struct {
	SourceApp string           `json:"source_app"`
	SessionID string           `json:"session_id"`
	EventType string           `json:"event_type"`
	Payload   map[string]any   `json:"payload"`
	Chat      []map[string]any `json:"chat,omitempty"`
	Summary   string           `json:"summary,omitempty"`
	// Timestamp is optional; the server falls back to its own clock.
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Validate checks required fields and length limits.
func (r SubmitEventRequest) Validate() error {
	if r.SourceApp == "" {
		return fmt.Errorf("source_app is required")
	}
	if r.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if r.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if len(r.SourceApp) > MaxSourceAppLen {
		return fmt.Errorf("source_app exceeds maximum length of %d characters", MaxSourceAppLen)
	}
	if len(r.SessionID) > MaxSessionIDLen {
		return fmt.Errorf("session_id exceeds maximum length of %d characters", MaxSessionIDLen)
	}
	if len(r.EventType) > MaxEventTypeLen {
		return fmt.Errorf("event_type exceeds maximum length of %d characters", MaxEventTypeLen)
	}
	if len(r.Summary) > MaxSummaryLen {
		return fmt.Errorf("summary exceeds maximum length of %d bytes", MaxSummaryLen)
	}
	return nil
}

// FilterOptions lists the distinct values observers can filter events by.
type FilterOptions struct {
	SourceApps []string `json:"source_apps"`
	SessionIDs []string `json:"session_ids"`
	EventTypes []string `json:"event_types"`
}

// PriorityInfo describes the active retention configuration and per-bucket
// counts of a priority-aware retrieval. Sent to live-channel clients so they
// can describe themselves without a separate fetch.
type PriorityInfo struct {
	PriorityCount          int `json:"priority_count"`
	RegularCount           int `json:"regular_count"`
	TotalLimit             int `json:"total_limit"`
	PriorityLimit          int `json:"priority_limit"`
	RegularLimit           int `json:"regular_limit"`
	PriorityRetentionHours int `json:"priority_retention_hours"`
	RegularRetentionHours  int `json:"regular_retention_hours"`
}

// Live-channel envelope types.
const (
	EnvelopeInitial         = "initial"
	EnvelopeEvent           = "event"
	EnvelopePriorityEvent   = "priority_event"
	EnvelopeSessionEvent    = "session_event"
	EnvelopeSessionPriority = "session_priority_event"
	EnvelopeSubagentUpdate  = "subagent_update"
)

// Envelope is the frame sent to live-channel observers.
type Envelope struct {
	Type         string        `json:"type"`
	Data         any           `json:"data,omitempty"`
	SessionID    string        `json:"sessionId,omitempty"`
	PriorityInfo *PriorityInfo `json:"priority_info,omitempty"`
}

// ControlFrame is the message scoped observers send to manage their
// session subscriptions.
type ControlFrame struct {
	Action     string   `json:"action"`
	SessionIDs []string `json:"sessionIds"`
}

// Control frame actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)
