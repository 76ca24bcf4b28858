package model

import "time"

// Timeline roles used for synthesized senders and recipients.
const (
	TimelineUser         = "User"
	TimelineOrchestrator = "Orchestrator"
	TimelineTeam         = "Team"
	// TimelineUnknownAgent is the fallback sender when a dispatch
	// description does not follow the "<Name>: <task>" convention.
	TimelineUnknownAgent = "Unknown Agent"
)

// TimelineEntryKind distinguishes where an entry came from.
type TimelineEntryKind string

const (
	EntryPrompt     TimelineEntryKind = "prompt"
	EntryDispatch   TimelineEntryKind = "dispatch"
	EntryResponse   TimelineEntryKind = "response"
	EntryTeamNotice TimelineEntryKind = "team_message"
)

// TimelineEntry is one exchange in the reconstructed conversation.
type TimelineEntry struct {
	Kind         TimelineEntryKind `json:"kind"`
	Timestamp    time.Time         `json:"timestamp"`
	Sender       string            `json:"sender"`
	Recipient    string            `json:"recipient"`
	Content      string            `json:"content"`
	DurationMs   int64             `json:"duration_ms,omitempty"`
	TotalTokens  int64             `json:"total_tokens,omitempty"`
	ToolUseCount int               `json:"tool_use_count,omitempty"`
}

// Timeline is the ordered conversation reconstructed for one session.
type Timeline struct {
	SessionID       string          `json:"session_id"`
	Entries         []TimelineEntry `json:"entries"`
	DurationMinutes float64         `json:"duration_minutes"`
}
