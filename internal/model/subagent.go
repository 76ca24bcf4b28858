package model

import (
	"fmt"
	"time"
)

// SubagentStatus is the lifecycle state of a registered subagent.
type SubagentStatus string

const (
	// StatusActive is the state at registration.
	StatusActive SubagentStatus = "active"
	// StatusCompleted is reachable only via an explicit completion report.
	StatusCompleted SubagentStatus = "completed"
	// StatusTerminated is reachable only via the idle-termination sweep.
	StatusTerminated SubagentStatus = "terminated"
)

// Subagent is one registration of a named agent within a session. A name is
// not unique: re-registration inserts a new row, and lookups by name resolve
// to the most recent row.
type Subagent struct {
	ID            int64          `json:"id"`
	SessionID     string         `json:"session_id"`
	Name          string         `json:"name"`
	SubagentType  string         `json:"subagent_type"`
	Status        SubagentStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	DurationMs    *int64         `json:"duration_ms,omitempty"`
	InputTokens   *int64         `json:"input_tokens,omitempty"`
	OutputTokens  *int64         `json:"output_tokens,omitempty"`
	TotalTokens   *int64         `json:"total_tokens,omitempty"`
	ToolUseCount  *int           `json:"tool_use_count,omitempty"`
	InitialPrompt *string        `json:"initial_prompt,omitempty"`
	FinalResponse *string        `json:"final_response,omitempty"`
}

// SubagentMessage is an append-only entry in the inter-agent ledger.
type SubagentMessage struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Message   any       `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// UnreadMessage is the wire shape returned to a polling consumer.
type UnreadMessage struct {
	Sender    string    `json:"sender"`
	Message   any       `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// MaxSubagentNameLen caps registry name and type fields.
const MaxSubagentNameLen = 200

// RegisterSubagentRequest is the body of POST /subagents/register.
type RegisterSubagentRequest struct {
	SessionID    string `json:"session_id"`
	Name         string `json:"name"`
	SubagentType string `json:"subagent_type"`
}

// Validate checks required fields and length limits.
func (r RegisterSubagentRequest) Validate() error {
	if r.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(r.Name) > MaxSubagentNameLen || len(r.SubagentType) > MaxSubagentNameLen {
		return fmt.Errorf("name and subagent_type must not exceed %d characters", MaxSubagentNameLen)
	}
	if len(r.SessionID) > MaxSessionIDLen {
		return fmt.Errorf("session_id exceeds maximum length of %d characters", MaxSessionIDLen)
	}
	return nil
}

// SendMessageRequest is the body of POST /subagents/message.
type SendMessageRequest struct {
	Sender  string `json:"sender"`
	Message any    `json:"message"`
}

// Validate checks required fields.
func (r SendMessageRequest) Validate() error {
	if r.Sender == "" {
		return fmt.Errorf("sender is required")
	}
	if r.Message == nil {
		return fmt.Errorf("message is required")
	}
	return nil
}

// UnreadRequest is the body of POST /subagents/unread.
type UnreadRequest struct {
	SubagentName string `json:"subagent_name"`
}

// CompletionRequest is the body of POST /subagents/completion.
// Every field except the session/name pair is optional: absent fields leave
// the stored value untouched. CompletedAt, when supplied, is stored verbatim
// so backdated reports keep duration metrics honest; absent, the server
// clock stamps the transition.
type CompletionRequest struct {
	SessionID     string     `json:"session_id"`
	Name          string     `json:"name"`
	Status        *string    `json:"status,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMs    *int64     `json:"duration_ms,omitempty"`
	InputTokens   *int64     `json:"input_tokens,omitempty"`
	OutputTokens  *int64     `json:"output_tokens,omitempty"`
	TotalTokens   *int64     `json:"total_tokens,omitempty"`
	ToolUseCount  *int       `json:"tool_use_count,omitempty"`
	FinalResponse *string    `json:"final_response,omitempty"`
}

// Validate checks the row selector.
func (r CompletionRequest) Validate() error {
	if r.SessionID == "" || r.Name == "" {
		return fmt.Errorf("session_id and name are required")
	}
	return nil
}

// UpdatePromptRequest is the body of POST /subagents/prompt.
type UpdatePromptRequest struct {
	SessionID     string `json:"session_id"`
	Name          string `json:"name"`
	InitialPrompt string `json:"initial_prompt"`
}

// Validate checks the row selector and payload.
func (r UpdatePromptRequest) Validate() error {
	if r.SessionID == "" || r.Name == "" {
		return fmt.Errorf("session_id and name are required")
	}
	if r.InitialPrompt == "" {
		return fmt.Errorf("initial_prompt is required")
	}
	return nil
}
