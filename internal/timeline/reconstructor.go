// Package timeline replays a session's event slice plus its ledger messages
// into an ordered, role-labeled conversation.
package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ashita-ai/kansoku/internal/config"
	"github.com/ashita-ai/kansoku/internal/model"
)

// taskToolName marks dispatch/completion tool events in the hook stream.
const taskToolName = "Task"

// timelineEventTypes is the event slice the reconstructor replays.
var timelineEventTypes = []string{
	model.EventUserPromptSubmit,
	model.EventPreToolUse,
	model.EventPostToolUse,
}

// EventSource supplies a session's filtered events.
type EventSource interface {
	Session(ctx context.Context, sessionID string, eventTypes []string, cfg config.Priority) ([]model.Event, error)
}

// RegistrySource supplies ledger messages and agent type lookups.
type RegistrySource interface {
	MessagesInWindow(ctx context.Context, from, to time.Time) ([]model.SubagentMessage, error)
	SubagentTypes(ctx context.Context, sessionID string) (map[string]string, error)
}

// Reconstructor builds conversation timelines from the event log and the
// inter-agent ledger.
type Reconstructor struct {
	events   EventSource
	registry RegistrySource
	logger   *slog.Logger
}

// NewReconstructor creates a reconstructor over the given sources.
func NewReconstructor(events EventSource, registry RegistrySource, logger *slog.Logger) *Reconstructor {
	return &Reconstructor{events: events, registry: registry, logger: logger}
}

// Build reconstructs the conversation for one session. Prompt submissions
// become User → Orchestrator entries; Task dispatches become Orchestrator →
// agent entries stamped at dispatch time; Task completions with response text
// become agent → Orchestrator entries carrying the derived metrics. Ledger
// messages from agents named in dispatches are folded in as team notices.
// The result is empty, not an error, for sessions with no matching events.
func (r *Reconstructor) Build(ctx context.Context, sessionID string, cfg config.Priority) (model.Timeline, error) {
	events, err := r.events.Session(ctx, sessionID, timelineEventTypes, cfg)
	if err != nil {
		return model.Timeline{}, fmt.Errorf("timeline: load events: %w", err)
	}

	tl := model.Timeline{SessionID: sessionID}
	if len(events) == 0 {
		return tl, nil
	}

	types, err := r.registry.SubagentTypes(ctx, sessionID)
	if err != nil {
		return model.Timeline{}, fmt.Errorf("timeline: load agent types: %w", err)
	}

	// Agents seen in dispatch descriptions; only their ledger traffic is
	// folded into this session's timeline.
	dispatched := make(map[string]struct{})

	for _, ev := range events {
		switch ev.EventType {
		case model.EventUserPromptSubmit:
			tl.Entries = append(tl.Entries, model.TimelineEntry{
				Kind:      model.EntryPrompt,
				Timestamp: ev.Timestamp,
				Sender:    model.TimelineUser,
				Recipient: model.TimelineOrchestrator,
				Content:   stringField(ev.Payload, "prompt"),
			})

		case model.EventPreToolUse:
			if stringField(ev.Payload, "tool_name") != taskToolName {
				continue
			}
			input := mapField(ev.Payload, "tool_input")
			name := parseAgentName(stringField(input, "description"))
			if name != model.TimelineUnknownAgent {
				dispatched[name] = struct{}{}
			}
			tl.Entries = append(tl.Entries, model.TimelineEntry{
				Kind:      model.EntryDispatch,
				Timestamp: ev.Timestamp,
				Sender:    model.TimelineOrchestrator,
				Recipient: labelAgent(name, types),
				Content:   stringField(input, "prompt"),
			})

		case model.EventPostToolUse:
			if stringField(ev.Payload, "tool_name") != taskToolName {
				continue
			}
			input := mapField(ev.Payload, "tool_input")
			resp := mapField(ev.Payload, "tool_response")
			content := firstTextBlock(resp)
			if content == "" {
				// Completions without response text contribute nothing.
				continue
			}
			name := parseAgentName(stringField(input, "description"))
			tl.Entries = append(tl.Entries, model.TimelineEntry{
				Kind:         model.EntryResponse,
				Timestamp:    ev.Timestamp,
				Sender:       labelAgent(name, types),
				Recipient:    model.TimelineOrchestrator,
				Content:      content,
				DurationMs:   intField(resp, "totalDurationMs", "total_duration_ms"),
				TotalTokens:  intField(resp, "totalTokens", "total_tokens"),
				ToolUseCount: int(intField(resp, "totalToolUseCount", "total_tool_use_count")),
			})
		}
	}

	if err := r.foldLedger(ctx, &tl, events, dispatched, types); err != nil {
		return model.Timeline{}, err
	}

	sort.SliceStable(tl.Entries, func(i, j int) bool {
		return tl.Entries[i].Timestamp.Before(tl.Entries[j].Timestamp)
	})

	if n := len(tl.Entries); n > 1 {
		span := tl.Entries[n-1].Timestamp.Sub(tl.Entries[0].Timestamp)
		tl.DurationMinutes = math.Round(span.Minutes()*10) / 10
	}
	return tl, nil
}

// foldLedger appends team notices for ledger messages sent by dispatched
// agents inside the session's observed event span.
func (r *Reconstructor) foldLedger(ctx context.Context, tl *model.Timeline, events []model.Event, dispatched map[string]struct{}, types map[string]string) error {
	if len(dispatched) == 0 {
		return nil
	}

	from := events[0].Timestamp
	to := events[len(events)-1].Timestamp
	msgs, err := r.registry.MessagesInWindow(ctx, from, to)
	if err != nil {
		return fmt.Errorf("timeline: load ledger messages: %w", err)
	}

	for _, m := range msgs {
		if _, ok := dispatched[m.Sender]; !ok {
			continue
		}
		tl.Entries = append(tl.Entries, model.TimelineEntry{
			Kind:      model.EntryTeamNotice,
			Timestamp: m.CreatedAt,
			Sender:    labelAgent(m.Sender, types),
			Recipient: model.TimelineTeam,
			Content:   messageText(m.Message),
		})
	}
	return nil
}

// parseAgentName extracts the agent name from a dispatch description of the
// form "<AgentName>: <task description>" via a leading-colon split.
func parseAgentName(description string) string {
	name, _, found := strings.Cut(description, ":")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return model.TimelineUnknownAgent
	}
	return name
}

// labelAgent renders an agent as "<name> (<type>)", falling back to the bare
// name when the registry has no type for it.
func labelAgent(name string, types map[string]string) string {
	if typ, ok := types[name]; ok && typ != "" {
		return fmt.Sprintf("%s (%s)", name, typ)
	}
	return name
}

// firstTextBlock returns the text of the first content block of a tool
// response, or "" when the response carries no text.
func firstTextBlock(resp map[string]any) string {
	blocks, ok := resp["content"].([]any)
	if !ok {
		// Some hooks flatten the response to a bare string.
		if s, ok := resp["content"].(string); ok {
			return s
		}
		return ""
	}
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := block["text"].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// messageText renders an opaque ledger payload for display: strings pass
// through, anything else is compact JSON.
func messageText(msg any) string {
	if s, ok := msg.(string); ok {
		return s
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Sprintf("%v", msg)
	}
	return string(raw)
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func mapField(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

// intField reads the first present numeric field among keys. JSON numbers
// decode as float64; integers stored by other writers may scan as int64.
func intField(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int64(v)
		case int64:
			return v
		case int:
			return int64(v)
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n
			}
		}
	}
	return 0
}
