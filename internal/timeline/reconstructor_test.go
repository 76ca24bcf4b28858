package timeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kansoku/internal/config"
	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/testutil"
	"github.com/ashita-ai/kansoku/internal/timeline"
)

type fakeEvents struct {
	events []model.Event
}

func (f *fakeEvents) Session(context.Context, string, []string, config.Priority) ([]model.Event, error) {
	return f.events, nil
}

type fakeRegistry struct {
	messages []model.SubagentMessage
	types    map[string]string
}

func (f *fakeRegistry) MessagesInWindow(context.Context, time.Time, time.Time) ([]model.SubagentMessage, error) {
	return f.messages, nil
}

func (f *fakeRegistry) SubagentTypes(context.Context, string) (map[string]string, error) {
	return f.types, nil
}

func dispatchEvent(ts time.Time, description, prompt string) model.Event {
	return model.Event{
		EventType: model.EventPreToolUse,
		Timestamp: ts,
		Payload: map[string]any{
			"tool_name": "Task",
			"tool_input": map[string]any{
				"description": description,
				"prompt":      prompt,
			},
		},
	}
}

func completionEvent(ts time.Time, description, text string) model.Event {
	return model.Event{
		EventType: model.EventPostToolUse,
		Timestamp: ts,
		Payload: map[string]any{
			"tool_name":  "Task",
			"tool_input": map[string]any{"description": description},
			"tool_response": map[string]any{
				"content":           []any{map[string]any{"type": "text", "text": text}},
				"totalDurationMs":   float64(4200),
				"totalTokens":       float64(1234),
				"totalToolUseCount": float64(3),
			},
		},
	}
}

func TestBuildDispatchAndResponse(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	events := &fakeEvents{events: []model.Event{
		dispatchEvent(base, "Scout: investigate the bug", "investigate the bug in the parser"),
		completionEvent(base.Add(2*time.Minute), "Scout: investigate the bug", "found it: off-by-one in the loop"),
	}}
	registry := &fakeRegistry{types: map[string]string{"Scout": "scout-type"}}
	rec := timeline.NewReconstructor(events, registry, testutil.TestLogger())

	tl, err := rec.Build(context.Background(), "s1", config.LoadPriority())
	require.NoError(t, err)
	require.Len(t, tl.Entries, 2)

	dispatch := tl.Entries[0]
	assert.Equal(t, model.EntryDispatch, dispatch.Kind)
	assert.Equal(t, model.TimelineOrchestrator, dispatch.Sender)
	assert.Equal(t, "Scout (scout-type)", dispatch.Recipient)
	assert.Equal(t, "investigate the bug in the parser", dispatch.Content)
	assert.Equal(t, base, dispatch.Timestamp, "dispatch entry is stamped at dispatch time")

	resp := tl.Entries[1]
	assert.Equal(t, model.EntryResponse, resp.Kind)
	assert.Equal(t, "Scout (scout-type)", resp.Sender)
	assert.Equal(t, model.TimelineOrchestrator, resp.Recipient)
	assert.Equal(t, "found it: off-by-one in the loop", resp.Content)
	assert.Equal(t, int64(4200), resp.DurationMs)
	assert.Equal(t, int64(1234), resp.TotalTokens)
	assert.Equal(t, 3, resp.ToolUseCount)

	assert.Equal(t, 2.0, tl.DurationMinutes)
}

func TestBuildPromptEntry(t *testing.T) {
	base := time.Now().UTC()
	events := &fakeEvents{events: []model.Event{{
		EventType: model.EventUserPromptSubmit,
		Timestamp: base,
		Payload:   map[string]any{"prompt": "fix the tests"},
	}}}
	rec := timeline.NewReconstructor(events, &fakeRegistry{}, testutil.TestLogger())

	tl, err := rec.Build(context.Background(), "s1", config.LoadPriority())
	require.NoError(t, err)
	require.Len(t, tl.Entries, 1)
	assert.Equal(t, model.EntryPrompt, tl.Entries[0].Kind)
	assert.Equal(t, model.TimelineUser, tl.Entries[0].Sender)
	assert.Equal(t, model.TimelineOrchestrator, tl.Entries[0].Recipient)
	assert.Equal(t, "fix the tests", tl.Entries[0].Content)
}

func TestBuildUnparsableDescriptionFallsBack(t *testing.T) {
	events := &fakeEvents{events: []model.Event{
		dispatchEvent(time.Now().UTC(), "no colon here", "do something"),
	}}
	rec := timeline.NewReconstructor(events, &fakeRegistry{}, testutil.TestLogger())

	tl, err := rec.Build(context.Background(), "s1", config.LoadPriority())
	require.NoError(t, err)
	require.Len(t, tl.Entries, 1)
	assert.Equal(t, model.TimelineUnknownAgent, tl.Entries[0].Recipient)
}

func TestBuildSkipsCompletionWithoutResponseText(t *testing.T) {
	base := time.Now().UTC()
	empty := completionEvent(base, "Scout: task", "")
	events := &fakeEvents{events: []model.Event{
		dispatchEvent(base.Add(-time.Minute), "Scout: task", "p"),
		empty,
	}}
	rec := timeline.NewReconstructor(events, &fakeRegistry{}, testutil.TestLogger())

	tl, err := rec.Build(context.Background(), "s1", config.LoadPriority())
	require.NoError(t, err)
	require.Len(t, tl.Entries, 1, "empty completions contribute nothing")
	assert.Equal(t, model.EntryDispatch, tl.Entries[0].Kind)
}

func TestBuildFoldsLedgerMessagesFromDispatchedAgents(t *testing.T) {
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	events := &fakeEvents{events: []model.Event{
		dispatchEvent(base, "Scout: investigate", "go"),
		completionEvent(base.Add(10*time.Minute), "Scout: investigate", "done"),
	}}
	registry := &fakeRegistry{
		types: map[string]string{"Scout": "scout-type"},
		messages: []model.SubagentMessage{
			{Sender: "Scout", Message: "halfway there", CreatedAt: base.Add(5 * time.Minute)},
			{Sender: "Stranger", Message: "not in this session", CreatedAt: base.Add(6 * time.Minute)},
		},
	}
	rec := timeline.NewReconstructor(events, registry, testutil.TestLogger())

	tl, err := rec.Build(context.Background(), "s1", config.LoadPriority())
	require.NoError(t, err)
	require.Len(t, tl.Entries, 3)

	notice := tl.Entries[1]
	assert.Equal(t, model.EntryTeamNotice, notice.Kind)
	assert.Equal(t, "Scout (scout-type)", notice.Sender)
	assert.Equal(t, model.TimelineTeam, notice.Recipient)
	assert.Equal(t, "halfway there", notice.Content)
}

func TestBuildEmptySessionYieldsEmptyTimeline(t *testing.T) {
	rec := timeline.NewReconstructor(&fakeEvents{}, &fakeRegistry{}, testutil.TestLogger())
	tl, err := rec.Build(context.Background(), "nope", config.LoadPriority())
	require.NoError(t, err)
	assert.Empty(t, tl.Entries)
	assert.Zero(t, tl.DurationMinutes)
}
