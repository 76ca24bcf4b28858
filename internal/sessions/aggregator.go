// Package sessions derives session-level views from the subagent registry.
// Sessions have no table of their own; every summary here is computed from
// registration rows sharing a session id.
package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/storage"
)

// Store is the slice of the storage layer the aggregator reads through.
type Store interface {
	SessionWindow(ctx context.Context, start, end time.Time, limit int) ([]storage.SessionAgg, error)
	SessionAggByIDs(ctx context.Context, sessionIDs []string) ([]storage.SessionAgg, error)
	ListSubagents(ctx context.Context, sessionID string) ([]model.Subagent, error)
	MessagesInWindow(ctx context.Context, from, to time.Time) ([]model.SubagentMessage, error)
}

// Aggregator computes session summaries, batched details and comparisons.
type Aggregator struct {
	store  Store
	logger *slog.Logger
}

// NewAggregator creates an aggregator backed by store.
func NewAggregator(store Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

// Window returns summaries for sessions active inside [start, end], most
// recently active first. Membership is decided by last activity, so a session
// with old registrations but a recent completion still qualifies.
func (a *Aggregator) Window(ctx context.Context, start, end time.Time, limit int) ([]model.SessionSummary, error) {
	aggs, err := a.store.SessionWindow(ctx, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("sessions: window query: %w", err)
	}

	summaries := make([]model.SessionSummary, 0, len(aggs))
	for _, agg := range aggs {
		summaries = append(summaries, summarize(agg))
	}
	return summaries, nil
}

// Details returns per-session detail for each requested id, optionally with
// the session's agent rows and its ledger messages. Ids that resolve to no
// registrations are skipped, not errored: a batch is best-effort.
func (a *Aggregator) Details(ctx context.Context, req model.SessionDetailsRequest) ([]model.SessionDetails, error) {
	aggs, err := a.store.SessionAggByIDs(ctx, req.SessionIDs)
	if err != nil {
		return nil, fmt.Errorf("sessions: batch query: %w", err)
	}

	details := make([]model.SessionDetails, 0, len(aggs))
	for _, agg := range aggs {
		d := model.SessionDetails{SessionSummary: summarize(agg)}

		if req.IncludeAgents || req.IncludeMessages {
			agents, err := a.store.ListSubagents(ctx, agg.SessionID)
			if err != nil {
				return nil, fmt.Errorf("sessions: list agents for %s: %w", agg.SessionID, err)
			}
			if req.IncludeAgents {
				d.Agents = agents
			}
			if req.IncludeMessages {
				// The ledger has no session column; scope by the session's
				// activity span and its member names.
				d.Messages, err = a.sessionMessages(ctx, agg, agents)
				if err != nil {
					return nil, err
				}
			}
		}
		details = append(details, d)
	}
	return details, nil
}

// Compare returns side-by-side metrics for the requested sessions plus an
// aggregate computed over the sessions that resolved.
func (a *Aggregator) Compare(ctx context.Context, sessionIDs []string) (model.SessionComparison, error) {
	aggs, err := a.store.SessionAggByIDs(ctx, sessionIDs)
	if err != nil {
		return model.SessionComparison{}, fmt.Errorf("sessions: compare query: %w", err)
	}

	cmp := model.SessionComparison{
		Sessions: make([]model.SessionMetrics, 0, len(aggs)),
	}
	for _, agg := range aggs {
		s := summarize(agg)
		cmp.Sessions = append(cmp.Sessions, model.SessionMetrics{
			SessionID:      s.SessionID,
			AgentCount:     s.AgentCount,
			CompletedCount: s.CompletedCount,
			CompletionRate: s.CompletionRate,
			DurationMs:     s.DurationMs,
			TotalTokens:    agg.TotalTokens,
			ToolUseCount:   int(agg.ToolUseCount),
		})

		cmp.Aggregate.TotalAgents += s.AgentCount
		cmp.Aggregate.TotalTokens += agg.TotalTokens
		cmp.Aggregate.TotalDurationMs += s.DurationMs
		cmp.Aggregate.AvgCompletionRate += s.CompletionRate
	}

	if n := len(cmp.Sessions); n > 0 {
		cmp.Aggregate.SessionCount = n
		cmp.Aggregate.AvgAgents = float64(cmp.Aggregate.TotalAgents) / float64(n)
		cmp.Aggregate.AvgDurationMs = float64(cmp.Aggregate.TotalDurationMs) / float64(n)
		cmp.Aggregate.AvgCompletionRate /= float64(n)
	}
	return cmp, nil
}

// sessionMessages returns the ledger messages sent by the session's members
// during its activity span, ascending.
func (a *Aggregator) sessionMessages(ctx context.Context, agg storage.SessionAgg, agents []model.Subagent) ([]model.SubagentMessage, error) {
	msgs, err := a.store.MessagesInWindow(ctx, agg.FirstCreated, agg.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("sessions: messages for %s: %w", agg.SessionID, err)
	}

	members := make(map[string]struct{}, len(agents))
	for _, ag := range agents {
		members[ag.Name] = struct{}{}
	}

	var scoped []model.SubagentMessage
	for _, m := range msgs {
		if _, ok := members[m.Sender]; ok {
			scoped = append(scoped, m)
		}
	}
	return scoped, nil
}

// summarize converts a raw aggregate into a summary. Status resolution:
// everything completed means completed; partial completion means active (the
// session's outcome is still open); with zero completions the remaining
// active/terminated statuses decide by majority, ties going to active.
func summarize(agg storage.SessionAgg) model.SessionSummary {
	s := model.SessionSummary{
		SessionID:      agg.SessionID,
		AgentCount:     agg.AgentCount,
		CompletedCount: agg.CompletedCount,
		StartedAt:      agg.FirstCreated,
		LastActivityAt: agg.LastActivity,
		DurationMs:     agg.LastActivity.Sub(agg.FirstCreated).Milliseconds(),
	}
	if agg.AgentCount > 0 {
		s.CompletionRate = float64(agg.CompletedCount) / float64(agg.AgentCount)
	}

	switch {
	case agg.CompletedCount == agg.AgentCount && agg.AgentCount > 0:
		s.Status = string(model.StatusCompleted)
	case agg.CompletedCount > 0:
		s.Status = string(model.StatusActive)
	case agg.TerminatedCount > agg.ActiveCount:
		s.Status = string(model.StatusTerminated)
	default:
		s.Status = string(model.StatusActive)
	}
	return s
}
