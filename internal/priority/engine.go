package priority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ashita-ai/kansoku/internal/config"
	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/storage"
)

// Store is the slice of the storage layer the engine reads through.
type Store interface {
	RecentEvents(ctx context.Context, limit int) ([]model.Event, error)
	EventsByTierWindow(ctx context.Context, tier int, cutoff time.Time, limit int) ([]model.Event, error)
	SessionEvents(ctx context.Context, sessionID string, eventTypes []string, priorityCutoff, regularCutoff time.Time) ([]model.Event, error)
	CountEventsByTier(ctx context.Context, priorityCutoff, regularCutoff time.Time) (int, int, error)
}

// Engine performs priority-aware retrieval. It is stateless: retention limits
// come from the config passed per call, so operators can retune them between
// requests.
type Engine struct {
	store  Store
	logger *slog.Logger
}

// NewEngine creates a retrieval engine backed by store.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Recent returns the retained event set: up to cfg.PriorityLimit tier-1
// events inside the priority window plus up to cfg.RegularLimit tier-0 events
// inside the regular window, merged ascending and trimmed to cfg.TotalLimit
// with the tier-1 floor preserved. On a store without priority columns it
// degrades to plain newest-N retrieval.
func (e *Engine) Recent(ctx context.Context, cfg config.Priority) ([]model.Event, error) {
	now := time.Now().UTC()
	priorityCutoff := now.Add(-time.Duration(cfg.PriorityRetentionHours) * time.Hour)
	regularCutoff := now.Add(-time.Duration(cfg.RegularRetentionHours) * time.Hour)

	prio, err := e.store.EventsByTierWindow(ctx, model.TierPriority, priorityCutoff, cfg.PriorityLimit)
	if errors.Is(err, storage.ErrDegradedSchema) {
		e.logger.Debug("priority retrieval degraded, falling back to unclassified")
		return e.store.RecentEvents(ctx, cfg.TotalLimit)
	}
	if err != nil {
		return nil, fmt.Errorf("priority: fetch tier-1 events: %w", err)
	}

	reg, err := e.store.EventsByTierWindow(ctx, model.TierRegular, regularCutoff, cfg.RegularLimit)
	if err != nil {
		return nil, fmt.Errorf("priority: fetch tier-0 events: %w", err)
	}

	merged := make([]model.Event, 0, len(prio)+len(reg))
	merged = append(merged, prio...)
	merged = append(merged, reg...)
	sortAscending(merged)

	return applyLimit(merged, cfg.TotalLimit), nil
}

// Session returns a session's events inside the per-tier retention windows,
// ascending, optionally narrowed to the given event types. Time-bounded, not
// count-bounded. The storage layer itself skips the cutoffs on a degraded
// store.
func (e *Engine) Session(ctx context.Context, sessionID string, eventTypes []string, cfg config.Priority) ([]model.Event, error) {
	now := time.Now().UTC()
	priorityCutoff := now.Add(-time.Duration(cfg.PriorityRetentionHours) * time.Hour)
	regularCutoff := now.Add(-time.Duration(cfg.RegularRetentionHours) * time.Hour)

	events, err := e.store.SessionEvents(ctx, sessionID, eventTypes, priorityCutoff, regularCutoff)
	if err != nil {
		return nil, fmt.Errorf("priority: session events: %w", err)
	}
	return events, nil
}

// Info describes the live retention state for observers. On a degraded store
// the counts are zero but the configured limits are still reported.
func (e *Engine) Info(ctx context.Context, cfg config.Priority) model.PriorityInfo {
	info := model.PriorityInfo{
		TotalLimit:             cfg.TotalLimit,
		PriorityLimit:          cfg.PriorityLimit,
		RegularLimit:           cfg.RegularLimit,
		PriorityRetentionHours: cfg.PriorityRetentionHours,
		RegularRetentionHours:  cfg.RegularRetentionHours,
	}

	now := time.Now().UTC()
	priorityCutoff := now.Add(-time.Duration(cfg.PriorityRetentionHours) * time.Hour)
	regularCutoff := now.Add(-time.Duration(cfg.RegularRetentionHours) * time.Hour)

	prio, reg, err := e.store.CountEventsByTier(ctx, priorityCutoff, regularCutoff)
	if err != nil {
		if !errors.Is(err, storage.ErrDegradedSchema) {
			e.logger.Warn("priority info counts unavailable", "error", err)
		}
		return info
	}
	info.PriorityCount = prio
	info.RegularCount = reg
	return info
}

// applyLimit trims an ascending merged set down to totalLimit while
// preserving the tier-1 floor: up to floor(totalLimit*0.7) slots go to the
// most-recent tier-1 events, the rest to the most-recent tier-0 events. The
// survivors are re-sorted ascending. Pure; does not mutate its input slice
// beyond reuse of the backing arrays of the split halves.
func applyLimit(events []model.Event, totalLimit int) []model.Event {
	if len(events) <= totalLimit {
		return events
	}

	var tier1, tier0 []model.Event
	for _, e := range events {
		if e.Priority >= model.TierPriority {
			tier1 = append(tier1, e)
		} else {
			tier0 = append(tier0, e)
		}
	}

	// Tail of an ascending slice = most recent.
	floor := totalLimit * 7 / 10
	keep1 := min(len(tier1), floor)
	keep0 := min(len(tier0), totalLimit-keep1)
	// Tier-0 underfilling its share hands the slack back to tier-1.
	if keep1+keep0 < totalLimit {
		keep1 = min(len(tier1), totalLimit-keep0)
	}

	selected := make([]model.Event, 0, keep1+keep0)
	selected = append(selected, tier1[len(tier1)-keep1:]...)
	selected = append(selected, tier0[len(tier0)-keep0:]...)
	sortAscending(selected)
	return selected
}

func sortAscending(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].ID < events[j].ID
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
