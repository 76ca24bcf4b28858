// Package priority implements the tiered retention engine: classification of
// incoming events into priority tiers and the dual-window, dual-budget
// retrieval policy that keeps important events visible longer.
package priority

import (
	"time"

	"github.com/ashita-ai/kansoku/internal/model"
)

// tierTable is the fixed event-type → tier mapping. Types not listed are
// tier 0. Classification ignores the payload today; the Classify signature
// keeps it so payload-based refinement needs no call-site changes.
var tierTable = map[string]int{
	model.EventUserPromptSubmit: model.TierPriority,
	model.EventNotification:     model.TierPriority,
	model.EventStop:             model.TierPriority,
}

// Classify assigns a tier to an event. Pure and total: every event type maps
// to exactly one tier, unknown types to the regular tier.
func Classify(eventType string, _ map[string]any) int {
	if tier, ok := tierTable[eventType]; ok {
		return tier
	}
	return model.TierRegular
}

// Metadata builds the classification record stored alongside a tier-1 event.
// Tier-0 events carry no metadata.
func Metadata(eventType string, tier int, now time.Time) *model.PriorityMetadata {
	if tier == model.TierRegular {
		return nil
	}
	return &model.PriorityMetadata{
		ClassifiedAt:    now.UTC(),
		Reason:          "event_type:" + eventType,
		RetentionPolicy: "priority_window",
	}
}
