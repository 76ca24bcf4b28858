// Package hub fans out events and registry changes to live observers.
//
// Two observer populations exist: legacy observers receive every event
// unfiltered, session-scoped observers receive only events whose session id
// is in their subscription set. Sends are best-effort; an observer whose Send
// fails is dropped from every collection and the broadcast continues to the
// remaining recipients.
package hub

import (
	"log/slog"
	"sync"

	"github.com/ashita-ai/kansoku/internal/model"
)

// Observer is one live connection. Send must not block indefinitely: the
// transport adapter owns buffering and reports a full or closed connection as
// an error, which the hub treats as death.
type Observer interface {
	Send(env model.Envelope) error
}

// Hub routes envelopes to observers. Safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	legacy map[Observer]struct{}
	scoped map[Observer]map[string]struct{}
	logger *slog.Logger
}

// New creates an empty hub.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		legacy: make(map[Observer]struct{}),
		scoped: make(map[Observer]map[string]struct{}),
		logger: logger,
	}
}

// AddLegacy registers an unfiltered observer.
func (h *Hub) AddLegacy(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.legacy[o] = struct{}{}
}

// AddScoped registers a session-scoped observer with an empty subscription
// set. It receives nothing until it subscribes.
func (h *Hub) AddScoped(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scoped[o] = make(map[string]struct{})
}

// Remove deletes an observer from every collection. Called on disconnect and
// on send failure; idempotent.
func (h *Hub) Remove(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.legacy, o)
	delete(h.scoped, o)
}

// Subscribe adds session ids to an observer's subscription set. Unknown
// observers are ignored: a control frame can race its own disconnect.
func (h *Hub) Subscribe(o Observer, sessionIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.scoped[o]
	if !ok {
		return
	}
	for _, id := range sessionIDs {
		set[id] = struct{}{}
	}
}

// Unsubscribe removes session ids from an observer's subscription set.
func (h *Hub) Unsubscribe(o Observer, sessionIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.scoped[o]
	if !ok {
		return
	}
	for _, id := range sessionIDs {
		delete(set, id)
	}
}

// Observers returns the current connection count across both populations.
func (h *Hub) Observers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.legacy) + len(h.scoped)
}

// PublishEvent fans a freshly persisted event out to every legacy observer
// and to the session-scoped observers subscribed to its session. Tier-1
// events use the priority envelope types so clients can render them apart.
func (h *Hub) PublishEvent(ev model.Event, info *model.PriorityInfo) {
	legacyType := model.EnvelopeEvent
	scopedType := model.EnvelopeSessionEvent
	if ev.Priority >= model.TierPriority {
		legacyType = model.EnvelopePriorityEvent
		scopedType = model.EnvelopeSessionPriority
	}

	h.broadcast(ev.SessionID,
		model.Envelope{Type: legacyType, Data: ev, PriorityInfo: info},
		model.Envelope{Type: scopedType, Data: ev, SessionID: ev.SessionID, PriorityInfo: info},
	)
}

// PublishSubagent fans a registry change (registration, completion,
// termination) out to legacy observers and to the session's subscribers.
func (h *Hub) PublishSubagent(sessionID string, data any) {
	h.broadcast(sessionID,
		model.Envelope{Type: model.EnvelopeSubagentUpdate, Data: data},
		model.Envelope{Type: model.EnvelopeSubagentUpdate, Data: data, SessionID: sessionID},
	)
}

// broadcast delivers the legacy envelope to every legacy observer and the
// scoped envelope to matching session-scoped observers, pruning dead ones.
func (h *Hub) broadcast(sessionID string, legacyEnv, scopedEnv model.Envelope) {
	h.mu.Lock()
	targets := make([]deliverTo, 0, len(h.legacy)+len(h.scoped))
	for o := range h.legacy {
		targets = append(targets, deliverTo{o, legacyEnv})
	}
	for o, set := range h.scoped {
		if _, ok := set[sessionID]; ok {
			targets = append(targets, deliverTo{o, scopedEnv})
		}
	}
	h.mu.Unlock()

	// Sends happen outside the lock so a slow adapter never stalls
	// subscription management.
	var dead []Observer
	for _, t := range targets {
		if err := t.observer.Send(t.env); err != nil {
			dead = append(dead, t.observer)
		}
	}
	for _, o := range dead {
		h.Remove(o)
	}
	if len(dead) > 0 {
		h.logger.Debug("dead observers pruned", "count", len(dead))
	}
}

type deliverTo struct {
	observer Observer
	env      model.Envelope
}
