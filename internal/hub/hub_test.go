package hub_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kansoku/internal/hub"
	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/testutil"
)

// fakeObserver records received envelopes; fail makes every Send error.
type fakeObserver struct {
	mu   sync.Mutex
	got  []model.Envelope
	fail bool
}

func (f *fakeObserver) Send(env model.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("gone")
	}
	f.got = append(f.got, env)
	return nil
}

func (f *fakeObserver) received() []model.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Envelope(nil), f.got...)
}

func TestLegacyObserverReceivesEverything(t *testing.T) {
	h := hub.New(testutil.TestLogger())
	obs := &fakeObserver{}
	h.AddLegacy(obs)

	h.PublishEvent(model.Event{SessionID: "s1", EventType: "PreToolUse"}, nil)
	h.PublishEvent(model.Event{SessionID: "s2", EventType: "PreToolUse"}, nil)

	got := obs.received()
	require.Len(t, got, 2)
	assert.Equal(t, model.EnvelopeEvent, got[0].Type)
}

func TestScopedObserverFiltersBySession(t *testing.T) {
	h := hub.New(testutil.TestLogger())
	obs := &fakeObserver{}
	h.AddScoped(obs)

	// Empty subscription set receives nothing.
	h.PublishEvent(model.Event{SessionID: "s1"}, nil)
	assert.Empty(t, obs.received())

	h.Subscribe(obs, []string{"s1"})
	h.PublishEvent(model.Event{SessionID: "s1"}, nil)
	h.PublishEvent(model.Event{SessionID: "s2"}, nil)

	got := obs.received()
	require.Len(t, got, 1)
	assert.Equal(t, model.EnvelopeSessionEvent, got[0].Type)
	assert.Equal(t, "s1", got[0].SessionID)

	h.Unsubscribe(obs, []string{"s1"})
	h.PublishEvent(model.Event{SessionID: "s1"}, nil)
	assert.Len(t, obs.received(), 1)
}

func TestPriorityEventsUsePriorityEnvelopes(t *testing.T) {
	h := hub.New(testutil.TestLogger())
	legacy := &fakeObserver{}
	scoped := &fakeObserver{}
	h.AddLegacy(legacy)
	h.AddScoped(scoped)
	h.Subscribe(scoped, []string{"s1"})

	h.PublishEvent(model.Event{SessionID: "s1", Priority: model.TierPriority}, nil)

	require.Len(t, legacy.received(), 1)
	assert.Equal(t, model.EnvelopePriorityEvent, legacy.received()[0].Type)
	require.Len(t, scoped.received(), 1)
	assert.Equal(t, model.EnvelopeSessionPriority, scoped.received()[0].Type)
}

func TestDeadObserverIsPrunedWithoutAbortingBroadcast(t *testing.T) {
	h := hub.New(testutil.TestLogger())
	dead := &fakeObserver{fail: true}
	alive := &fakeObserver{}
	h.AddLegacy(dead)
	h.AddLegacy(alive)

	h.PublishEvent(model.Event{SessionID: "s1"}, nil)
	assert.Len(t, alive.received(), 1, "healthy observer must still receive")
	assert.Equal(t, 1, h.Observers(), "dead observer must be pruned")

	h.PublishEvent(model.Event{SessionID: "s1"}, nil)
	assert.Len(t, alive.received(), 2)
}

func TestRemoveIsIdempotentAndDeterministic(t *testing.T) {
	h := hub.New(testutil.TestLogger())
	obs := &fakeObserver{}
	h.AddScoped(obs)
	h.Subscribe(obs, []string{"s1"})

	h.Remove(obs)
	h.Remove(obs)
	assert.Zero(t, h.Observers())

	h.PublishEvent(model.Event{SessionID: "s1"}, nil)
	assert.Empty(t, obs.received())

	// Subscribing after removal is a no-op, not a resurrection.
	h.Subscribe(obs, []string{"s1"})
	h.PublishEvent(model.Event{SessionID: "s1"}, nil)
	assert.Empty(t, obs.received())
}

func TestPublishSubagentReachesSubscribers(t *testing.T) {
	h := hub.New(testutil.TestLogger())
	legacy := &fakeObserver{}
	scoped := &fakeObserver{}
	other := &fakeObserver{}
	h.AddLegacy(legacy)
	h.AddScoped(scoped)
	h.AddScoped(other)
	h.Subscribe(scoped, []string{"s1"})
	h.Subscribe(other, []string{"s2"})

	h.PublishSubagent("s1", map[string]any{"action": "registered"})

	assert.Len(t, legacy.received(), 1)
	require.Len(t, scoped.received(), 1)
	assert.Equal(t, model.EnvelopeSubagentUpdate, scoped.received()[0].Type)
	assert.Empty(t, other.received())
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	h := hub.New(testutil.TestLogger())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		obs := &fakeObserver{}
		h.AddScoped(obs)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Subscribe(obs, []string{"s1"})
				h.Unsubscribe(obs, []string{"s1"})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.PublishEvent(model.Event{SessionID: "s1"}, nil)
			}
		}()
	}
	wg.Wait()
}
