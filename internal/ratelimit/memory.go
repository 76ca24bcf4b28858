package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Buckets idle longer than this are dropped by the eviction loop, which runs
// once per evictEvery. Together they bound the map to recently active keys.
const (
	bucketIdleTTL = 10 * time.Minute
	evictEvery    = time.Minute
)

// bucket tracks the remaining allowance for one key. Refill happens lazily on
// access, so an untouched bucket costs nothing between requests.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// MemoryLimiter is a per-key token bucket held entirely in process memory.
// Each key refills at refillRate tokens per second up to capacity; requests
// spend one token each. A background loop evicts idle keys so the map stays
// proportional to live traffic.
type MemoryLimiter struct {
	refillRate float64
	capacity   float64

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter returns a limiter sustaining rate requests per second per
// key with bursts up to burst. Close stops the eviction loop.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		refillRate: rate,
		capacity:   float64(burst),
		buckets:    make(map[string]*bucket),
		done:       make(chan struct{}),
	}
	go m.evictLoop()
	return m
}

// Allow spends one token from key's bucket, reporting false when the bucket
// is empty. A key's first request starts from a full bucket.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.buckets[key]
	if !ok {
		m.buckets[key] = &bucket{tokens: m.capacity - 1, lastSeen: now}
		return true, nil
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * m.refillRate
	if b.tokens > m.capacity {
		b.tokens = m.capacity
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the eviction loop. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) evictLoop() {
	ticker := time.NewTicker(evictEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *MemoryLimiter) evictIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-bucketIdleTTL)
	for key, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
