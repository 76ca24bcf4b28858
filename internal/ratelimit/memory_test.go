package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, rate float64, burst int) *MemoryLimiter {
	t.Helper()
	m := NewMemoryLimiter(rate, burst)
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m
}

func TestMemoryLimiterBurstThenDeny(t *testing.T) {
	m := newLimiter(t, 10, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d is inside the burst", i)
	}

	ok, err := m.Allow(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok, "burst spent, next request must be denied")
}

func TestMemoryLimiterRefill(t *testing.T) {
	// 1000 tokens/s refills one per millisecond; drain burst 2 and wait.
	m := newLimiter(t, 1000, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = m.Allow(ctx, "k1")
	}
	ok, err := m.Allow(ctx, "k1")
	require.NoError(t, err)
	require.False(t, ok)

	time.Sleep(5 * time.Millisecond)

	ok, err = m.Allow(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok, "tokens must come back after the refill interval")
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	m := newLimiter(t, 10, 1)
	ctx := context.Background()

	ok, err := m.Allow(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = m.Allow(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = m.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok, "draining one key must not touch another")
}

func TestMemoryLimiterConcurrentSpend(t *testing.T) {
	m := newLimiter(t, 100, 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	allowed := make([]int, 10)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				ok, err := m.Allow(ctx, "shared")
				assert.NoError(t, err)
				if ok {
					allowed[idx]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, c := range allowed {
		total += c
	}
	// 100 concurrent requests against capacity 50: the bucket caps what gets
	// through, and at least the first spend must land.
	assert.GreaterOrEqual(t, total, 1)
	assert.LessOrEqual(t, total, 50)
}

func TestMemoryLimiterEvictsIdleBuckets(t *testing.T) {
	m := newLimiter(t, 10, 5)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "idle")
	_, _ = m.Allow(ctx, "busy")

	m.mu.Lock()
	m.buckets["idle"].lastSeen = time.Now().Add(-15 * time.Minute)
	m.mu.Unlock()

	m.evictIdle()

	m.mu.Lock()
	_, idleExists := m.buckets["idle"]
	_, busyExists := m.buckets["busy"]
	m.mu.Unlock()

	assert.False(t, idleExists, "idle bucket must be evicted")
	assert.True(t, busyExists, "recently used bucket must survive")
}

func TestMemoryLimiterRefillCapsAtCapacity(t *testing.T) {
	m := newLimiter(t, 1000, 3)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "k1")

	// A long idle stretch refills far more than capacity; the cap holds.
	m.mu.Lock()
	m.buckets["k1"].lastSeen = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d fits inside capacity", i)
	}
	ok, err := m.Allow(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok, "capacity is the ceiling regardless of idle time")
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l NoopLimiter
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		ok, err := l.Allow(ctx, "anything")
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.NoError(t, l.Close())
}
