// Package ratelimit throttles the ingest, query and poll surfaces.
//
// Keys are namespaced by route class and client address ("ingest:10.0.0.1"),
// so a chatty hook cannot starve the dashboards. The Limiter interface keeps
// the policy pluggable; the in-process token bucket below is the only
// implementation today, and a single kansoku instance needs no more.
package ratelimit

import "context"

// Limiter decides whether the request behind key may proceed. Implementations
// must be safe for concurrent use.
type Limiter interface {
	// Allow reports whether the request should proceed. The key is opaque;
	// middleware builds it from the route class and the client address. An
	// error means the limiter itself broke — callers fail open, never
	// dropping traffic on a limiter malfunction.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases whatever the limiter holds (goroutines, connections).
	Close() error
}

// NoopLimiter permits everything. Wired when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always permits.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
