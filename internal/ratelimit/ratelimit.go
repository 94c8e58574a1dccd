// Package ratelimit provides fixed-window request counters keyed by an
// arbitrary token such as an API key or a client IP.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLimited is returned when the token has used its budget for the window.
var ErrLimited = errors.New("rate limit exceeded")

// Limiter admits or rejects one request for token.
type Limiter interface {
	Allow(ctx context.Context, token string) error
}

// FixedWindow counts requests per token in process memory. All counters reset
// together when the window elapses, so a token may see up to twice its limit
// across a window boundary.
type FixedWindow struct {
	limit    int
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	counts    map[string]int
	nextReset time.Time
}

// NewFixedWindow allows limit requests per token per interval.
func NewFixedWindow(limit int, interval time.Duration) *FixedWindow {
	return newFixedWindow(limit, interval, time.Now)
}

func newFixedWindow(limit int, interval time.Duration, now func() time.Time) *FixedWindow {
	return &FixedWindow{
		limit:     limit,
		interval:  interval,
		now:       now,
		counts:    make(map[string]int),
		nextReset: now().Add(interval),
	}
}

func (f *FixedWindow) Allow(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if !now.Before(f.nextReset) {
		clear(f.counts)
		f.nextReset = now.Add(f.interval)
	}
	if f.counts[token] >= f.limit {
		return ErrLimited
	}
	f.counts[token]++
	return nil
}
