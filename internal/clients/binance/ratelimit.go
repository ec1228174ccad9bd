package binance

import (
	"context"
	"sync"
	"time"
)

// RateLimiter combines a request-spacing gate with a bounded
// concurrency semaphore. Spacing is the larger of the per-minute
// budget interval and the configured minimum inter-request delay.
type RateLimiter struct {
	sem      chan struct{}
	mu       sync.Mutex
	next     time.Time
	interval time.Duration
}

// NewRateLimiter creates a limiter for requestsPerMinute with a
// minimum delay between requests and at most maxConcurrent in flight.
func NewRateLimiter(requestsPerMinute int, minDelay time.Duration, maxConcurrent int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1200
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	interval := time.Minute / time.Duration(requestsPerMinute)
	if minDelay > interval {
		interval = minDelay
	}
	return &RateLimiter{
		sem:      make(chan struct{}, maxConcurrent),
		interval: interval,
	}
}

// Acquire blocks until a concurrency slot and the next request window
// are available. The slot is released immediately if ctx is cancelled
// while waiting for the window.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.mu.Lock()
	now := time.Now()
	wait := l.next.Sub(now)
	if wait < 0 {
		wait = 0
		l.next = now
	}
	l.next = l.next.Add(l.interval)
	l.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			<-l.sem
			return ctx.Err()
		}
	}
	return nil
}

// Release returns the concurrency slot.
func (l *RateLimiter) Release() {
	<-l.sem
}

// Pause pushes the next request window forward, used when the
// provider answers 429 with a Retry-After.
func (l *RateLimiter) Pause(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	notBefore := time.Now().Add(d)
	if notBefore.After(l.next) {
		l.next = notBefore
	}
}
