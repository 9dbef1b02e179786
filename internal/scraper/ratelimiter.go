// internal/scraper/ratelimiter.go
package scraper

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// MaxBackoffMultiplier caps how far a host's interval stretches.
	MaxBackoffMultiplier = 8.0

	// MaxHostInterval caps the interval regardless of the multiplier.
	MaxHostInterval = time.Minute

	// backoffFactor is applied per consecutive throttled response.
	backoffFactor = 2.0

	// recoveryFactor shrinks the multiplier on every success.
	recoveryFactor = 0.5
)

// HostLimiter spaces requests to one host. The interval starts at the
// source's politeness delay and stretches while the host answers with
// throttling errors, then relaxes back as requests succeed.
type HostLimiter struct {
	mu              sync.Mutex
	limiter         *rate.Limiter
	baseInterval    time.Duration
	multiplier      float64
	consecutiveErrs int
	successCount    int64
	errorCount      int64
}

// NewHostLimiter creates a limiter allowing one request per interval.
func NewHostLimiter(interval time.Duration) *HostLimiter {
	return &HostLimiter{
		limiter:      rate.NewLimiter(rate.Every(interval), 1),
		baseInterval: interval,
		multiplier:   1,
	}
}

// Wait blocks until the next request may be sent.
func (l *HostLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// SetBaseInterval changes the politeness delay, keeping any backoff.
func (l *HostLimiter) SetBaseInterval(interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if interval == l.baseInterval {
		return
	}
	l.baseInterval = interval
	l.apply()
}

// ReportSuccess relaxes the backoff.
func (l *HostLimiter) ReportSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.successCount++
	l.consecutiveErrs = 0
	if l.multiplier > 1 {
		l.multiplier = math.Max(1, l.multiplier*recoveryFactor)
		l.apply()
	}
}

// ReportThrottled stretches the interval after a 429, 5xx or timeout.
func (l *HostLimiter) ReportThrottled() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorCount++
	l.consecutiveErrs++
	l.multiplier = math.Min(l.multiplier*backoffFactor, MaxBackoffMultiplier)
	l.apply()
}

// Interval returns the current spacing between requests.
func (l *HostLimiter) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval()
}

// HostLimiterStats is a snapshot for logs and diagnostics.
type HostLimiterStats struct {
	Interval        time.Duration
	Multiplier      float64
	ConsecutiveErrs int
	Successes       int64
	Errors          int64
}

func (l *HostLimiter) Stats() HostLimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return HostLimiterStats{
		Interval:        l.interval(),
		Multiplier:      l.multiplier,
		ConsecutiveErrs: l.consecutiveErrs,
		Successes:       l.successCount,
		Errors:          l.errorCount,
	}
}

// must hold mu
func (l *HostLimiter) interval() time.Duration {
	d := time.Duration(float64(l.baseInterval) * l.multiplier)
	if d > MaxHostInterval && l.baseInterval < MaxHostInterval {
		d = MaxHostInterval
	}
	return d
}

// must hold mu
func (l *HostLimiter) apply() {
	l.limiter.SetLimit(rate.Every(l.interval()))
}
