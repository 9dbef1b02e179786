// internal/monitoring/health.go
package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// CheckFunc probes one dependency, e.g. a database ping.
type CheckFunc func(ctx context.Context) error

// HealthCheck is the last result of a named check.
type HealthCheck struct {
	Name     string        `json:"name"`
	Status   HealthStatus  `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Critical bool          `json:"critical"`
}

// SystemHealth represents overall system health information
type SystemHealth struct {
	Status         HealthStatus  `json:"status"`
	Timestamp      time.Time     `json:"timestamp"`
	Version        string        `json:"version,omitempty"`
	Uptime         time.Duration `json:"uptime"`
	GoroutineCount int           `json:"goroutine_count"`
	Checks         []HealthCheck `json:"checks"`
}

type registeredCheck struct {
	fn       CheckFunc
	critical bool
}

// HealthManager runs dependency checks on demand.
type HealthManager struct {
	mu      sync.RWMutex
	checks  map[string]registeredCheck
	timeout time.Duration
	version string
	started time.Time
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string, timeout time.Duration) *HealthManager {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthManager{
		checks:  make(map[string]registeredCheck),
		timeout: timeout,
		version: version,
		started: time.Now(),
	}
}

// RegisterCheck adds a named check. A failing critical check makes the whole
// system unhealthy; a failing non-critical one only degrades it.
func (hm *HealthManager) RegisterCheck(name string, critical bool, fn CheckFunc) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[name] = registeredCheck{fn: fn, critical: critical}
}

// Check runs every registered check concurrently.
func (hm *HealthManager) Check(ctx context.Context) SystemHealth {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	checks := make(map[string]registeredCheck, len(hm.checks))
	for k, v := range hm.checks {
		checks[k] = v
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	results := make([]HealthCheck, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string, c registeredCheck) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, hm.timeout)
			defer cancel()

			start := time.Now()
			err := c.fn(checkCtx)
			res := HealthCheck{
				Name:     name,
				Status:   HealthStatusHealthy,
				Duration: time.Since(start),
				Critical: c.critical,
			}
			if err != nil {
				res.Status = HealthStatusUnhealthy
				res.Error = err.Error()
			}
			results[i] = res
		}(i, name, checks[name])
	}
	wg.Wait()

	overall := HealthStatusHealthy
	for _, r := range results {
		if r.Status != HealthStatusUnhealthy {
			continue
		}
		if r.Critical {
			overall = HealthStatusUnhealthy
		} else if overall == HealthStatusHealthy {
			overall = HealthStatusDegraded
		}
	}

	return SystemHealth{
		Status:         overall,
		Timestamp:      time.Now(),
		Version:        hm.version,
		Uptime:         time.Since(hm.started),
		GoroutineCount: runtime.NumGoroutine(),
		Checks:         results,
	}
}

// Handler serves the health report; unhealthy systems answer 503.
func (hm *HealthManager) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hm.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	}
}
