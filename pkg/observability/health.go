package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus is the state of one component or of the whole service.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// DefaultCheckTimeout bounds a single check when the registry has none set.
const DefaultCheckTimeout = 5 * time.Second

func (s HealthStatus) severity() int {
	switch s {
	case HealthStatusHealthy:
		return 0
	case HealthStatusDegraded:
		return 1
	}
	return 2
}

// HealthCheckResult is what one check reports.
type HealthCheckResult struct {
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message,omitempty"`
	Duration  time.Duration  `json:"duration_ns"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthChecker performs a health check. It should return promptly once ctx
// is done.
type HealthChecker func(ctx context.Context) HealthCheckResult

// HealthRegistry holds named checks and runs them together.
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	timeout  time.Duration
}

func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{checkers: make(map[string]HealthChecker), timeout: DefaultCheckTimeout}
}

// SetTimeout changes the per-check deadline.
func (r *HealthRegistry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
}

// Register adds or replaces the check for a component.
func (r *HealthRegistry) Register(name string, checker HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
}

// Check runs every registered check concurrently, each under the registry
// timeout.
func (r *HealthRegistry) Check(ctx context.Context) map[string]HealthCheckResult {
	r.mu.RLock()
	timeout := r.timeout
	checkers := make(map[string]HealthChecker, len(r.checkers))
	for name, c := range r.checkers {
		checkers[name] = c
	}
	r.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]HealthCheckResult, len(checkers))
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checkers {
		g.Go(func() error {
			res := runCheck(gctx, timeout, check)
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runCheck(ctx context.Context, timeout time.Duration, check HealthChecker) HealthCheckResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	res := check(ctx)
	res.Duration = time.Since(start)
	res.Timestamp = time.Now()
	return res
}

// OverallHealth is the worst status across all checks.
type OverallHealth struct {
	Status    HealthStatus                 `json:"status"`
	Timestamp time.Time                    `json:"timestamp"`
	Checks    map[string]HealthCheckResult `json:"checks"`
}

// GetOverallHealth runs all checks and reports the most severe status.
func (r *HealthRegistry) GetOverallHealth(ctx context.Context) OverallHealth {
	checks := r.Check(ctx)
	status := HealthStatusHealthy
	for _, res := range checks {
		if res.Status.severity() > status.severity() {
			status = res.Status
		}
	}
	return OverallHealth{Status: status, Timestamp: time.Now(), Checks: checks}
}

// Handler serves the overall health as JSON, with 503 when unhealthy.
func (r *HealthRegistry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		health := r.GetOverallHealth(req.Context())

		code := http.StatusOK
		if health.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(health)
	}
}

// PingHealthChecker turns a ping into a check; a failed ping reports failStatus.
func PingHealthChecker(component string, failStatus HealthStatus, ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheckResult {
		if err := ping(ctx); err != nil {
			return HealthCheckResult{Status: failStatus, Message: component + ": " + err.Error()}
		}
		return HealthCheckResult{Status: HealthStatusHealthy}
	}
}

// DatabaseHealthChecker checks the ledger store. Nothing works without it.
func DatabaseHealthChecker(ping func(ctx context.Context) error) HealthChecker {
	return PingHealthChecker("ledger store", HealthStatusUnhealthy, ping)
}

// RedisHealthChecker checks the licence cache. Reads fall back to the
// ledger, so a failure only degrades the service.
func RedisHealthChecker(ping func(ctx context.Context) error) HealthChecker {
	return PingHealthChecker("redis", HealthStatusDegraded, ping)
}

// StatsHealthChecker always reports healthy and exposes stats as details.
func StatsHealthChecker(stats func() map[string]any) HealthChecker {
	return func(context.Context) HealthCheckResult {
		return HealthCheckResult{Status: HealthStatusHealthy, Details: stats()}
	}
}
