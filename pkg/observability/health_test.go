package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(status HealthStatus) HealthChecker {
	return func(context.Context) HealthCheckResult { return HealthCheckResult{Status: status} }
}

func TestHealthRegistry_OverallStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks []HealthStatus
		want   HealthStatus
	}{
		{"no checks", nil, HealthStatusHealthy},
		{"all healthy", []HealthStatus{HealthStatusHealthy, HealthStatusHealthy}, HealthStatusHealthy},
		{"degraded wins over healthy", []HealthStatus{HealthStatusHealthy, HealthStatusDegraded}, HealthStatusDegraded},
		{"unhealthy wins over degraded", []HealthStatus{HealthStatusDegraded, HealthStatusUnhealthy, HealthStatusHealthy}, HealthStatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewHealthRegistry()
			for i, s := range tt.checks {
				r.Register(string(rune('a'+i)), fixed(s))
			}

			health := r.GetOverallHealth(context.Background())

			assert.Equal(t, tt.want, health.Status)
			assert.Len(t, health.Checks, len(tt.checks))
		})
	}
}

func TestHealthRegistry_CheckTimeout(t *testing.T) {
	r := NewHealthRegistry()
	r.SetTimeout(20 * time.Millisecond)
	r.Register("ledger", DatabaseHealthChecker(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	res := r.Check(context.Background())["ledger"]

	assert.Equal(t, HealthStatusUnhealthy, res.Status)
	assert.Contains(t, res.Message, context.DeadlineExceeded.Error())
	assert.GreaterOrEqual(t, res.Duration, 20*time.Millisecond)
	assert.False(t, res.Timestamp.IsZero())
}

func TestPingHealthCheckers(t *testing.T) {
	down := func(context.Context) error { return errors.New("connection refused") }
	up := func(context.Context) error { return nil }
	ctx := context.Background()

	assert.Equal(t, HealthStatusUnhealthy, DatabaseHealthChecker(down)(ctx).Status)
	assert.Equal(t, HealthStatusDegraded, RedisHealthChecker(down)(ctx).Status)
	assert.Equal(t, "redis: connection refused", RedisHealthChecker(down)(ctx).Message)
	assert.Equal(t, HealthStatusHealthy, RedisHealthChecker(up)(ctx).Status)

	stats := StatsHealthChecker(func() map[string]any { return map[string]any{"published": 3} })(ctx)
	assert.Equal(t, HealthStatusHealthy, stats.Status)
	assert.Equal(t, 3, stats.Details["published"])
}

func TestHealthRegistry_Handler(t *testing.T) {
	r := NewHealthRegistry()
	r.Register("redis", fixed(HealthStatusDegraded))

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body OverallHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, HealthStatusDegraded, body.Status)
	assert.Equal(t, HealthStatusDegraded, body.Checks["redis"].Status)

	r.Register("ledger", fixed(HealthStatusUnhealthy))
	rec = httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
