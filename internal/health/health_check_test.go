package health

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
	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/model"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestChecker(cfg *HealthCheckConfig, sources Sources) *HealthChecker {
	hc := NewHealthChecker(cfg, sources, zap.NewNop())
	hc.disk = func(string) (int64, int64, error) { return 40, 60, nil }
	return hc
}

func healthySources(switches int, last time.Time) Sources {
	return Sources{
		ConnectedSwitches: func() int { return switches },
		TrackedAPs:        func() int { return 3 },
		TrackedVehicles:   func() int { return 12 },
		LastPrediction:    func() (time.Time, bool) { return last, !last.IsZero() },
	}
}

func TestHealthChecker_RunChecks(t *testing.T) {
	tests := []struct {
		name    string
		sources Sources
		deps    map[string]Pinger
		status  model.NodeStatus
		ready   bool
	}{
		{
			name:    "healthy",
			sources: healthySources(2, time.Now()),
			status:  model.NodeStatusHealthy,
			ready:   true,
		},
		{
			name:    "no switches is degraded",
			sources: healthySources(0, time.Now()),
			status:  model.NodeStatusDegraded,
			ready:   true,
		},
		{
			name:    "stale predictions is degraded",
			sources: healthySources(2, time.Now().Add(-time.Hour)),
			status:  model.NodeStatusDegraded,
			ready:   true,
		},
		{
			name:    "unreachable dependency",
			sources: healthySources(2, time.Now()),
			deps: map[string]Pinger{
				"postgres": pingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
			},
			status: model.NodeStatusUnhealthy,
			ready:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := newTestChecker(&HealthCheckConfig{
				NodeID:       "test",
				LogDir:       t.TempDir(),
				StaleAfter:   time.Minute,
				Dependencies: tt.deps,
			}, tt.sources)

			hc.RunChecks(context.Background())

			assert.Equal(t, tt.status, hc.GetStatus().Status)
			assert.Equal(t, tt.ready, hc.IsReady())
			assert.Equal(t, StatusHealthy, hc.GetChecks()["log_dir"].Status)
		})
	}
}

func TestHealthChecker_MissingLogDirIsCritical(t *testing.T) {
	hc := NewHealthChecker(&HealthCheckConfig{LogDir: "/nonexistent/apsteer"}, healthySources(1, time.Now()), zap.NewNop())

	hc.RunChecks(context.Background())

	assert.False(t, hc.IsReady())
	assert.Equal(t, StatusCritical, hc.GetChecks()["log_dir"].Status)
}

func TestHealthChecker_DiskSpace(t *testing.T) {
	hc := newTestChecker(&HealthCheckConfig{LogDir: t.TempDir()}, healthySources(1, time.Now()))
	hc.disk = func(string) (int64, int64, error) { return 97, 3, nil }

	hc.RunChecks(context.Background())

	assert.Equal(t, StatusCritical, hc.GetChecks()["disk_space"].Status)
	assert.False(t, hc.IsReady())
}

func TestHealthChecker_Metrics(t *testing.T) {
	hc := NewHealthChecker(&HealthCheckConfig{}, healthySources(2, time.Now().Add(-10*time.Second)), zap.NewNop())

	m := hc.Metrics()
	assert.Equal(t, 2, m.ConnectedSwitches)
	assert.Equal(t, 3, m.TrackedAPs)
	assert.Equal(t, 12, m.TrackedVehicles)
	assert.InDelta(t, 10, m.LastPredictionAge, 1)

	empty := NewHealthChecker(&HealthCheckConfig{}, Sources{}, zap.NewNop())
	assert.Equal(t, -1.0, empty.Metrics().LastPredictionAge)
}

func TestHealthChecker_Handlers(t *testing.T) {
	hc := newTestChecker(&HealthCheckConfig{LogDir: t.TempDir()}, healthySources(1, time.Now()))
	hc.RunChecks(context.Background())

	rec := httptest.NewRecorder()
	hc.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	hc.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ready", body.Status)
	assert.Contains(t, body.Checks, "switches")

	hc.SetReadiness(false)
	rec = httptest.NewRecorder()
	hc.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
