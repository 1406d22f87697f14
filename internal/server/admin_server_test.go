package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/algorithm"
	"github.com/vanetlab/apsteer/internal/config"
	"github.com/vanetlab/apsteer/internal/handler"
	"github.com/vanetlab/apsteer/internal/health"
	"github.com/vanetlab/apsteer/internal/metrics"
	"github.com/vanetlab/apsteer/internal/model"
	"github.com/vanetlab/apsteer/internal/registry"
	"github.com/vanetlab/apsteer/internal/service"
	"github.com/vanetlab/apsteer/internal/store"
)

type staticDecisions struct {
	decision *service.Decision
}

func (s staticDecisions) LastDecision() (service.Decision, bool) {
	if s.decision == nil {
		return service.Decision{}, false
	}
	return *s.decision, true
}

type nopDatapath struct{ id model.DPID }

func (n nopDatapath) ID() model.DPID                      { return n.id }
func (n nopDatapath) InstallRule(model.FlowRule) error    { return nil }
func (n nopDatapath) DeleteRule(model.RuleSelector) error { return nil }
func (n nopDatapath) RequestStats() error                 { return nil }
func (n nopDatapath) PacketOut(model.PacketOut) error     { return nil }

type adminFixture struct {
	handler    http.Handler
	congestion *store.CongestionStore
	vehicles   *store.VehicleStore
	registry   *registry.SwitchRegistry
}

func newAdminFixture(t *testing.T, last *service.Decision) *adminFixture {
	t.Helper()

	cfg := config.DefaultConfig()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("test", reg)

	switches := registry.NewSwitchRegistry(zap.NewNop())
	congestion := store.NewCongestionStore()
	vehicles := store.NewVehicleStore(100, time.Minute)
	decision := service.NewDecisionService(
		algorithm.NewScorer(algorithm.DefaultWeights(), algorithm.DefaultRerouteThreshold), m, zap.NewNop())

	hc := health.NewHealthChecker(&health.HealthCheckConfig{NodeID: "test"}, health.Sources{
		ConnectedSwitches: switches.Len,
	}, zap.NewNop())
	hc.RunChecks(context.Background())

	handlers := handler.NewHandlers(switches, congestion, vehicles, decision, staticDecisions{decision: last}, nil, zap.NewNop())
	s := NewAdminServer(cfg, handlers, hc, m, reg, zap.NewNop())

	return &adminFixture{
		handler:    s.Handler(),
		congestion: congestion,
		vehicles:   vehicles,
		registry:   switches,
	}
}

func (f *adminFixture) get(t *testing.T, path string, into interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if into != nil {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(into))
	}
	return rec
}

func TestAdminServer_Congestion(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.congestion.Set(model.NewScalarRecord("ap2", 0.8, time.Now()))
	f.congestion.Set(model.NewFeatureRecord("ap1", model.FeatureVector{AvgPacketRate: 0.5}, time.Now()))

	var list struct {
		Count        int                       `json:"count"`
		Threshold    float64                   `json:"threshold"`
		AccessPoints []handler.CongestionEntry `json:"access_points"`
	}
	rec := f.get(t, "/api/v1/congestion", &list)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, 0.3, list.Threshold)
	require.Len(t, list.AccessPoints, 2)
	assert.Equal(t, model.APID("ap1"), list.AccessPoints[0].Record.APID)
	assert.True(t, list.AccessPoints[0].Reroute)
	assert.Equal(t, 1, list.AccessPoints[0].Rank)

	var one handler.CongestionEntry
	rec = f.get(t, "/api/v1/congestion/ap2", &one)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.8, one.Score)

	var missing handler.ErrorResponse
	rec = f.get(t, "/api/v1/congestion/ap9", &missing)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, handler.ErrorCodeNotFound, missing.ErrorCode)
	assert.NotEmpty(t, missing.RequestID)
}

func TestAdminServer_Switches(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.registry.Register(2, nopDatapath{id: 2}, "10.0.0.2:40000")
	f.registry.Register(1, nopDatapath{id: 1}, "10.0.0.1:40000")

	var body struct {
		Count    int                `json:"count"`
		Switches []model.SwitchInfo `json:"switches"`
	}
	f.get(t, "/api/v1/switches", &body)

	assert.Equal(t, 2, body.Count)
	assert.Equal(t, model.DPID(1), body.Switches[0].ID)
}

func TestAdminServer_Vehicles(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.vehicles.Upsert(model.VehicleTelemetry{VehicleID: "car-1", APID: "ap1", Timestamp: time.Now()})
	f.vehicles.Upsert(model.VehicleTelemetry{VehicleID: "car-2", APID: "ap2", Timestamp: time.Now()})

	var body struct {
		Count    int                      `json:"count"`
		Vehicles []model.VehicleTelemetry `json:"vehicles"`
	}
	f.get(t, "/api/v1/vehicles?ap_id=ap2", &body)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "car-2", body.Vehicles[0].VehicleID)

	var v model.VehicleTelemetry
	rec := f.get(t, "/api/v1/vehicles/car-1", &v)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.APID("ap1"), v.APID)

	rec = f.get(t, "/api/v1/vehicles/car-9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminServer_Decision(t *testing.T) {
	f := newAdminFixture(t, nil)
	rec := f.get(t, "/api/v1/decision", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	last := &service.Decision{ID: "d-1", Target: "ap1", HasTarget: true, Reroutes: []model.APID{"ap2"}}
	f = newAdminFixture(t, last)
	var d service.Decision
	rec = f.get(t, "/api/v1/decision", &d)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "d-1", d.ID)

	f.congestion.Set(model.NewScalarRecord("ap3", 0.2, time.Now()))
	var preview service.Decision
	f.get(t, "/api/v1/decision/preview", &preview)
	assert.Equal(t, model.APID("ap3"), preview.Target)
}

func TestAdminServer_ClusterDisabled(t *testing.T) {
	f := newAdminFixture(t, nil)

	var body map[string]interface{}
	f.get(t, "/api/v1/cluster", &body)
	assert.Equal(t, false, body["enabled"])
}

func TestAdminServer_HealthAndMetrics(t *testing.T) {
	f := newAdminFixture(t, nil)

	rec := f.get(t, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.get(t, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.get(t, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "apsteer_controller_")

	rec = f.get(t, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
