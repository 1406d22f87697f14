package store

import (
	"sort"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/vanetlab/apsteer/internal/model"
)

// VehicleStore keeps the latest telemetry per vehicle, bounded by capacity
// and by age since the last update.
type VehicleStore struct {
	cache *ttlcache.Cache[string, model.VehicleTelemetry]
}

// NewVehicleStore creates a store holding at most capacity vehicles for ttl
func NewVehicleStore(capacity uint64, ttl time.Duration) *VehicleStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, model.VehicleTelemetry](ttl),
		ttlcache.WithCapacity[string, model.VehicleTelemetry](capacity),
		ttlcache.WithDisableTouchOnHit[string, model.VehicleTelemetry](),
	)
	return &VehicleStore{cache: cache}
}

// Start blocks running the expiry loop until Stop is called
func (s *VehicleStore) Start() {
	s.cache.Start()
}

// Stop halts the expiry loop
func (s *VehicleStore) Stop() {
	s.cache.Stop()
}

// Upsert overwrites the telemetry of a vehicle. A pending handoff
// prediction is carried over.
func (s *VehicleStore) Upsert(t model.VehicleTelemetry) {
	if t.PredictedAP == "" {
		if prev := s.cache.Get(t.VehicleID); prev != nil {
			t.PredictedAP = prev.Value().PredictedAP
		}
	}
	s.cache.Set(t.VehicleID, t, ttlcache.DefaultTTL)
}

// RecordHandoff stores a predicted next AP for a vehicle
func (s *VehicleStore) RecordHandoff(vehicleID string, ap model.APID, at time.Time) {
	t := model.VehicleTelemetry{VehicleID: vehicleID, Timestamp: at}
	if prev := s.cache.Get(vehicleID); prev != nil {
		t = prev.Value()
	}
	t.PredictedAP = ap
	s.cache.Set(vehicleID, t, ttlcache.DefaultTTL)
}

// Get returns the telemetry of a vehicle
func (s *VehicleStore) Get(vehicleID string) (model.VehicleTelemetry, error) {
	item := s.cache.Get(vehicleID)
	if item == nil {
		return model.VehicleTelemetry{}, ErrNotFound
	}
	return item.Value(), nil
}

// List returns all live vehicles ordered by id
func (s *VehicleStore) List() []model.VehicleTelemetry {
	items := s.cache.Items()
	out := make([]model.VehicleTelemetry, 0, len(items))
	for _, item := range items {
		if item.IsExpired() {
			continue
		}
		out = append(out, item.Value())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}

// CountByAP returns how many live vehicles are attached to each AP
func (s *VehicleStore) CountByAP() map[model.APID]int {
	counts := make(map[model.APID]int)
	for _, v := range s.List() {
		if v.APID != "" {
			counts[v.APID]++
		}
	}
	return counts
}

// Len returns the number of vehicles held
func (s *VehicleStore) Len() int {
	return s.cache.Len()
}
