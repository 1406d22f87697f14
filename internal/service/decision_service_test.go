package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/algorithm"
	"github.com/vanetlab/apsteer/internal/model"
)

func newTestDecisionService() *DecisionService {
	scorer := algorithm.NewScorer(algorithm.DefaultWeights(), algorithm.DefaultRerouteThreshold)
	return NewDecisionService(scorer, newTestMetrics(), zap.NewNop())
}

func featureSnapshot() map[model.APID]model.CongestionRecord {
	now := time.Now()
	return map[model.APID]model.CongestionRecord{
		"ap1": model.NewFeatureRecord("ap1", model.FeatureVector{
			AvgPacketRate: 0.1, AvgLatency: 0.1, BandwidthUsage: 0.2,
			Speed: 10, Acceleration: 1, ActiveNodes: 2,
		}, now),
		"ap2": model.NewFeatureRecord("ap2", model.FeatureVector{
			AvgPacketRate: 0.5, AvgLatency: 0.4, BandwidthUsage: 0.6,
			Speed: 0, Acceleration: 0, ActiveNodes: 5,
		}, now),
	}
}

func TestDecisionService_Decide(t *testing.T) {
	d := newTestDecisionService()

	decision := d.Decide(featureSnapshot(), []model.APID{"ap1", "ap2"})

	assert.NotEmpty(t, decision.ID)
	assert.True(t, decision.HasTarget)
	assert.Equal(t, model.APID("ap1"), decision.Target)
	assert.InDelta(t, -1.0, decision.TargetScore, 1e-9)
	assert.Equal(t, []model.APID{"ap2"}, decision.Reroutes)
}

func TestDecisionService_DecideOnlyConsidersCandidates(t *testing.T) {
	d := newTestDecisionService()

	decision := d.Decide(featureSnapshot(), []model.APID{"ap1"})

	assert.Equal(t, model.APID("ap1"), decision.Target)
	assert.Empty(t, decision.Reroutes)
}

func TestDecisionService_DecideAllWhenNoCandidates(t *testing.T) {
	d := newTestDecisionService()

	decision := d.Decide(featureSnapshot(), nil)

	assert.Equal(t, []model.APID{"ap2"}, decision.Reroutes)
}

func TestDecisionService_DecideEmptySnapshot(t *testing.T) {
	d := newTestDecisionService()

	decision := d.Decide(map[model.APID]model.CongestionRecord{}, []model.APID{"ap1"})

	assert.False(t, decision.HasTarget)
	assert.Empty(t, decision.Target)
	assert.Empty(t, decision.Reroutes)
}

func TestDecisionService_ScalarRecordsNeverReroute(t *testing.T) {
	d := newTestDecisionService()
	snap := map[model.APID]model.CongestionRecord{
		"ap1": model.NewScalarRecord("ap1", 0.9, time.Now()),
		"ap2": model.NewScalarRecord("ap2", 0.1, time.Now()),
	}

	decision := d.Decide(snap, nil)

	assert.Equal(t, model.APID("ap2"), decision.Target)
	assert.Empty(t, decision.Reroutes)
}

func TestDecisionService_TargetIsAlwaysTracked(t *testing.T) {
	d := newTestDecisionService()
	snap := featureSnapshot()

	target, ok := d.LeastCongested(snap)

	assert.True(t, ok)
	assert.Contains(t, snap, target)
}
