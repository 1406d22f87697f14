package service

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/algorithm"
	"github.com/vanetlab/apsteer/internal/metrics"
	"github.com/vanetlab/apsteer/internal/model"
)

// Decision is the outcome of one evaluation of the congestion picture
type Decision struct {
	ID          string       `json:"id"`
	At          time.Time    `json:"at"`
	Target      model.APID   `json:"target,omitempty"`
	TargetScore float64      `json:"target_score"`
	HasTarget   bool         `json:"has_target"`
	Reroutes    []model.APID `json:"reroutes"`
}

// DecisionService picks the least congested AP and the APs to steer away from
type DecisionService struct {
	scorer  *algorithm.Scorer
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewDecisionService creates a new decision service
func NewDecisionService(scorer *algorithm.Scorer, m *metrics.Metrics, logger *zap.Logger) *DecisionService {
	return &DecisionService{
		scorer:  scorer,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Decide evaluates snap. Every AP in candidates whose record qualifies is
// listed for rerouting toward the target; with no candidates every AP in
// snap is considered.
func (d *DecisionService) Decide(snap map[model.APID]model.CongestionRecord, candidates []model.APID) Decision {
	start := d.now()

	decision := Decision{
		ID:       uuid.NewString(),
		At:       start,
		Reroutes: []model.APID{},
	}

	target, score, ok := d.scorer.LeastCongested(snap)
	if ok {
		decision.Target = target
		decision.TargetScore = score
		decision.HasTarget = true
	}

	if candidates == nil {
		for ap := range snap {
			candidates = append(candidates, ap)
		}
	}

	if decision.HasTarget {
		seen := make(map[model.APID]bool, len(candidates))
		for _, ap := range candidates {
			if seen[ap] {
				continue
			}
			seen[ap] = true
			rec, ok := snap[ap]
			if ok && d.scorer.NeedsReroute(rec) {
				decision.Reroutes = append(decision.Reroutes, ap)
			}
		}
		sort.Slice(decision.Reroutes, func(i, j int) bool { return decision.Reroutes[i] < decision.Reroutes[j] })
	}

	d.metrics.RecordDecision(time.Since(start).Seconds())
	d.logger.Debug("Decision computed",
		zap.String("decision_id", decision.ID),
		zap.String("target", string(decision.Target)),
		zap.Float64("target_score", decision.TargetScore),
		zap.Int("reroutes", len(decision.Reroutes)))

	return decision
}

// LeastCongested returns the current reroute target
func (d *DecisionService) LeastCongested(snap map[model.APID]model.CongestionRecord) (model.APID, bool) {
	ap, _, ok := d.scorer.LeastCongested(snap)
	return ap, ok
}

// Rank returns the congestion ranking of snap
func (d *DecisionService) Rank(snap map[model.APID]model.CongestionRecord) []algorithm.RankedAP {
	return d.scorer.Rank(snap)
}

// Scorer exposes the underlying scorer
func (d *DecisionService) Scorer() *algorithm.Scorer {
	return d.scorer
}
