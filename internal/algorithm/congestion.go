package algorithm

import (
	"math"
	"sort"

	"github.com/vanetlab/apsteer/internal/model"
)

// Weights are the linear coefficients of the congestion score
type Weights struct {
	AvgPacketRate  float64
	AvgLatency     float64
	BandwidthUsage float64
	Speed          float64
	Acceleration   float64
	ActiveNodes    float64
}

// DefaultWeights returns the stock coefficients
func DefaultWeights() Weights {
	return Weights{
		AvgPacketRate:  1.0,
		AvgLatency:     1.0,
		BandwidthUsage: 0.5,
		Speed:          -0.2,
		Acceleration:   0.1,
		ActiveNodes:    0.3,
	}
}

// DefaultRerouteThreshold is the avg_packet_rate above which an AP sheds traffic
const DefaultRerouteThreshold = 0.3

// Scorer ranks access points by congestion
type Scorer struct {
	weights   Weights
	threshold float64
}

// NewScorer creates a scorer with the given weights and reroute threshold
func NewScorer(weights Weights, threshold float64) *Scorer {
	return &Scorer{weights: weights, threshold: threshold}
}

// FeatureScore is the weighted sum of a feature vector
func (s *Scorer) FeatureScore(fv model.FeatureVector) float64 {
	w := s.weights
	return w.AvgPacketRate*fv.AvgPacketRate +
		w.AvgLatency*fv.AvgLatency +
		w.BandwidthUsage*fv.BandwidthUsage +
		w.Speed*fv.Speed +
		w.Acceleration*fv.Acceleration +
		w.ActiveNodes*fv.ActiveNodes
}

// Score returns the congestion score of a record. Scalar records score as
// their predicted load.
func (s *Scorer) Score(rec model.CongestionRecord) float64 {
	if rec.Kind == model.RecordKindFeatures && rec.Features != nil {
		return s.FeatureScore(*rec.Features)
	}
	return rec.Load
}

// ScoreOf returns the score of ap in snap. An AP without a record is
// infinitely congested.
func (s *Scorer) ScoreOf(snap map[model.APID]model.CongestionRecord, ap model.APID) float64 {
	rec, ok := snap[ap]
	if !ok {
		return math.Inf(1)
	}
	return s.Score(rec)
}

// ObservedValue is the congestion value attached to statistics rows. An AP
// without a record reads as zero load.
func (s *Scorer) ObservedValue(rec model.CongestionRecord, ok bool) float64 {
	if !ok {
		return 0
	}
	return s.Score(rec)
}

// NeedsReroute reports whether an AP's predicted packet rate exceeds the
// threshold. Only feature records qualify.
func (s *Scorer) NeedsReroute(rec model.CongestionRecord) bool {
	if rec.Kind != model.RecordKindFeatures || rec.Features == nil {
		return false
	}
	return rec.Features.AvgPacketRate > s.threshold
}

// Threshold returns the reroute threshold
func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// RankedAP is one row of a congestion ranking
type RankedAP struct {
	APID    model.APID       `json:"ap_id"`
	Score   float64          `json:"score"`
	Kind    model.RecordKind `json:"kind"`
	Reroute bool             `json:"reroute"`
}

// Rank orders every AP with a record from least to most congested. Ties
// are broken by AP id ascending.
func (s *Scorer) Rank(snap map[model.APID]model.CongestionRecord) []RankedAP {
	ranked := make([]RankedAP, 0, len(snap))
	for ap, rec := range snap {
		ranked = append(ranked, RankedAP{
			APID:    ap,
			Score:   s.Score(rec),
			Kind:    rec.Kind,
			Reroute: s.NeedsReroute(rec),
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score < ranked[j].Score
		}
		return ranked[i].APID < ranked[j].APID
	})
	return ranked
}

// LeastCongested returns the AP with the minimum score. ok is false when
// no AP has a record.
func (s *Scorer) LeastCongested(snap map[model.APID]model.CongestionRecord) (model.APID, float64, bool) {
	var (
		best      model.APID
		bestScore = math.Inf(1)
		found     bool
	)
	for ap, rec := range snap {
		score := s.Score(rec)
		if !found || score < bestScore || (score == bestScore && ap < best) {
			best, bestScore, found = ap, score, true
		}
	}
	return best, bestScore, found
}
