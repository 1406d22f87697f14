package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// APID identifies an access point. Numeric ids are normalised to "apN".
type APID string

// UnmarshalJSON accepts both string and numeric access point ids
func (a *APID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = APID(s)
		return nil
	}
	n, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid access point id %s", data)
	}
	*a = APIDFromNumber(n)
	return nil
}

// APIDFromNumber returns the conventional id of the AP served by datapath n
func APIDFromNumber(n uint64) APID {
	return APID("ap" + strconv.FormatUint(n, 10))
}

// FeatureVector is the per-AP output of the forecasting model
type FeatureVector struct {
	AvgPacketRate  float64 `json:"avg_packet_rate"`
	AvgLatency     float64 `json:"avg_latency"`
	BandwidthUsage float64 `json:"bandwidth_usage"`
	Speed          float64 `json:"speed"`
	Acceleration   float64 `json:"acceleration"`
	ActiveNodes    float64 `json:"active_nodes"`
}

// RecordKind tells which shape a congestion record carries
type RecordKind string

const (
	RecordKindScalar   RecordKind = "scalar"
	RecordKindFeatures RecordKind = "features"
)

// CongestionRecord is the latest congestion signal for one access point
type CongestionRecord struct {
	APID      APID           `json:"ap_id"`
	Kind      RecordKind     `json:"kind"`
	Load      float64        `json:"traffic_load,omitempty"`
	Features  *FeatureVector `json:"predicted_features,omitempty"`
	Source    string         `json:"source,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewScalarRecord builds a record from a single load prediction
func NewScalarRecord(ap APID, load float64, at time.Time) CongestionRecord {
	return CongestionRecord{APID: ap, Kind: RecordKindScalar, Load: load, UpdatedAt: at}
}

// NewFeatureRecord builds a record from a predicted feature vector
func NewFeatureRecord(ap APID, fv FeatureVector, at time.Time) CongestionRecord {
	return CongestionRecord{APID: ap, Kind: RecordKindFeatures, Features: &fv, UpdatedAt: at}
}

// Prediction message types received on the prediction socket.
const (
	MessageTypeBatch = "batch"
)

// ScalarPrediction is the single-AP prediction message
type ScalarPrediction struct {
	APID        APID     `json:"ap_id"`
	TrafficLoad *float64 `json:"traffic_load"`
}

// BatchEntry is one AP inside a batch prediction
type BatchEntry struct {
	APID              APID               `json:"ap_id"`
	PredictedFeatures *PredictedFeatures `json:"predicted_features"`
}

// PredictedFeatures mirrors FeatureVector with presence tracking for validation
type PredictedFeatures struct {
	AvgPacketRate  *float64 `json:"avg_packet_rate"`
	AvgLatency     *float64 `json:"avg_latency"`
	BandwidthUsage *float64 `json:"bandwidth_usage"`
	Speed          *float64 `json:"speed"`
	Acceleration   *float64 `json:"acceleration"`
	ActiveNodes    *float64 `json:"active_nodes"`
}

// Vector converts validated features. Callers must validate first.
func (p *PredictedFeatures) Vector() FeatureVector {
	return FeatureVector{
		AvgPacketRate:  *p.AvgPacketRate,
		AvgLatency:     *p.AvgLatency,
		BandwidthUsage: *p.BandwidthUsage,
		Speed:          *p.Speed,
		Acceleration:   *p.Acceleration,
		ActiveNodes:    *p.ActiveNodes,
	}
}

// BatchPrediction carries feature vectors for several APs
type BatchPrediction struct {
	Type string       `json:"type"`
	Data []BatchEntry `json:"data"`
}

// HandoffHint predicts which AP a mobile node will attach to next
type HandoffHint struct {
	NodeID      string `json:"node_id"`
	PredictedAP APID   `json:"predicted_ap"`
}

// PredictionAudit is one row of the prediction audit log
type PredictionAudit struct {
	Timestamp time.Time
	Kind      string
	APIDs     []APID
	Load      *float64
	Payload   string
}

// PredictionKind tags the shape of a decoded prediction datagram
type PredictionKind string

const (
	PredictionScalar  PredictionKind = "scalar"
	PredictionBatch   PredictionKind = "batch"
	PredictionHandoff PredictionKind = "handoff"
)

// Prediction is one validated datagram from the prediction socket.
// Exactly one of Scalar, Batch or Handoff is set, matching Kind.
type Prediction struct {
	Kind    PredictionKind
	Scalar  *ScalarPrediction
	Batch   *BatchPrediction
	Handoff *HandoffHint
	Raw     []byte
}
