package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"unicode"

	"github.com/vanetlab/apsteer/internal/errors"
	"github.com/vanetlab/apsteer/internal/model"
)

const (
	MaxIDSize       = 128
	MaxBatchEntries = 4096
	MaxLaneSize     = 128
)

// Validator decodes and validates ingest datagrams
type Validator struct {
	maxIDSize       int
	maxBatchEntries int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxIDSize:       MaxIDSize,
		maxBatchEntries: MaxBatchEntries,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxIDSize, maxBatchEntries int) *Validator {
	return &Validator{
		maxIDSize:       maxIDSize,
		maxBatchEntries: maxBatchEntries,
	}
}

// ParsePrediction decodes a prediction datagram, identifies its shape and
// validates it. The returned error is always a *errors.ControllerError.
func (v *Validator) ParsePrediction(data []byte) (*model.Prediction, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.MalformedInput("prediction is not a JSON object", err)
	}

	switch {
	case has(probe, "type"):
		var batch model.BatchPrediction
		if err := decode(data, &batch); err != nil {
			return nil, err
		}
		if err := v.ValidateBatch(&batch); err != nil {
			return nil, err
		}
		return &model.Prediction{Kind: model.PredictionBatch, Batch: &batch, Raw: data}, nil

	case has(probe, "node_id") || has(probe, "predicted_ap"):
		var hint model.HandoffHint
		if err := decode(data, &hint); err != nil {
			return nil, err
		}
		if err := v.ValidateHandoff(&hint); err != nil {
			return nil, err
		}
		return &model.Prediction{Kind: model.PredictionHandoff, Handoff: &hint, Raw: data}, nil

	case has(probe, "ap_id") || has(probe, "traffic_load"):
		var scalar model.ScalarPrediction
		if err := decode(data, &scalar); err != nil {
			return nil, err
		}
		if err := v.ValidateScalar(&scalar); err != nil {
			return nil, err
		}
		return &model.Prediction{Kind: model.PredictionScalar, Scalar: &scalar, Raw: data}, nil
	}

	return nil, errors.UnknownMessage("no recognised prediction fields")
}

// ParseTelemetry decodes and validates a vehicle telemetry datagram
func (v *Validator) ParseTelemetry(data []byte) (*model.TelemetryMessage, error) {
	var msg model.TelemetryMessage
	if err := decode(data, &msg); err != nil {
		return nil, err
	}
	if err := v.ValidateTelemetry(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ValidateScalar validates a single-AP load prediction
func (v *Validator) ValidateScalar(p *model.ScalarPrediction) error {
	if err := v.ValidateAPID("ap_id", p.APID); err != nil {
		return err
	}
	return requireFinite("traffic_load", p.TrafficLoad)
}

// ValidateBatch validates a feature batch. One bad entry rejects the batch.
func (v *Validator) ValidateBatch(b *model.BatchPrediction) error {
	if b.Type != model.MessageTypeBatch {
		return errors.UnknownMessage(fmt.Sprintf("unsupported type %q", b.Type))
	}
	if b.Data == nil {
		return errors.MissingField("data")
	}
	if len(b.Data) == 0 {
		return errors.EmptyBatch()
	}
	if len(b.Data) > v.maxBatchEntries {
		return errors.ResourceExhausted("batch entries", len(b.Data), v.maxBatchEntries)
	}

	for i := range b.Data {
		entry := &b.Data[i]
		prefix := fmt.Sprintf("data[%d]", i)
		if err := v.ValidateAPID(prefix+".ap_id", entry.APID); err != nil {
			return err
		}
		if entry.PredictedFeatures == nil {
			return errors.MissingField(prefix + ".predicted_features")
		}
		if err := validateFeatures(prefix+".predicted_features", entry.PredictedFeatures); err != nil {
			return err
		}
	}
	return nil
}

// ValidateHandoff validates a handoff hint
func (v *Validator) ValidateHandoff(h *model.HandoffHint) error {
	if err := v.validateID("node_id", h.NodeID); err != nil {
		return err
	}
	return v.ValidateAPID("predicted_ap", h.PredictedAP)
}

// ValidateTelemetry validates a vehicle telemetry record
func (v *Validator) ValidateTelemetry(m *model.TelemetryMessage) error {
	if err := v.validateID("vehicle_id", m.VehicleID); err != nil {
		return err
	}
	if err := v.ValidateAPID("ap_id", m.APID); err != nil {
		return err
	}
	if err := requireFinite("speed", m.Speed); err != nil {
		return err
	}
	if err := requireFinite("x", m.X); err != nil {
		return err
	}
	if err := requireFinite("y", m.Y); err != nil {
		return err
	}
	if len(m.Lane) > MaxLaneSize {
		return errors.InvalidField("lane", fmt.Sprintf("exceeds %d bytes", MaxLaneSize))
	}
	return nil
}

// ValidateAPID validates an access point identifier
func (v *Validator) ValidateAPID(field string, id model.APID) error {
	return v.validateID(field, string(id))
}

func (v *Validator) validateID(field, id string) error {
	if id == "" {
		return errors.MissingField(field)
	}
	if len(id) > v.maxIDSize {
		return errors.InvalidField(field, fmt.Sprintf("exceeds %d bytes", v.maxIDSize))
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return errors.InvalidField(field, "contains whitespace or control characters")
		}
	}
	return nil
}

func validateFeatures(prefix string, f *model.PredictedFeatures) error {
	fields := []struct {
		name  string
		value *float64
	}{
		{"avg_packet_rate", f.AvgPacketRate},
		{"avg_latency", f.AvgLatency},
		{"bandwidth_usage", f.BandwidthUsage},
		{"speed", f.Speed},
		{"acceleration", f.Acceleration},
		{"active_nodes", f.ActiveNodes},
	}
	for _, fld := range fields {
		if err := requireFinite(prefix+"."+fld.name, fld.value); err != nil {
			return err
		}
	}
	return nil
}

func requireFinite(field string, value *float64) error {
	if value == nil {
		return errors.MissingField(field)
	}
	if math.IsNaN(*value) || math.IsInf(*value, 0) {
		return errors.InvalidField(field, "must be a finite number")
	}
	return nil
}

func has(probe map[string]json.RawMessage, key string) bool {
	raw, ok := probe[key]
	return ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decode(data []byte, into interface{}) error {
	if err := json.Unmarshal(data, into); err != nil {
		return errors.MalformedInput("failed to decode message", err)
	}
	return nil
}
