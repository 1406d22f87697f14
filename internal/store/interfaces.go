package store

import (
	"context"
	"errors"

	"github.com/vanetlab/apsteer/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// Origin tells listeners where a congestion update came from
type Origin int

const (
	// OriginLocal updates were ingested by this controller
	OriginLocal Origin = iota
	// OriginReplica updates were received from a peer controller
	OriginReplica
)

// CongestionListener is invoked after every congestion store mutation,
// outside the store lock.
type CongestionListener func(records []model.CongestionRecord, origin Origin)

// AuditSink persists port observations and ingest audit rows
type AuditSink interface {
	WriteObservations(ctx context.Context, observations []model.PortObservation) error
	WritePrediction(ctx context.Context, audit model.PredictionAudit) error
	WriteTelemetry(ctx context.Context, telemetry model.VehicleTelemetry) error
	Close() error
}

// CongestionMirror publishes congestion records to an external store
type CongestionMirror interface {
	Publish(ctx context.Context, records []model.CongestionRecord) error
	Load(ctx context.Context) ([]model.CongestionRecord, error)
	Ping(ctx context.Context) error
	Close() error
}
