package store

import (
	"context"
	"errors"

	"github.com/vanetlab/apsteer/internal/model"
)

// MultiSink fans audit writes out to several sinks. Every sink is tried;
// failures are joined.
type MultiSink []AuditSink

func (m MultiSink) WriteObservations(ctx context.Context, observations []model.PortObservation) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteObservations(ctx, observations))
	}
	return errors.Join(errs...)
}

func (m MultiSink) WritePrediction(ctx context.Context, audit model.PredictionAudit) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WritePrediction(ctx, audit))
	}
	return errors.Join(errs...)
}

func (m MultiSink) WriteTelemetry(ctx context.Context, t model.VehicleTelemetry) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteTelemetry(ctx, t))
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
