package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/model"
)

var (
	observationHeader = []string{
		"timestamp", "switch_id", "port_no", "rx_packets", "tx_packets",
		"rx_bytes", "tx_bytes", "rx_dropped", "tx_dropped", "congestion_score",
	}
	predictionHeader = []string{"timestamp", "kind", "ap_ids", "traffic_load", "payload"}
	telemetryHeader  = []string{"timestamp", "vehicle_id", "ap_id", "speed", "x", "y", "lane"}
)

// CSVAuditConfig holds CSV audit log configuration
type CSVAuditConfig struct {
	Dir         string
	SegmentSize int64
	SyncWrites  bool
}

// CSVAuditLog implements AuditSink as append-only CSV segments, one
// stream each for observations, predictions and telemetry.
type CSVAuditLog struct {
	observations *csvSegment
	predictions  *csvSegment
	telemetry    *csvSegment
	logger       *zap.Logger
}

// NewCSVAuditLog creates the log directory and opens the first segments
func NewCSVAuditLog(cfg *CSVAuditConfig, logger *zap.Logger) (*CSVAuditLog, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	l := &CSVAuditLog{logger: logger}
	segments := []struct {
		target **csvSegment
		name   string
		header []string
	}{
		{&l.observations, "network_stats", observationHeader},
		{&l.predictions, "predictions", predictionHeader},
		{&l.telemetry, "vehicle_data", telemetryHeader},
	}

	for _, s := range segments {
		seg := &csvSegment{
			name:        s.name,
			header:      s.header,
			dir:         cfg.Dir,
			segmentSize: cfg.SegmentSize,
			syncWrites:  cfg.SyncWrites,
			logger:      logger,
		}
		if err := seg.openNewSegment(); err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open %s segment: %w", s.name, err)
		}
		*s.target = seg
	}

	return l, nil
}

// WriteObservations appends one row per port observation
func (l *CSVAuditLog) WriteObservations(ctx context.Context, observations []model.PortObservation) error {
	if len(observations) == 0 {
		return nil
	}
	rows := make([][]string, len(observations))
	for i, o := range observations {
		rows[i] = []string{
			formatTime(o.Timestamp),
			strconv.FormatUint(uint64(o.SwitchID), 10),
			strconv.FormatUint(uint64(o.Stats.PortNo), 10),
			strconv.FormatUint(o.Stats.RxPackets, 10),
			strconv.FormatUint(o.Stats.TxPackets, 10),
			strconv.FormatUint(o.Stats.RxBytes, 10),
			strconv.FormatUint(o.Stats.TxBytes, 10),
			strconv.FormatUint(o.Stats.RxDropped, 10),
			strconv.FormatUint(o.Stats.TxDropped, 10),
			formatFloat(o.CongestionScore),
		}
	}
	return l.observations.write(rows)
}

// WritePrediction appends one prediction audit row
func (l *CSVAuditLog) WritePrediction(ctx context.Context, audit model.PredictionAudit) error {
	ids := make([]string, len(audit.APIDs))
	for i, id := range audit.APIDs {
		ids[i] = string(id)
	}
	load := ""
	if audit.Load != nil {
		load = formatFloat(*audit.Load)
	}
	return l.predictions.write([][]string{{
		formatTime(audit.Timestamp),
		audit.Kind,
		strings.Join(ids, ";"),
		load,
		audit.Payload,
	}})
}

// WriteTelemetry appends one vehicle telemetry row
func (l *CSVAuditLog) WriteTelemetry(ctx context.Context, t model.VehicleTelemetry) error {
	return l.telemetry.write([][]string{{
		formatTime(t.Timestamp),
		t.VehicleID,
		string(t.APID),
		formatFloat(t.Speed),
		formatFloat(t.X),
		formatFloat(t.Y),
		t.Lane,
	}})
}

// Dir returns the directory the segments are written to
func (l *CSVAuditLog) Dir() string {
	return l.observations.dir
}

// Close flushes and closes all segments
func (l *CSVAuditLog) Close() error {
	var firstErr error
	for _, seg := range []*csvSegment{l.observations, l.predictions, l.telemetry} {
		if seg == nil {
			continue
		}
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type csvSegment struct {
	mu          sync.Mutex
	name        string
	header      []string
	dir         string
	segmentSize int64
	syncWrites  bool
	seq         int
	file        *os.File
	writer      *csv.Writer
	logger      *zap.Logger
}

func (s *csvSegment) write(rows [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("%s log is closed", s.name)
	}

	if err := s.writer.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write to %s log: %w", s.name, err)
	}

	if s.syncWrites {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync %s log: %w", s.name, err)
		}
	}

	s.checkRotation()
	return nil
}

// openNewSegment starts a new file with a header and only then retires the
// current one, so a failed rotation leaves the old segment writable.
// Callers hold mu, except during construction.
func (s *csvSegment) openNewSegment() error {
	seq := s.seq + 1
	path := filepath.Join(s.dir, fmt.Sprintf("%s-%d-%04d.csv", s.name, time.Now().Unix(), seq))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(s.header); err == nil {
		writer.Flush()
		err = writer.Error()
	}
	if err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write header to %s: %w", path, err)
	}

	if s.file != nil {
		s.writer.Flush()
		if err := s.file.Close(); err != nil {
			s.logger.Warn("Failed to close audit segment", zap.String("log", s.name), zap.Error(err))
		}
	}
	s.seq = seq
	s.file = file
	s.writer = writer

	s.logger.Info("Opened new audit segment", zap.String("path", path))
	return nil
}

func (s *csvSegment) checkRotation() {
	if s.segmentSize <= 0 {
		return
	}

	info, err := s.file.Stat()
	if err != nil {
		s.logger.Error("Failed to stat audit segment", zap.String("log", s.name), zap.Error(err))
		return
	}

	if info.Size() >= s.segmentSize {
		s.logger.Info("Rotating audit segment due to size",
			zap.String("log", s.name),
			zap.Int64("size", info.Size()),
			zap.Int64("threshold", s.segmentSize))

		if err := s.openNewSegment(); err != nil {
			s.logger.Error("Failed to rotate audit segment", zap.String("log", s.name), zap.Error(err))
		}
	}
}

func (s *csvSegment) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	s.writer.Flush()
	err := s.file.Close()
	s.file = nil
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
