package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/model"
)

const auditSchema = `
	CREATE TABLE IF NOT EXISTS port_observations (
		observed_at      TIMESTAMPTZ NOT NULL,
		dpid             BIGINT      NOT NULL,
		port_no          BIGINT      NOT NULL,
		rx_packets       BIGINT      NOT NULL,
		tx_packets       BIGINT      NOT NULL,
		rx_bytes         BIGINT      NOT NULL,
		tx_bytes         BIGINT      NOT NULL,
		rx_dropped       BIGINT      NOT NULL,
		tx_dropped       BIGINT      NOT NULL,
		congestion_score DOUBLE PRECISION NOT NULL
	);
	CREATE TABLE IF NOT EXISTS prediction_audit (
		received_at TIMESTAMPTZ NOT NULL,
		kind        TEXT        NOT NULL,
		ap_ids      TEXT[]      NOT NULL,
		load        DOUBLE PRECISION,
		payload     TEXT        NOT NULL
	);
	CREATE TABLE IF NOT EXISTS vehicle_telemetry (
		received_at TIMESTAMPTZ NOT NULL,
		vehicle_id  TEXT        NOT NULL,
		ap_id       TEXT        NOT NULL,
		speed       DOUBLE PRECISION NOT NULL,
		x           DOUBLE PRECISION NOT NULL,
		y           DOUBLE PRECISION NOT NULL,
		lane        TEXT        NOT NULL
	);
`

// postgresPoolConfig builds the pool configuration. A zero lifetime keeps
// the pgxpool default.
func postgresPoolConfig(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	connMaxLifetime time.Duration,
) (*pgxpool.Config, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if connMaxLifetime > 0 {
		config.MaxConnLifetime = connMaxLifetime
	}
	return config, nil
}

// PostgresAuditStore implements AuditSink using PostgreSQL
type PostgresAuditStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresAuditStore connects to PostgreSQL and ensures the audit tables exist
func NewPostgresAuditStore(
	ctx context.Context,
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	connMaxLifetime time.Duration,
	logger *zap.Logger,
) (*PostgresAuditStore, error) {
	config, err := postgresPoolConfig(host, port, database, user, password, maxConns, minConns, connMaxLifetime)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, auditSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create audit tables: %w", err)
	}

	return &PostgresAuditStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// WriteObservations bulk-copies one statistics reply worth of rows
func (s *PostgresAuditStore) WriteObservations(ctx context.Context, observations []model.PortObservation) error {
	if len(observations) == 0 {
		return nil
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"port_observations"},
		[]string{
			"observed_at", "dpid", "port_no", "rx_packets", "tx_packets",
			"rx_bytes", "tx_bytes", "rx_dropped", "tx_dropped", "congestion_score",
		},
		pgx.CopyFromSlice(len(observations), func(i int) ([]any, error) {
			o := observations[i]
			return []any{
				o.Timestamp,
				int64(o.SwitchID),
				int64(o.Stats.PortNo),
				int64(o.Stats.RxPackets),
				int64(o.Stats.TxPackets),
				int64(o.Stats.RxBytes),
				int64(o.Stats.TxBytes),
				int64(o.Stats.RxDropped),
				int64(o.Stats.TxDropped),
				o.CongestionScore,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to store observations: %w", err)
	}
	return nil
}

// WritePrediction stores one prediction audit row
func (s *PostgresAuditStore) WritePrediction(ctx context.Context, audit model.PredictionAudit) error {
	query := `
		INSERT INTO prediction_audit (received_at, kind, ap_ids, load, payload)
		VALUES ($1, $2, $3, $4, $5)
	`

	apIDs := make([]string, len(audit.APIDs))
	for i, id := range audit.APIDs {
		apIDs[i] = string(id)
	}

	if _, err := s.pool.Exec(ctx, query, audit.Timestamp, audit.Kind, apIDs, audit.Load, audit.Payload); err != nil {
		return fmt.Errorf("failed to store prediction audit: %w", err)
	}
	return nil
}

// WriteTelemetry stores one vehicle telemetry row
func (s *PostgresAuditStore) WriteTelemetry(ctx context.Context, t model.VehicleTelemetry) error {
	query := `
		INSERT INTO vehicle_telemetry (received_at, vehicle_id, ap_id, speed, x, y, lane)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if _, err := s.pool.Exec(ctx, query,
		t.Timestamp,
		t.VehicleID,
		string(t.APID),
		t.Speed,
		t.X,
		t.Y,
		t.Lane,
	); err != nil {
		return fmt.Errorf("failed to store telemetry: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *PostgresAuditStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresAuditStore) Close() error {
	s.pool.Close()
	return nil
}
