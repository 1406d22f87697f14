package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/model"
)

// RedisCongestionMirror implements CongestionMirror on a Redis hash keyed
// by access point id.
type RedisCongestionMirror struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewRedisCongestionMirror creates a new Redis congestion mirror
func NewRedisCongestionMirror(host string, port int, password string, db, poolSize int, key string, logger *zap.Logger) (*RedisCongestionMirror, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisCongestionMirror(client, key, logger), nil
}

func newRedisCongestionMirror(client *redis.Client, key string, logger *zap.Logger) *RedisCongestionMirror {
	return &RedisCongestionMirror{
		client: client,
		key:    key,
		logger: logger,
	}
}

// Publish writes the given records into the hash in one round trip
func (m *RedisCongestionMirror) Publish(ctx context.Context, records []model.CongestionRecord) error {
	if len(records) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(records)*2)
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record for %s: %w", rec.APID, err)
		}
		values = append(values, string(rec.APID), data)
	}

	if err := m.client.HSet(ctx, m.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to publish congestion records: %w", err)
	}
	return nil
}

// Load reads every mirrored record back. Undecodable fields are skipped.
func (m *RedisCongestionMirror) Load(ctx context.Context) ([]model.CongestionRecord, error) {
	fields, err := m.client.HGetAll(ctx, m.key).Result()
	if err == redis.Nil || (err == nil && len(fields) == 0) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	records := make([]model.CongestionRecord, 0, len(fields))
	for ap, raw := range fields {
		var rec model.CongestionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			m.logger.Warn("Skipping undecodable mirrored record",
				zap.String("ap_id", ap),
				zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Ping checks the Redis connection
func (m *RedisCongestionMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (m *RedisCongestionMirror) Close() error {
	return m.client.Close()
}
