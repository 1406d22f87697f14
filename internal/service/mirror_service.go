package service

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/model"
	"github.com/vanetlab/apsteer/internal/store"
	"github.com/vanetlab/apsteer/internal/util/workerpool"
)

const mirrorTimeout = 2 * time.Second

// MirrorService copies locally ingested congestion records to an external
// mirror so dashboards and restarted controllers can read them.
type MirrorService struct {
	store    *store.CongestionStore
	mirror   store.CongestionMirror
	executor Executor
	logger   *zap.Logger

	// publishes hold the read lock so Close waits for them
	mu     sync.RWMutex
	closed bool
}

// NewMirrorService creates a mirror service and subscribes it to st
func NewMirrorService(st *store.CongestionStore, mirror store.CongestionMirror, executor Executor, logger *zap.Logger) *MirrorService {
	ms := &MirrorService{
		store:    st,
		mirror:   mirror,
		executor: executor,
		logger:   logger,
	}
	st.Subscribe(ms.onCongestion)
	return ms
}

// WarmLoad seeds the store from the mirror. Mirrored records never
// overwrite newer local ones.
func (m *MirrorService) WarmLoad(ctx context.Context) (int, error) {
	records, err := m.mirror.Load(ctx)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	applied := m.store.Merge(records)
	m.logger.Info("Congestion store warmed from mirror",
		zap.Int("mirrored", len(records)),
		zap.Int("applied", len(applied)))
	return len(applied), nil
}

func (m *MirrorService) onCongestion(records []model.CongestionRecord, origin store.Origin) {
	if origin != store.OriginLocal || len(records) == 0 {
		return
	}
	task := workerpool.Task{
		ID:  "mirror-publish",
		Key: "mirror",
		Fn: func(ctx context.Context) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			if m.closed {
				m.logger.Debug("Skipping congestion mirror update after close",
					zap.Int("records", len(records)))
				return nil
			}
			ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
			defer cancel()
			return m.mirror.Publish(ctx, records)
		},
	}
	if err := m.executor.Submit(task); err != nil {
		m.logger.Warn("Dropping congestion mirror update",
			zap.Int("records", len(records)),
			zap.Error(err))
	}
}

// Close waits for in-flight publishes and closes the mirror. Publishes
// still queued afterwards are skipped.
func (m *MirrorService) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.mirror.Close()
}
