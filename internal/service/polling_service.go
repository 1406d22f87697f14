package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/metrics"
	"github.com/vanetlab/apsteer/internal/model"
	"github.com/vanetlab/apsteer/internal/registry"
)

// Ticker delivers polling ticks
type Ticker interface {
	Channel() <-chan time.Time
	Stop()
}

// TimeTicker implements Ticker on top of time.Ticker
type TimeTicker struct {
	*time.Ticker
}

// NewTimeTicker returns a ticker firing every interval
func NewTimeTicker(interval time.Duration) Ticker {
	return &TimeTicker{Ticker: time.NewTicker(interval)}
}

// Channel exposes the underlying tick channel
func (t *TimeTicker) Channel() <-chan time.Time {
	return t.C
}

// PollingService periodically requests port statistics from every switch
type PollingService struct {
	registry  *registry.SwitchRegistry
	newTicker func() Ticker
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewPollingService creates a poller ticking every interval
func NewPollingService(reg *registry.SwitchRegistry, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *PollingService {
	return &PollingService{
		registry:  reg,
		newTicker: func() Ticker { return NewTimeTicker(interval) },
		metrics:   m,
		logger:    logger,
	}
}

// Run polls until ctx is done
func (p *PollingService) Run(ctx context.Context) error {
	ticker := p.newTicker()
	defer ticker.Stop()

	p.logger.Info("Statistics polling started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Statistics polling stopped")
			return nil
		case <-ticker.Channel():
			p.PollOnce()
		}
	}
}

// PollOnce sends one statistics request to every connected switch. A switch
// that disconnects mid-cycle is skipped and send errors are only logged.
func (p *PollingService) PollOnce() int {
	requested := 0
	p.registry.ForEach(func(dp model.Datapath) {
		err := dp.RequestStats()
		p.metrics.RecordRuleOp("stats_request", err)
		if err != nil {
			p.logger.Warn("Statistics request failed",
				zap.String("dpid", dp.ID().String()),
				zap.Error(err))
			return
		}
		requested++
	})
	p.metrics.RecordPollCycle()
	p.logger.Debug("Poll cycle complete", zap.Int("requested", requested))
	return requested
}
