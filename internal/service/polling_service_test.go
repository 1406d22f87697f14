package service

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/registry"
)

type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (m *manualTicker) Channel() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()                     { close(m.stopped) }

func TestPollingService_PollOnce(t *testing.T) {
	reg := registry.NewSwitchRegistry(zap.NewNop())
	healthy := newFakeDatapath(1)
	broken := newFakeDatapath(2)
	broken.fail("stats", stderrors.New("session closed"))
	reg.Register(1, healthy, "a")
	reg.Register(2, broken, "b")

	p := NewPollingService(reg, time.Second, newTestMetrics(), zap.NewNop())

	assert.Equal(t, 1, p.PollOnce())
	assert.Equal(t, []string{"stats"}, healthy.kinds())
	assert.Equal(t, []string{"stats"}, broken.kinds(), "failure on one switch does not stop the cycle")
}

func TestPollingService_PollOnceWithoutSwitches(t *testing.T) {
	p := NewPollingService(registry.NewSwitchRegistry(zap.NewNop()), time.Second, newTestMetrics(), zap.NewNop())
	assert.Equal(t, 0, p.PollOnce())
}

func TestPollingService_Run(t *testing.T) {
	reg := registry.NewSwitchRegistry(zap.NewNop())
	dp := newFakeDatapath(1)
	reg.Register(1, dp, "a")

	ticker := newManualTicker()
	p := NewPollingService(reg, time.Second, newTestMetrics(), zap.NewNop())
	p.newTicker = func() Ticker { return ticker }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	ticker.ch <- time.Now()
	ticker.ch <- time.Now()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	<-ticker.stopped

	dp.mu.Lock()
	defer dp.mu.Unlock()
	assert.Equal(t, 2, dp.statsReqs)
}
