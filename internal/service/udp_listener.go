package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vanetlab/apsteer/internal/errors"
	"github.com/vanetlab/apsteer/internal/metrics"
)

// DatagramHandler processes one datagram. Datagrams from one listener are
// handled sequentially in arrival order.
type DatagramHandler func(ctx context.Context, data []byte, from net.Addr)

// UDPListenerConfig configures one ingest socket
type UDPListenerConfig struct {
	Name            string
	Addr            string
	MaxDatagramSize int
	RateLimit       float64
	RateBurst       int
}

// UDPListener reads JSON datagrams from a UDP socket and hands them to a
// handler. Bad datagrams never stop the loop.
type UDPListener struct {
	cfg     UDPListenerConfig
	handler DatagramHandler
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu   sync.Mutex
	conn net.PacketConn
}

// NewUDPListener creates a listener; call Bind then Serve
func NewUDPListener(cfg UDPListenerConfig, handler DatagramHandler, m *metrics.Metrics, logger *zap.Logger) *UDPListener {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = 65535
	}
	return &UDPListener{
		cfg:     cfg,
		handler: handler,
		limiter: rate.NewLimiter(limit, burst),
		metrics: m,
		logger:  logger.With(zap.String("listener", cfg.Name)),
	}
}

// Bind opens the socket
func (l *UDPListener) Bind() error {
	conn, err := net.ListenPacket("udp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s listener on %s: %w", l.cfg.Name, l.cfg.Addr, err)
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	l.logger.Info("UDP listener bound", zap.String("addr", conn.LocalAddr().String()))
	return nil
}

// LocalAddr returns the bound address, or nil before Bind
func (l *UDPListener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Serve reads datagrams until ctx is done. It binds first if needed.
func (l *UDPListener) Serve(ctx context.Context) error {
	if l.LocalAddr() == nil {
		if err := l.Bind(); err != nil {
			return err
		}
	}
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	// one extra byte so an oversize datagram is detectable
	buf := make([]byte, l.cfg.MaxDatagramSize+1)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				l.logger.Info("UDP listener stopped")
				return nil
			}
			l.logger.Warn("UDP read failed", zap.Error(err))
			continue
		}

		if n > l.cfg.MaxDatagramSize {
			l.metrics.RecordDatagramDropped(l.cfg.Name, "oversize")
			l.logger.Warn("Dropping oversize datagram",
				zap.Stringer("from", from),
				zap.Int("max_size", l.cfg.MaxDatagramSize))
			continue
		}
		if !l.limiter.Allow() {
			l.metrics.RecordDatagramDropped(l.cfg.Name, "rate_limited")
			l.logger.Debug("Dropping datagram",
				zap.Stringer("from", from),
				zap.Error(errors.RateLimited(l.cfg.Name)))
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		l.safeHandle(ctx, data, from)
	}
}

// safeHandle runs the handler with panic recovery
func (l *UDPListener) safeHandle(ctx context.Context, data []byte, from net.Addr) {
	defer func() {
		if r := recover(); r != nil {
			l.metrics.RecordDatagramDropped(l.cfg.Name, "panic")
			l.logger.Error("Datagram handler panic recovered",
				zap.Stringer("from", from),
				zap.Error(errors.InternalError("datagram handler panicked", fmt.Errorf("%v", r))))
		}
	}()
	l.handler(ctx, data, from)
}
