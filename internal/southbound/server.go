package southbound

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/vanetlab/apsteer/internal/errors"
	"github.com/vanetlab/apsteer/internal/model"
)

// EventHandler receives switch events. Calls for one switch arrive from a
// single goroutine in stream order.
type EventHandler interface {
	SwitchConnected(dp model.Datapath, remoteAddr string)
	SwitchDisconnected(dp model.Datapath)
	PacketIn(dp model.Datapath, pkt model.PacketIn)
	StatsReply(dp model.Datapath, ports []model.PortStats)
}

// Config holds southbound server configuration
type Config struct {
	Host             string
	Port             int
	SendQueueSize    int
	HelloTimeout     time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	MaxRecvMsgSize   int
	ShutdownTimeout  time.Duration
}

// Server accepts switch control streams
type Server struct {
	config     *Config
	handler    EventHandler
	grpcServer *grpc.Server
	health     *health.Server
	logger     *zap.Logger
}

// NewServer creates a southbound server delivering events to handler
func NewServer(cfg *Config, handler EventHandler, logger *zap.Logger) *Server {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 256
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	opts := []grpc.ServerOption{}
	if cfg.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize))
	}
	if cfg.KeepaliveTime > 0 {
		opts = append(opts,
			grpc.KeepaliveParams(keepalive.ServerParameters{
				Time:    cfg.KeepaliveTime,
				Timeout: cfg.KeepaliveTimeout,
			}),
			grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
				MinTime:             cfg.KeepaliveTime / 2,
				PermitWithoutStream: true,
			}),
		)
	}

	s := &Server{
		config:     cfg,
		handler:    handler,
		grpcServer: grpc.NewServer(opts...),
		health:     health.NewServer(),
		logger:     logger,
	}

	s.grpcServer.RegisterService(&ServiceDesc, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	return s
}

// Run listens on the configured address and serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.logger.Info("Southbound server starting", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.Stop()
		return nil
	}
}

// Serve accepts streams on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("southbound server failed: %w", err)
	}
	return nil
}

// Stop drains streams for up to the shutdown timeout, then closes them
func (s *Server) Stop() {
	s.logger.Info("Stopping southbound server")
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.config.ShutdownTimeout):
		s.logger.Warn("Southbound graceful stop timed out, closing streams")
		s.grpcServer.Stop()
	}
}

// Connect runs one switch session: hello handshake, then the receive loop
func (s *Server) Connect(stream ConnectServer) error {
	remoteAddr := ""
	if p, ok := peer.FromContext(stream.Context()); ok && p.Addr != nil {
		remoteAddr = p.Addr.String()
	}

	hello, err := s.awaitHello(stream)
	if err != nil {
		s.logger.Warn("Switch handshake failed",
			zap.String("remote_addr", remoteAddr),
			zap.Error(err))
		return err
	}

	sess := newSession(hello.DPID, remoteAddr, stream, s.config.SendQueueSize, s.logger)
	go sess.writeLoop()

	s.logger.Info("Switch connected",
		zap.Stringer("dpid", hello.DPID),
		zap.String("remote_addr", remoteAddr),
		zap.Int("ports", len(hello.Ports)))

	s.handler.SwitchConnected(sess, remoteAddr)

	recvErr := s.receiveLoop(stream, sess)

	sess.close()
	<-sess.writerDone
	s.handler.SwitchDisconnected(sess)

	s.logger.Info("Switch disconnected", zap.Stringer("dpid", hello.DPID), zap.NamedError("cause", recvErr))

	if recvErr == nil || recvErr == io.EOF || status.Code(recvErr) == codes.Canceled {
		return nil
	}
	return recvErr
}

func (s *Server) awaitHello(stream ConnectServer) (*Hello, error) {
	type result struct {
		msg *SwitchMessage
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := stream.Recv()
		ch <- result{msg, err}
	}()

	timer := time.NewTimer(s.config.HelloTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.msg.Type != TypeHello || r.msg.Hello == nil {
			return nil, errors.MalformedInput(fmt.Sprintf("expected hello, got %q", r.msg.Type), nil).ToGRPCStatus().Err()
		}
		if r.msg.Hello.DPID == 0 {
			return nil, errors.InvalidField("hello.dpid", "must be non-zero").ToGRPCStatus().Err()
		}
		return r.msg.Hello, nil
	case <-timer.C:
		return nil, status.Errorf(codes.DeadlineExceeded, "no hello within %v", s.config.HelloTimeout)
	case <-stream.Context().Done():
		return nil, status.FromContextError(stream.Context().Err()).Err()
	}
}

func (s *Server) receiveLoop(stream ConnectServer, sess *Session) error {
	for {
		msg, err := stream.Recv()
		if err != nil {
			return err
		}

		select {
		case <-sess.Done():
			return nil
		default:
		}

		switch msg.Type {
		case TypeStatsReply:
			if msg.StatsReply == nil {
				s.logger.Warn("Stats reply without body", zap.Stringer("dpid", sess.ID()))
				continue
			}
			s.handler.StatsReply(sess, msg.StatsReply.Ports)

		case TypePacketIn:
			if msg.PacketIn == nil {
				s.logger.Warn("Packet-in without body", zap.Stringer("dpid", sess.ID()))
				continue
			}
			s.handler.PacketIn(sess, *msg.PacketIn)

		case TypeHello:
			s.logger.Debug("Ignoring repeated hello", zap.Stringer("dpid", sess.ID()))

		default:
			s.logger.Warn("Unknown switch message",
				zap.Stringer("dpid", sess.ID()),
				zap.String("type", msg.Type))
		}
	}
}
