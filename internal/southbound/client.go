package southbound

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vanetlab/apsteer/internal/model"
)

// SwitchClient is the switch side of the control channel. It backs the
// simulated switch in apctl and the southbound tests.
type SwitchClient struct {
	conn   *grpc.ClientConn
	stream ConnectClient
	cancel context.CancelFunc
	sendMu sync.Mutex
	dpid   model.DPID
	logger *zap.Logger
}

// Dial connects to the controller at addr, opens a stream and sends hello
func Dial(ctx context.Context, addr string, hello Hello, logger *zap.Logger, opts ...grpc.DialOption) (*SwitchClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}

	c, err := NewSwitchClient(ctx, conn, hello, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewSwitchClient opens a stream on an existing connection and sends hello.
// The client takes ownership of conn.
func NewSwitchClient(ctx context.Context, conn *grpc.ClientConn, hello Hello, logger *zap.Logger) (*SwitchClient, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := openConnect(streamCtx, conn)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open control stream: %w", err)
	}

	c := &SwitchClient{
		conn:   conn,
		stream: stream,
		cancel: cancel,
		dpid:   hello.DPID,
		logger: logger.With(zap.Stringer("dpid", hello.DPID)),
	}

	if err := c.send(&SwitchMessage{Type: TypeHello, Hello: &hello}); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to send hello: %w", err)
	}
	return c, nil
}

// SendStatsReply reports port counters
func (c *SwitchClient) SendStatsReply(xid uint32, ports []model.PortStats) error {
	return c.send(&SwitchMessage{Type: TypeStatsReply, XID: xid, StatsReply: &StatsReply{Ports: ports}})
}

// SendPacketIn forwards a packet to the controller
func (c *SwitchClient) SendPacketIn(pkt model.PacketIn) error {
	return c.send(&SwitchMessage{Type: TypePacketIn, PacketIn: &pkt})
}

// Recv blocks for the next controller command
func (c *SwitchClient) Recv() (*ControllerMessage, error) {
	return c.stream.Recv()
}

// Close ends the stream and the connection
func (c *SwitchClient) Close() error {
	c.sendMu.Lock()
	c.stream.CloseSend()
	c.sendMu.Unlock()
	c.cancel()
	return c.conn.Close()
}

func (c *SwitchClient) send(msg *SwitchMessage) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.Send(msg)
}
