package southbound

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/errors"
	"github.com/vanetlab/apsteer/internal/model"
)

// Session is the control handle of one connected switch. Commands are
// queued without blocking and written to the stream by a single writer.
type Session struct {
	id         model.DPID
	remoteAddr string
	stream     ConnectServer
	sendQueue  chan *ControllerMessage
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	xid        uint32
	logger     *zap.Logger
}

func newSession(id model.DPID, remoteAddr string, stream ConnectServer, queueSize int, logger *zap.Logger) *Session {
	return &Session{
		id:         id,
		remoteAddr: remoteAddr,
		stream:     stream,
		sendQueue:  make(chan *ControllerMessage, queueSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		logger:     logger.With(zap.Stringer("dpid", id)),
	}
}

// ID returns the datapath id announced in the hello
func (s *Session) ID() model.DPID {
	return s.id
}

// RemoteAddr returns the peer address of the stream
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// InstallRule queues a flow-mod add
func (s *Session) InstallRule(rule model.FlowRule) error {
	return s.enqueue(&ControllerMessage{
		Type:    TypeFlowMod,
		FlowMod: &FlowMod{Command: FlowAdd, Rule: &rule},
	})
}

// DeleteRule queues a flow-mod delete, strict when sel.Strict is set
func (s *Session) DeleteRule(sel model.RuleSelector) error {
	command := FlowDelete
	if sel.Strict {
		command = FlowDeleteStrict
	}
	return s.enqueue(&ControllerMessage{
		Type:    TypeFlowMod,
		FlowMod: &FlowMod{Command: command, Selector: &sel},
	})
}

// RequestStats queues a port statistics request for all ports
func (s *Session) RequestStats() error {
	return s.enqueue(&ControllerMessage{
		Type:         TypeStatsRequest,
		StatsRequest: &StatsRequest{PortNo: model.PortAny},
	})
}

// PacketOut queues a packet-out
func (s *Session) PacketOut(out model.PacketOut) error {
	return s.enqueue(&ControllerMessage{
		Type:      TypePacketOut,
		PacketOut: &out,
	})
}

func (s *Session) enqueue(msg *ControllerMessage) error {
	select {
	case <-s.done:
		return errors.SessionClosed(s.id)
	default:
	}

	msg.XID = atomic.AddUint32(&s.xid, 1)
	select {
	case s.sendQueue <- msg:
		return nil
	default:
		return errors.SendFailed("send queue full", nil).
			WithDetail("dpid", s.id.String()).
			WithDetail("queue_size", cap(s.sendQueue))
	}
}

// writeLoop drains the send queue onto the stream until the session closes
// or a send fails.
func (s *Session) writeLoop() {
	defer close(s.writerDone)

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.sendQueue:
			if err := s.stream.Send(msg); err != nil {
				s.logger.Warn("Failed to send to switch",
					zap.String("type", msg.Type),
					zap.Uint32("xid", msg.XID),
					zap.Error(err))
				s.close()
				return
			}
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Done is closed once the session has ended
func (s *Session) Done() <-chan struct{} {
	return s.done
}
