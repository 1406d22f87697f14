package service

import (
	"context"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/config"
	"github.com/vanetlab/apsteer/internal/errors"
	"github.com/vanetlab/apsteer/internal/metrics"
	"github.com/vanetlab/apsteer/internal/model"
	"github.com/vanetlab/apsteer/internal/registry"
	"github.com/vanetlab/apsteer/internal/util/workerpool"
)

// Reroute outcomes reported to metrics
const (
	rerouteNoop      = "noop"
	rerouteScheduled = "scheduled"
	rerouteRejected  = "rejected"
)

// FlowService translates steering decisions into switch rules
type FlowService struct {
	cfg       *config.FlowConfig
	registry  *registry.SwitchRegistry
	topology  *config.Topology
	resolver  PortResolver
	learned   *LearnedPortTable
	executor  Executor
	congested func() (model.APID, bool)
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewFlowService creates a new flow service. congested returns the current
// least congested AP and is consulted on every packet-in.
func NewFlowService(
	cfg *config.FlowConfig,
	reg *registry.SwitchRegistry,
	topology *config.Topology,
	resolver PortResolver,
	learned *LearnedPortTable,
	executor Executor,
	congested func() (model.APID, bool),
	m *metrics.Metrics,
	logger *zap.Logger,
) *FlowService {
	return &FlowService{
		cfg:       cfg,
		registry:  reg,
		topology:  topology,
		resolver:  resolver,
		learned:   learned,
		executor:  executor,
		congested: congested,
		metrics:   m,
		logger:    logger,
	}
}

// DefaultRule is the catch-all rule installed on every new switch
func (s *FlowService) DefaultRule() model.FlowRule {
	port := model.PortController
	if s.cfg.DefaultAction == "flood" {
		port = model.PortFlood
	}
	return model.FlowRule{
		Match:    model.Match{},
		Actions:  []model.Action{model.Output(port)},
		Priority: 0,
	}
}

// InstallDefault installs the catch-all rule on dp
func (s *FlowService) InstallDefault(dp model.Datapath) error {
	err := dp.InstallRule(s.DefaultRule())
	s.metrics.RecordRuleOp("install_default", err)
	if err != nil {
		s.logger.Error("Failed to install default rule",
			zap.String("dpid", dp.ID().String()),
			zap.Error(err))
		return err
	}
	s.logger.Info("Default rule installed",
		zap.String("dpid", dp.ID().String()),
		zap.String("action", s.cfg.DefaultAction))
	return nil
}

// Reroute moves the uplink traffic of from onto the port of to. The old rule
// is deleted before the new one is installed, on the same switch command
// queue. Rerouting an AP onto itself does nothing.
func (s *FlowService) Reroute(from, to model.APID) error {
	if from == to {
		s.metrics.RecordReroute(rerouteNoop)
		s.logger.Debug("Skipping reroute onto the same AP", zap.String("ap_id", string(from)))
		return nil
	}

	src, ok := s.topology.Lookup(from)
	if !ok {
		s.metrics.RecordReroute(rerouteRejected)
		return errors.UnknownAP(string(from))
	}
	dst, ok := s.topology.Lookup(to)
	if !ok {
		s.metrics.RecordReroute(rerouteRejected)
		return errors.UnknownAP(string(to))
	}

	srcID := model.DPID(src.DPID)
	dp, ok := s.registry.Lookup(srcID)
	if !ok {
		s.metrics.RecordReroute(rerouteRejected)
		return errors.UnknownSwitch(srcID)
	}
	if _, ok := s.registry.Lookup(model.DPID(dst.DPID)); !ok {
		s.metrics.RecordReroute(rerouteRejected)
		return errors.UnknownSwitch(model.DPID(dst.DPID))
	}

	port, ok := s.resolver.ResolvePort(PortQuery{Switch: srcID, AP: to})
	if !ok {
		s.metrics.RecordReroute(rerouteRejected)
		return errors.UnknownAP(string(to)).WithDetail("reason", "no port toward AP")
	}

	match := model.Match{InPort: src.UplinkPort}
	if port == match.InPort {
		s.metrics.RecordReroute(rerouteRejected)
		return errors.HairpinRule(port).
			WithDetail("from", string(from)).
			WithDetail("to", string(to))
	}

	task := workerpool.Task{
		ID:  fmt.Sprintf("reroute-%s-%s", from, to),
		Key: srcID.String(),
		Fn: func(ctx context.Context) error {
			return s.applyReroute(dp, match, port, from, to)
		},
	}
	if err := s.executor.Submit(task); err != nil {
		s.metrics.RecordReroute(rerouteRejected)
		return errors.SendFailed("switch command queue rejected task", err)
	}

	s.metrics.RecordReroute(rerouteScheduled)
	return nil
}

func (s *FlowService) applyReroute(dp model.Datapath, match model.Match, port uint32, from, to model.APID) error {
	sel := model.RuleSelector{
		Match:      match,
		Priority:   s.cfg.ReroutePriority,
		Strict:     true,
		Cookie:     s.cfg.RerouteCookie,
		CookieMask: ^uint64(0),
	}
	err := dp.DeleteRule(sel)
	s.metrics.RecordRuleOp("delete", err)
	if err != nil {
		// installing without the delete could leave two rules for one match
		s.logger.Error("Reroute delete failed, install abandoned",
			zap.String("dpid", dp.ID().String()),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err))
		return err
	}

	rule := model.FlowRule{
		Cookie:      s.cfg.RerouteCookie,
		Match:       match,
		Actions:     []model.Action{model.Output(port)},
		Priority:    s.cfg.ReroutePriority,
		IdleTimeout: s.cfg.RerouteIdleTimeout,
		HardTimeout: s.cfg.RerouteHardTimeout,
	}
	err = dp.InstallRule(rule)
	s.metrics.RecordRuleOp("install", err)
	if err != nil {
		s.logger.Error("Reroute install failed",
			zap.String("dpid", dp.ID().String()),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err))
		return err
	}

	s.logger.Info("Traffic rerouted",
		zap.String("dpid", dp.ID().String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Uint32("in_port", match.InPort),
		zap.Uint32("out_port", port))
	return nil
}

// HandlePacketIn steers an unmatched IPv4 frame toward the least congested
// AP. Frames that are not Ethernet/IPv4 are ignored.
func (s *FlowService) HandlePacketIn(dp model.Datapath, pkt model.PacketIn) error {
	packet := gopacket.NewPacket(pkt.Data, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		s.metrics.RecordPacketIn("ignored")
		return nil
	}
	eth := ethLayer.(*layers.Ethernet)
	src := eth.SrcMAC.String()
	dst := eth.DstMAC.String()

	s.learned.Learn(dp.ID(), src, pkt.InPort)

	if eth.EthernetType != layers.EthernetTypeIPv4 {
		s.metrics.RecordPacketIn("ignored")
		return nil
	}

	port := uint32(model.PortFlood)
	result := "flooded"
	if target, ok := s.congested(); ok {
		if p, ok := s.resolver.ResolvePort(PortQuery{Switch: dp.ID(), AP: target, MAC: dst}); ok {
			port = p
			result = "steered"
		}
	}
	actions := []model.Action{model.Output(port)}

	rule := model.FlowRule{
		Match:       model.Match{EthSrc: src, EthDst: dst},
		Actions:     actions,
		Priority:    s.cfg.PacketInPriority,
		IdleTimeout: s.cfg.PacketInIdleTimeout,
		HardTimeout: s.cfg.PacketInHardTimeout,
	}
	err := dp.InstallRule(rule)
	s.metrics.RecordRuleOp("install", err)
	if err != nil {
		s.logger.Warn("Packet-in rule install failed",
			zap.String("dpid", dp.ID().String()),
			zap.Error(err))
	}

	out := model.PacketOut{
		BufferID: pkt.BufferID,
		InPort:   pkt.InPort,
		Actions:  actions,
	}
	if pkt.BufferID == model.NoBuffer {
		out.Data = pkt.Data
	}
	if perr := dp.PacketOut(out); perr != nil {
		s.metrics.RecordRuleOp("packet_out", perr)
		s.logger.Warn("Packet-out failed",
			zap.String("dpid", dp.ID().String()),
			zap.Error(perr))
		if err == nil {
			err = perr
		}
	} else {
		s.metrics.RecordRuleOp("packet_out", nil)
	}

	s.metrics.RecordPacketIn(result)
	s.logger.Debug("Packet-in handled",
		zap.String("dpid", dp.ID().String()),
		zap.String("eth_src", src),
		zap.String("eth_dst", dst),
		zap.Uint32("out_port", port),
		zap.String("result", result))
	return err
}

// InstallHandoffInspection asks the switch serving ap to send its traffic
// to the controller for a short while ahead of a predicted handoff.
func (s *FlowService) InstallHandoffInspection(ap model.APID) error {
	if !s.cfg.HandoffInspection {
		return nil
	}
	id, ok := s.topology.SwitchFor(ap)
	if !ok {
		return errors.UnknownAP(string(ap))
	}
	dp, ok := s.registry.Lookup(id)
	if !ok {
		return errors.UnknownSwitch(id)
	}

	rule := model.FlowRule{
		Cookie:      s.HandoffCookie(),
		Match:       model.Match{},
		Actions:     []model.Action{model.Output(model.PortController)},
		Priority:    s.cfg.HandoffPriority,
		IdleTimeout: s.cfg.HandoffIdleTimeout,
		HardTimeout: s.cfg.HandoffHardTimeout,
	}
	task := workerpool.Task{
		ID:  "handoff-" + string(ap),
		Key: id.String(),
		Fn: func(ctx context.Context) error {
			err := dp.InstallRule(rule)
			s.metrics.RecordRuleOp("install_handoff", err)
			return err
		},
	}
	if err := s.executor.Submit(task); err != nil {
		return errors.SendFailed("switch command queue rejected task", err)
	}
	return nil
}

// HandoffCookie tags inspection rules so they never collide with reroutes
func (s *FlowService) HandoffCookie() uint64 {
	return s.cfg.RerouteCookie + 1
}
