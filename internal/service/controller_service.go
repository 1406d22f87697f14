package service

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/config"
	"github.com/vanetlab/apsteer/internal/errors"
	"github.com/vanetlab/apsteer/internal/metrics"
	"github.com/vanetlab/apsteer/internal/model"
	"github.com/vanetlab/apsteer/internal/registry"
	"github.com/vanetlab/apsteer/internal/store"
	"github.com/vanetlab/apsteer/internal/validation"
)

const predictionSource = "prediction"

// ControllerService ties switch events and ingest datagrams to the stores,
// the decision logic and the flow service.
type ControllerService struct {
	registry   *registry.SwitchRegistry
	congestion *store.CongestionStore
	vehicles   *store.VehicleStore
	topology   *config.Topology
	validator  *validation.Validator
	decision   *DecisionService
	flow       *FlowService
	learned    *LearnedPortTable
	audit      store.AuditSink
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time

	lastPrediction atomic.Int64
	lastDecision   atomic.Pointer[Decision]
}

// ControllerDeps groups the collaborators of a ControllerService
type ControllerDeps struct {
	Registry   *registry.SwitchRegistry
	Congestion *store.CongestionStore
	Vehicles   *store.VehicleStore
	Topology   *config.Topology
	Validator  *validation.Validator
	Decision   *DecisionService
	Flow       *FlowService
	Learned    *LearnedPortTable
	Audit      store.AuditSink
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// NewControllerService creates a new controller service
func NewControllerService(deps ControllerDeps) *ControllerService {
	audit := deps.Audit
	if audit == nil {
		audit = store.MultiSink{}
	}
	return &ControllerService{
		registry:   deps.Registry,
		congestion: deps.Congestion,
		vehicles:   deps.Vehicles,
		topology:   deps.Topology,
		validator:  deps.Validator,
		decision:   deps.Decision,
		flow:       deps.Flow,
		learned:    deps.Learned,
		audit:      audit,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// SwitchConnected registers the switch and installs its default rule
func (c *ControllerService) SwitchConnected(dp model.Datapath, remoteAddr string) {
	isNew := c.registry.Register(dp.ID(), dp, remoteAddr)
	c.metrics.RecordSwitchEvent("connected", c.registry.Len())

	c.logger.Info("Switch connected",
		zap.String("dpid", dp.ID().String()),
		zap.String("remote_addr", remoteAddr),
		zap.Bool("reconnect", !isNew))

	// failure is logged inside; the switch stays registered
	_ = c.flow.InstallDefault(dp)
}

// SwitchDisconnected forgets the switch. Events for a handle that was
// already replaced by a reconnect are ignored.
func (c *ControllerService) SwitchDisconnected(dp model.Datapath) {
	if !c.registry.UnregisterHandle(dp.ID(), dp) {
		c.logger.Debug("Ignoring disconnect of unknown or replaced switch",
			zap.String("dpid", dp.ID().String()))
		return
	}
	forgotten := c.learned.Forget(dp.ID())
	c.metrics.RecordSwitchEvent("disconnected", c.registry.Len())
	c.logger.Info("Switch disconnected",
		zap.String("dpid", dp.ID().String()),
		zap.Int("learned_macs_dropped", forgotten))
}

// PacketIn hands an unmatched frame to the flow service
func (c *ControllerService) PacketIn(dp model.Datapath, pkt model.PacketIn) {
	if err := c.flow.HandlePacketIn(dp, pkt); err != nil {
		c.logger.Warn("Packet-in handling failed",
			zap.String("dpid", dp.ID().String()),
			zap.Error(err))
	}
}

// StatsReply writes one observation row per port. Each row carries the
// congestion value of the switch's AP at the time the reply arrived.
func (c *ControllerService) StatsReply(dp model.Datapath, ports []model.PortStats) {
	now := c.now()

	var rec model.CongestionRecord
	found := false
	if ap, ok := c.topology.APFor(dp.ID()); ok {
		rec, found = c.congestion.Get(ap)
	}
	value := c.decision.Scorer().ObservedValue(rec, found)

	rows := make([]model.PortObservation, 0, len(ports))
	for _, p := range ports {
		rows = append(rows, model.PortObservation{
			Timestamp:       now,
			SwitchID:        dp.ID(),
			Stats:           p,
			CongestionScore: value,
		})
	}

	c.metrics.RecordStatsReply(len(rows))
	if len(rows) == 0 {
		return
	}
	if err := c.audit.WriteObservations(context.Background(), rows); err != nil {
		c.metrics.RecordAuditError("network_stats")
		c.logger.Error("Failed to write port observations",
			zap.String("dpid", dp.ID().String()),
			zap.Error(err))
	}
}

// HandlePrediction is the DatagramHandler of the prediction socket
func (c *ControllerService) HandlePrediction(ctx context.Context, data []byte, from net.Addr) {
	p, err := c.validator.ParsePrediction(data)
	if err != nil {
		c.metrics.RecordPrediction("invalid", "rejected", 0)
		c.logger.Warn("Rejected prediction datagram",
			zap.Stringer("from", from),
			zap.Int("code", int(errors.GetCode(err))),
			zap.Error(err))
		return
	}

	switch p.Kind {
	case model.PredictionScalar:
		c.ApplyScalar(ctx, p.Scalar, p.Raw)
	case model.PredictionBatch:
		c.ApplyBatch(ctx, p.Batch, p.Raw)
	case model.PredictionHandoff:
		c.ApplyHandoff(ctx, p.Handoff, p.Raw)
	}
}

// ApplyScalar stores a validated single-AP load prediction
func (c *ControllerService) ApplyScalar(ctx context.Context, p *model.ScalarPrediction, raw []byte) {
	now := c.now()
	rec := model.NewScalarRecord(p.APID, *p.TrafficLoad, now)
	rec.Source = predictionSource
	c.congestion.Set(rec)

	load := *p.TrafficLoad
	c.writePredictionAudit(ctx, model.PredictionAudit{
		Timestamp: now,
		Kind:      string(model.PredictionScalar),
		APIDs:     []model.APID{p.APID},
		Load:      &load,
		Payload:   string(raw),
	})
	c.markPrediction(string(model.PredictionScalar), now)

	c.logger.Debug("Scalar prediction applied",
		zap.String("ap_id", string(p.APID)),
		zap.Float64("traffic_load", load))
}

// ApplyBatch stores a validated batch as one atomic update, then reroutes
// every AP of the batch that crossed the threshold toward the least
// congested AP.
func (c *ControllerService) ApplyBatch(ctx context.Context, b *model.BatchPrediction, raw []byte) {
	now := c.now()
	records := make([]model.CongestionRecord, 0, len(b.Data))
	apIDs := make([]model.APID, 0, len(b.Data))
	seen := make(map[model.APID]bool, len(b.Data))
	for _, entry := range b.Data {
		rec := model.NewFeatureRecord(entry.APID, entry.PredictedFeatures.Vector(), now)
		rec.Source = predictionSource
		records = append(records, rec)
		if !seen[entry.APID] {
			seen[entry.APID] = true
			apIDs = append(apIDs, entry.APID)
		}
	}
	c.congestion.SetAll(records)

	c.writePredictionAudit(ctx, model.PredictionAudit{
		Timestamp: now,
		Kind:      string(model.PredictionBatch),
		APIDs:     apIDs,
		Payload:   string(raw),
	})
	c.markPrediction(string(model.PredictionBatch), now)

	decision := c.decision.Decide(c.congestion.Snapshot(), apIDs)
	c.lastDecision.Store(&decision)

	for _, from := range decision.Reroutes {
		if err := c.flow.Reroute(from, decision.Target); err != nil {
			c.logger.Warn("Reroute not applied",
				zap.String("decision_id", decision.ID),
				zap.String("from", string(from)),
				zap.String("to", string(decision.Target)),
				zap.Error(err))
		}
	}

	c.logger.Info("Batch prediction applied",
		zap.String("decision_id", decision.ID),
		zap.Int("entries", len(records)),
		zap.String("target", string(decision.Target)),
		zap.Int("reroutes", len(decision.Reroutes)))
}

// ApplyHandoff records a predicted handoff and opens a short inspection
// window on the switch of the predicted AP.
func (c *ControllerService) ApplyHandoff(ctx context.Context, h *model.HandoffHint, raw []byte) {
	now := c.now()
	c.vehicles.RecordHandoff(h.NodeID, h.PredictedAP, now)

	c.writePredictionAudit(ctx, model.PredictionAudit{
		Timestamp: now,
		Kind:      string(model.PredictionHandoff),
		APIDs:     []model.APID{h.PredictedAP},
		Payload:   string(raw),
	})
	c.markPrediction(string(model.PredictionHandoff), now)
	c.metrics.UpdateVehicles(c.vehicles.Len())

	if err := c.flow.InstallHandoffInspection(h.PredictedAP); err != nil {
		c.logger.Warn("Handoff inspection rule not installed",
			zap.String("node_id", h.NodeID),
			zap.String("predicted_ap", string(h.PredictedAP)),
			zap.Error(err))
	}
}

// HandleTelemetry is the DatagramHandler of the telemetry socket
func (c *ControllerService) HandleTelemetry(ctx context.Context, data []byte, from net.Addr) {
	msg, err := c.validator.ParseTelemetry(data)
	if err != nil {
		c.metrics.RecordTelemetry("rejected")
		c.logger.Warn("Rejected telemetry datagram",
			zap.Stringer("from", from),
			zap.Int("code", int(errors.GetCode(err))),
			zap.Error(err))
		return
	}

	t := model.VehicleTelemetry{
		VehicleID: msg.VehicleID,
		APID:      msg.APID,
		Speed:     *msg.Speed,
		X:         *msg.X,
		Y:         *msg.Y,
		Lane:      msg.Lane,
		Timestamp: c.now(),
	}
	c.vehicles.Upsert(t)

	if err := c.audit.WriteTelemetry(ctx, t); err != nil {
		c.metrics.RecordAuditError("vehicle_data")
		c.logger.Error("Failed to write telemetry audit row",
			zap.String("vehicle_id", t.VehicleID),
			zap.Error(err))
	}
	c.metrics.RecordTelemetry("accepted")
	c.metrics.UpdateVehicles(c.vehicles.Len())
}

// LastPrediction returns when the last valid prediction was applied
func (c *ControllerService) LastPrediction() (time.Time, bool) {
	ns := c.lastPrediction.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// LastDecision returns the most recent batch decision
func (c *ControllerService) LastDecision() (Decision, bool) {
	d := c.lastDecision.Load()
	if d == nil {
		return Decision{}, false
	}
	return *d, true
}

func (c *ControllerService) writePredictionAudit(ctx context.Context, audit model.PredictionAudit) {
	if err := c.audit.WritePrediction(ctx, audit); err != nil {
		c.metrics.RecordAuditError("predictions")
		c.logger.Error("Failed to write prediction audit row",
			zap.String("kind", audit.Kind),
			zap.Error(err))
	}
}

func (c *ControllerService) markPrediction(kind string, at time.Time) {
	c.lastPrediction.Store(at.UnixNano())
	c.metrics.RecordPrediction(kind, "accepted", float64(at.Unix()))

	scores := make(map[string]float64, c.congestion.Len())
	for _, ranked := range c.decision.Rank(c.congestion.Snapshot()) {
		scores[string(ranked.APID)] = ranked.Score
	}
	c.metrics.UpdateCongestion(scores)
}
