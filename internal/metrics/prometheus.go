package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vanetlab/apsteer/internal/util/workerpool"
)

const (
	namespace = "apsteer"
	subsystem = "controller"
)

// Metrics holds all Prometheus metrics for the controller
type Metrics struct {
	// Switch metrics
	SwitchesConnected prometheus.Gauge
	SwitchEventsTotal *prometheus.CounterVec

	// Ingest metrics
	PredictionsTotal      *prometheus.CounterVec
	TelemetryTotal        *prometheus.CounterVec
	DatagramsDroppedTotal *prometheus.CounterVec
	LastPredictionTime    prometheus.Gauge

	// Decision metrics
	DecisionsTotal   prometheus.Counter
	DecisionDuration prometheus.Histogram
	ReroutesTotal    *prometheus.CounterVec
	CongestionScore  *prometheus.GaugeVec
	TrackedAPs       prometheus.Gauge
	TrackedVehicles  prometheus.Gauge

	// Flow metrics
	RuleOpsTotal   *prometheus.CounterVec
	PacketInsTotal *prometheus.CounterVec

	// Polling metrics
	PollCyclesTotal   prometheus.Counter
	StatsRepliesTotal prometheus.Counter
	ObservationsTotal prometheus.Counter
	AuditErrorsTotal  *prometheus.CounterVec

	// Command pool metrics
	CommandQueueDepth    prometheus.Gauge
	CommandRejectedTotal prometheus.Gauge
	CommandFailedTotal   prometheus.Gauge

	// Gossip metrics
	GossipMembersTotal  prometheus.Gauge
	GossipMessagesTotal *prometheus.CounterVec

	// System metrics
	DiskAvailableBytes prometheus.Gauge
	MemoryUsageBytes   prometheus.Gauge
	GoroutinesTotal    prometheus.Gauge
}

// NewMetrics creates all controller metrics and registers them with reg
func NewMetrics(nodeID string, reg prometheus.Registerer) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: labels,
		})
	}
	counterVec := func(name, help string, labelNames ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: labels,
		}, labelNames)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: labels,
		})
	}

	return &Metrics{
		SwitchesConnected: gauge("switches_connected", "Number of switches with a live control session"),
		SwitchEventsTotal: counterVec("switch_events_total", "Switch lifecycle events", "event"),

		PredictionsTotal:      counterVec("predictions_total", "Prediction datagrams by shape and outcome", "kind", "result"),
		TelemetryTotal:        counterVec("telemetry_total", "Vehicle telemetry datagrams by outcome", "result"),
		DatagramsDroppedTotal: counterVec("datagrams_dropped_total", "Datagrams dropped before parsing", "listener", "reason"),
		LastPredictionTime:    gauge("last_prediction_timestamp_seconds", "Unix time of the last accepted prediction"),

		DecisionsTotal: counter("decisions_total", "Rerouting decisions evaluated"),
		DecisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "decision_duration_seconds",
			Help:        "Time spent computing a rerouting decision",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
		ReroutesTotal: counterVec("reroutes_total", "Reroute requests by outcome", "result"),
		CongestionScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "congestion_score",
			Help:        "Latest congestion score per access point",
			ConstLabels: labels,
		}, []string{"ap_id"}),
		TrackedAPs:      gauge("tracked_access_points", "Access points with a congestion record"),
		TrackedVehicles: gauge("tracked_vehicles", "Vehicles held in the telemetry store"),

		RuleOpsTotal:   counterVec("rule_operations_total", "Commands sent to switches", "op", "result"),
		PacketInsTotal: counterVec("packet_ins_total", "Packet-in events by handling outcome", "result"),

		PollCyclesTotal:   counter("poll_cycles_total", "Statistics polling cycles"),
		StatsRepliesTotal: counter("stats_replies_total", "Port statistics replies received"),
		ObservationsTotal: counter("observations_total", "Port observation rows emitted"),
		AuditErrorsTotal:  counterVec("audit_errors_total", "Failed audit writes", "stream"),

		CommandQueueDepth:    gauge("command_queue_depth", "Switch commands waiting in the command pool"),
		CommandRejectedTotal: gauge("command_rejected", "Switch commands rejected by the command pool"),
		CommandFailedTotal:   gauge("command_failed", "Switch commands that failed in the command pool"),

		GossipMembersTotal:  gauge("gossip_members", "Controller replicas in the gossip cluster"),
		GossipMessagesTotal: counterVec("gossip_messages_total", "Gossip messages by direction", "direction"),

		DiskAvailableBytes: gauge("disk_available_bytes", "Free space in the audit log directory"),
		MemoryUsageBytes:   gauge("memory_usage_bytes", "Heap bytes allocated"),
		GoroutinesTotal:    gauge("goroutines", "Number of goroutines"),
	}
}

// RecordSwitchEvent records a connect or disconnect and the resulting count
func (m *Metrics) RecordSwitchEvent(event string, connected int) {
	m.SwitchEventsTotal.WithLabelValues(event).Inc()
	m.SwitchesConnected.Set(float64(connected))
}

// RecordPrediction records the outcome of one prediction datagram
func (m *Metrics) RecordPrediction(kind, result string, unixTime float64) {
	m.PredictionsTotal.WithLabelValues(kind, result).Inc()
	if result == "accepted" {
		m.LastPredictionTime.Set(unixTime)
	}
}

// RecordTelemetry records the outcome of one telemetry datagram
func (m *Metrics) RecordTelemetry(result string) {
	m.TelemetryTotal.WithLabelValues(result).Inc()
}

// RecordDatagramDropped records a datagram rejected before parsing
func (m *Metrics) RecordDatagramDropped(listener, reason string) {
	m.DatagramsDroppedTotal.WithLabelValues(listener, reason).Inc()
}

// RecordDecision records one decision evaluation
func (m *Metrics) RecordDecision(duration float64) {
	m.DecisionsTotal.Inc()
	m.DecisionDuration.Observe(duration)
}

// RecordReroute records a reroute outcome
func (m *Metrics) RecordReroute(result string) {
	m.ReroutesTotal.WithLabelValues(result).Inc()
}

// RecordRuleOp records one command sent to a switch
func (m *Metrics) RecordRuleOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RuleOpsTotal.WithLabelValues(op, result).Inc()
}

// RecordPacketIn records how a packet-in was handled
func (m *Metrics) RecordPacketIn(result string) {
	m.PacketInsTotal.WithLabelValues(result).Inc()
}

// RecordPollCycle records one polling tick
func (m *Metrics) RecordPollCycle() {
	m.PollCyclesTotal.Inc()
}

// RecordStatsReply records a statistics reply and its observation rows
func (m *Metrics) RecordStatsReply(rows int) {
	m.StatsRepliesTotal.Inc()
	m.ObservationsTotal.Add(float64(rows))
}

// RecordAuditError records a failed audit write
func (m *Metrics) RecordAuditError(stream string) {
	m.AuditErrorsTotal.WithLabelValues(stream).Inc()
}

// UpdateCongestion publishes the score of every tracked AP
func (m *Metrics) UpdateCongestion(scores map[string]float64) {
	for ap, score := range scores {
		m.CongestionScore.WithLabelValues(ap).Set(score)
	}
	m.TrackedAPs.Set(float64(len(scores)))
}

// UpdateVehicles sets the number of tracked vehicles
func (m *Metrics) UpdateVehicles(count int) {
	m.TrackedVehicles.Set(float64(count))
}

// UpdateCommandPool mirrors worker pool statistics
func (m *Metrics) UpdateCommandPool(stats workerpool.Stats) {
	m.CommandQueueDepth.Set(float64(stats.QueuedTasks))
	m.CommandRejectedTotal.Set(float64(stats.RejectedTasks))
	m.CommandFailedTotal.Set(float64(stats.FailedTasks))
}

// UpdateGossipStats sets the cluster member count
func (m *Metrics) UpdateGossipStats(members int) {
	m.GossipMembersTotal.Set(float64(members))
}

// RecordGossipMessage records a gossip message sent or received
func (m *Metrics) RecordGossipMessage(direction string) {
	m.GossipMessagesTotal.WithLabelValues(direction).Inc()
}

// UpdateSystemStats updates system-level metrics
func (m *Metrics) UpdateSystemStats(diskAvailable, memoryUsage int64, goroutines int) {
	m.DiskAvailableBytes.Set(float64(diskAvailable))
	m.MemoryUsageBytes.Set(float64(memoryUsage))
	m.GoroutinesTotal.Set(float64(goroutines))
}
