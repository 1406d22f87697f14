package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/config"
	"github.com/vanetlab/apsteer/internal/metrics"
	"github.com/vanetlab/apsteer/internal/model"
	"github.com/vanetlab/apsteer/internal/store"
)

// gossipMessage carries congestion records between controllers
type gossipMessage struct {
	NodeID  string                   `json:"node_id"`
	Records []model.CongestionRecord `json:"records"`
}

// congestionBroadcast is one queued record; a newer record for the same AP
// replaces it in the queue.
type congestionBroadcast struct {
	ap  model.APID
	msg []byte
}

func (b *congestionBroadcast) Invalidates(other memberlist.Broadcast) bool {
	o, ok := other.(*congestionBroadcast)
	return ok && o.ap == b.ap
}

func (b *congestionBroadcast) Message() []byte {
	return b.msg
}

func (b *congestionBroadcast) Finished() {}

// GossipService replicates locally ingested congestion records to peer
// controllers and merges what peers send back. It also advertises the
// node's health in its memberlist metadata.
type GossipService struct {
	nodeID     string
	store      *store.CongestionStore
	memberlist *memberlist.Memberlist
	broadcasts *memberlist.TransmitLimitedQueue
	metrics    *metrics.Metrics
	logger     *zap.Logger

	// maintained from join/leave events; memberlist holds its node lock
	// while delivering them, so delegates must not query it
	members atomic.Int32

	healthMu   sync.RWMutex
	healthData model.HealthStatus
}

// newGossipDelegate builds the service without joining a cluster
func newGossipDelegate(nodeID string, st *store.CongestionStore, m *metrics.Metrics, logger *zap.Logger) *GossipService {
	gs := &GossipService{
		nodeID:  nodeID,
		store:   st,
		metrics: m,
		logger:  logger,
		healthData: model.HealthStatus{
			NodeID:    nodeID,
			Status:    model.NodeStatusHealthy,
			Timestamp: time.Now().Unix(),
		},
	}
	gs.broadcasts = &memberlist.TransmitLimitedQueue{
		NumNodes:       gs.numNodes,
		RetransmitMult: 3,
	}
	st.Subscribe(gs.onCongestion)
	return gs
}

// NewGossipService creates the memberlist and joins the seed nodes
func NewGossipService(cfg *config.GossipConfig, nodeID string, st *store.CongestionStore, m *metrics.Metrics, logger *zap.Logger) (*GossipService, error) {
	gs := newGossipDelegate(nodeID, st, m, logger)

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = nodeID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = gs
	mlConfig.Events = &GossipEventDelegate{service: gs}
	mlConfig.Logger = zap.NewStdLog(logger.Named("memberlist"))

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	gs.memberlist = ml

	if len(cfg.SeedNodes) > 0 {
		joined, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
		logger.Info("Joined gossip cluster",
			zap.Int("contacted", joined),
			zap.Strings("seeds", cfg.SeedNodes))
	}
	m.UpdateGossipStats(ml.NumMembers())

	return gs, nil
}

func (s *GossipService) numNodes() int {
	if n := int(s.members.Load()); n > 0 {
		return n
	}
	return 1
}

// onCongestion queues local updates for broadcast. Records received from
// peers are not re-broadcast.
func (s *GossipService) onCongestion(records []model.CongestionRecord, origin store.Origin) {
	if origin != store.OriginLocal {
		return
	}
	for _, rec := range records {
		data, err := json.Marshal(gossipMessage{NodeID: s.nodeID, Records: []model.CongestionRecord{rec}})
		if err != nil {
			s.logger.Warn("Failed to marshal congestion record", zap.Error(err))
			continue
		}
		s.broadcasts.QueueBroadcast(&congestionBroadcast{ap: rec.APID, msg: data})
	}
}

// NodeMeta implements memberlist.Delegate
func (s *GossipService) NodeMeta(limit int) []byte {
	s.healthMu.RLock()
	data, _ := json.Marshal(s.healthData)
	s.healthMu.RUnlock()
	if len(data) > limit {
		return nil
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *GossipService) NotifyMsg(data []byte) {
	var msg gossipMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("Failed to unmarshal gossip message", zap.Error(err))
		return
	}
	if msg.NodeID == s.nodeID {
		return
	}
	s.metrics.RecordGossipMessage("received")

	applied := s.store.Merge(msg.Records)
	if len(applied) > 0 {
		s.logger.Debug("Merged congestion records from peer",
			zap.String("peer", msg.NodeID),
			zap.Int("applied", len(applied)))
	}
}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipService) GetBroadcasts(overhead, limit int) [][]byte {
	msgs := s.broadcasts.GetBroadcasts(overhead, limit)
	for range msgs {
		s.metrics.RecordGossipMessage("sent")
	}
	return msgs
}

// LocalState implements memberlist.Delegate. The full congestion table is
// exchanged during push/pull syncs.
func (s *GossipService) LocalState(join bool) []byte {
	data, err := json.Marshal(gossipMessage{NodeID: s.nodeID, Records: s.store.List()})
	if err != nil {
		s.logger.Warn("Failed to marshal local state", zap.Error(err))
		return nil
	}
	return data
}

// MergeRemoteState implements memberlist.Delegate
func (s *GossipService) MergeRemoteState(buf []byte, join bool) {
	if len(buf) == 0 {
		return
	}
	var msg gossipMessage
	if err := json.Unmarshal(buf, &msg); err != nil {
		s.logger.Warn("Failed to unmarshal remote state", zap.Error(err))
		return
	}
	applied := s.store.Merge(msg.Records)
	s.logger.Debug("Merged remote state",
		zap.String("peer", msg.NodeID),
		zap.Bool("join", join),
		zap.Int("applied", len(applied)))
}

// UpdateHealthStatus updates the health advertised to peers
func (s *GossipService) UpdateHealthStatus(hm model.HealthMetrics, staleAfter time.Duration) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	s.healthData.Timestamp = time.Now().Unix()
	s.healthData.Metrics = hm

	switch {
	case hm.ConnectedSwitches == 0:
		s.healthData.Status = model.NodeStatusUnhealthy
	case staleAfter > 0 && hm.LastPredictionAge > staleAfter.Seconds():
		s.healthData.Status = model.NodeStatusDegraded
	default:
		s.healthData.Status = model.NodeStatusHealthy
	}
}

// HealthStatus returns the health currently advertised to peers
func (s *GossipService) HealthStatus() model.HealthStatus {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthData
}

// Members returns the names of all live cluster members
func (s *GossipService) Members() []string {
	if s.memberlist == nil {
		return []string{s.nodeID}
	}
	members := s.memberlist.Members()
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Name)
	}
	return names
}

// Shutdown leaves the cluster and shuts down the gossip service
func (s *GossipService) Shutdown() error {
	if s.memberlist == nil {
		return nil
	}
	if err := s.memberlist.Leave(time.Second); err != nil {
		s.logger.Warn("Failed to leave gossip cluster", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

// GossipEventDelegate handles memberlist events
type GossipEventDelegate struct {
	service *GossipService
}

// NotifyJoin is called when a node joins
func (d *GossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.logger.Info("Controller joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Addr.String()))
	d.service.members.Add(1)
	d.service.metrics.UpdateGossipStats(d.service.numNodes())
}

// NotifyLeave is called when a node leaves
func (d *GossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.logger.Info("Controller left",
		zap.String("node_id", node.Name))
	d.service.members.Add(-1)
	d.service.metrics.UpdateGossipStats(d.service.numNodes())
}

// NotifyUpdate is called when a node is updated
func (d *GossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Controller updated",
		zap.String("node_id", node.Name))
}
