package registry

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/model"
)

type entry struct {
	handle      model.Datapath
	state       model.SwitchState
	remoteAddr  string
	connectedAt time.Time
}

// SwitchRegistry tracks live control connections keyed by datapath id.
// It is the single source of truth for switch reachability.
type SwitchRegistry struct {
	mu       sync.RWMutex
	switches map[model.DPID]*entry
	logger   *zap.Logger
	now      func() time.Time
}

// NewSwitchRegistry creates an empty registry
func NewSwitchRegistry(logger *zap.Logger) *SwitchRegistry {
	return &SwitchRegistry{
		switches: make(map[model.DPID]*entry),
		logger:   logger,
		now:      time.Now,
	}
}

// Register stores the handle for id, replacing any previous one, and marks
// the switch active. It reports whether the switch became reachable, i.e.
// was not registered before.
func (r *SwitchRegistry) Register(id model.DPID, handle model.Datapath, remoteAddr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.switches[id]
	r.switches[id] = &entry{
		handle:      handle,
		state:       model.SwitchStateActive,
		remoteAddr:  remoteAddr,
		connectedAt: r.now(),
	}

	if existed && prev.handle != handle {
		r.logger.Info("Switch handle replaced",
			zap.Stringer("dpid", id),
			zap.String("remote_addr", remoteAddr))
	}
	return !existed
}

// Unregister removes id. Removing an unknown switch logs a warning and
// changes nothing.
func (r *SwitchRegistry) Unregister(id model.DPID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.switches[id]; !ok {
		r.logger.Warn("Unregister for unknown switch", zap.Stringer("dpid", id))
		return false
	}
	delete(r.switches, id)
	return true
}

// UnregisterHandle removes id only while handle is still the registered
// connection, so a closing stale session cannot evict its replacement.
func (r *SwitchRegistry) UnregisterHandle(id model.DPID, handle model.Datapath) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.switches[id]
	if !ok {
		r.logger.Warn("Unregister for unknown switch", zap.Stringer("dpid", id))
		return false
	}
	if e.handle != handle {
		r.logger.Debug("Ignoring unregister from superseded session", zap.Stringer("dpid", id))
		return false
	}
	delete(r.switches, id)
	return true
}

// Lookup returns the handle registered for id
func (r *SwitchRegistry) Lookup(id model.DPID) (model.Datapath, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.switches[id]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// ForEach calls fn for every switch registered when iteration starts.
// Switches that disconnect before their turn are skipped. fn runs without
// the registry lock held.
func (r *SwitchRegistry) ForEach(fn func(model.Datapath)) {
	r.mu.RLock()
	ids := make([]model.DPID, 0, len(r.switches))
	for id := range r.switches {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		handle, ok := r.Lookup(id)
		if !ok {
			continue
		}
		fn(handle)
	}
}

// List returns a snapshot of registered switches ordered by id
func (r *SwitchRegistry) List() []model.SwitchInfo {
	r.mu.RLock()
	infos := make([]model.SwitchInfo, 0, len(r.switches))
	for id, e := range r.switches {
		infos = append(infos, model.SwitchInfo{
			ID:          id,
			State:       e.state,
			RemoteAddr:  e.remoteAddr,
			ConnectedAt: e.connectedAt,
		})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Len returns the number of registered switches
func (r *SwitchRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.switches)
}
