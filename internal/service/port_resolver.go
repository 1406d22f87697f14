package service

import (
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/vanetlab/apsteer/internal/config"
	"github.com/vanetlab/apsteer/internal/model"
)

// PortQuery asks which port on Switch leads toward AP or MAC
type PortQuery struct {
	Switch model.DPID
	AP     model.APID
	MAC    string
}

// PortResolver maps a query to an output port
type PortResolver interface {
	ResolvePort(q PortQuery) (uint32, bool)
}

// ChainResolver asks each resolver in order and returns the first hit
type ChainResolver []PortResolver

func (c ChainResolver) ResolvePort(q PortQuery) (uint32, bool) {
	for _, r := range c {
		if port, ok := r.ResolvePort(q); ok {
			return port, true
		}
	}
	return 0, false
}

// StaticPortResolver resolves access points through the static topology
type StaticPortResolver struct {
	topology *config.Topology
}

// NewStaticPortResolver creates a resolver backed by topology
func NewStaticPortResolver(topology *config.Topology) *StaticPortResolver {
	return &StaticPortResolver{topology: topology}
}

func (r *StaticPortResolver) ResolvePort(q PortQuery) (uint32, bool) {
	if q.AP == "" {
		return 0, false
	}
	ap, ok := r.topology.Lookup(q.AP)
	if !ok {
		return 0, false
	}
	return ap.Port, true
}

// LearnedPortTable remembers which port each source MAC was seen on, per
// switch. Entries are bounded by capacity and expire after ttl.
type LearnedPortTable struct {
	cache *ttlcache.Cache[string, uint32]
}

// NewLearnedPortTable creates a table holding at most capacity entries
func NewLearnedPortTable(capacity uint64, ttl time.Duration) *LearnedPortTable {
	return &LearnedPortTable{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, uint32](ttl),
			ttlcache.WithCapacity[string, uint32](capacity),
		),
	}
}

func learnedKey(sw model.DPID, mac string) string {
	return sw.String() + "/" + strings.ToLower(mac)
}

// Learn records that mac was seen on port of sw
func (t *LearnedPortTable) Learn(sw model.DPID, mac string, port uint32) {
	t.cache.Set(learnedKey(sw, mac), port, ttlcache.DefaultTTL)
}

// Lookup returns the learned port of mac on sw
func (t *LearnedPortTable) Lookup(sw model.DPID, mac string) (uint32, bool) {
	item := t.cache.Get(learnedKey(sw, mac))
	if item == nil {
		return 0, false
	}
	return item.Value(), true
}

// Forget drops everything learned on sw
func (t *LearnedPortTable) Forget(sw model.DPID) int {
	prefix := sw.String() + "/"
	removed := 0
	for _, key := range t.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			t.cache.Delete(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of learned entries
func (t *LearnedPortTable) Len() int {
	return t.cache.Len()
}

// Start blocks running the expiry loop until Stop is called
func (t *LearnedPortTable) Start() {
	t.cache.Start()
}

// Stop halts the expiry loop
func (t *LearnedPortTable) Stop() {
	t.cache.Stop()
}

// ResolvePort resolves q.MAC on q.Switch
func (t *LearnedPortTable) ResolvePort(q PortQuery) (uint32, bool) {
	if q.MAC == "" {
		return 0, false
	}
	return t.Lookup(q.Switch, q.MAC)
}
