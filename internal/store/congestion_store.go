package store

import (
	"sort"
	"sync"
	"time"

	"github.com/vanetlab/apsteer/internal/model"
)

// CongestionStore holds the latest congestion record per access point.
// Writes are last-write-wins with no staleness check.
type CongestionStore struct {
	mu         sync.RWMutex
	records    map[model.APID]model.CongestionRecord
	lastUpdate time.Time

	listenersMu sync.RWMutex
	listeners   []CongestionListener
}

// NewCongestionStore creates an empty store
func NewCongestionStore() *CongestionStore {
	return &CongestionStore{
		records: make(map[model.APID]model.CongestionRecord),
	}
}

// Subscribe registers a listener for subsequent mutations
func (s *CongestionStore) Subscribe(l CongestionListener) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()
}

// Get returns the record for ap
func (s *CongestionStore) Get(ap model.APID) (model.CongestionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[ap]
	return cloneRecord(rec), ok
}

// Set replaces the record of one access point
func (s *CongestionStore) Set(rec model.CongestionRecord) {
	rec = cloneRecord(rec)

	s.mu.Lock()
	s.records[rec.APID] = rec
	s.lastUpdate = rec.UpdatedAt
	s.mu.Unlock()

	s.notify([]model.CongestionRecord{rec}, OriginLocal)
}

// SetAll replaces the records of every listed access point in one step.
// Readers see either none or all of the batch; unlisted APs are untouched.
func (s *CongestionStore) SetAll(batch []model.CongestionRecord) {
	if len(batch) == 0 {
		return
	}
	copied := make([]model.CongestionRecord, len(batch))
	for i, rec := range batch {
		copied[i] = cloneRecord(rec)
	}

	s.mu.Lock()
	for _, rec := range copied {
		s.records[rec.APID] = rec
		if rec.UpdatedAt.After(s.lastUpdate) {
			s.lastUpdate = rec.UpdatedAt
		}
	}
	s.mu.Unlock()

	s.notify(copied, OriginLocal)
}

// Merge applies records from a peer, keeping whichever side is newer.
// It returns the records that were applied.
func (s *CongestionStore) Merge(remote []model.CongestionRecord) []model.CongestionRecord {
	applied := make([]model.CongestionRecord, 0, len(remote))

	s.mu.Lock()
	for _, rec := range remote {
		current, ok := s.records[rec.APID]
		if ok && !rec.UpdatedAt.After(current.UpdatedAt) {
			continue
		}
		rec = cloneRecord(rec)
		s.records[rec.APID] = rec
		if rec.UpdatedAt.After(s.lastUpdate) {
			s.lastUpdate = rec.UpdatedAt
		}
		applied = append(applied, rec)
	}
	s.mu.Unlock()

	if len(applied) > 0 {
		s.notify(applied, OriginReplica)
	}
	return applied
}

// Snapshot returns a copy of all records
func (s *CongestionStore) Snapshot() map[model.APID]model.CongestionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[model.APID]model.CongestionRecord, len(s.records))
	for ap, rec := range s.records {
		snap[ap] = cloneRecord(rec)
	}
	return snap
}

// List returns all records ordered by access point id
func (s *CongestionStore) List() []model.CongestionRecord {
	snap := s.Snapshot()
	out := make([]model.CongestionRecord, 0, len(snap))
	for _, rec := range snap {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].APID < out[j].APID })
	return out
}

// Len returns the number of access points with a record
func (s *CongestionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// LastUpdate returns the timestamp of the newest record
func (s *CongestionStore) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

func (s *CongestionStore) notify(records []model.CongestionRecord, origin Origin) {
	s.listenersMu.RLock()
	listeners := make([]CongestionListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(records, origin)
	}
}

func cloneRecord(rec model.CongestionRecord) model.CongestionRecord {
	if rec.Features != nil {
		fv := *rec.Features
		rec.Features = &fv
	}
	return rec
}
