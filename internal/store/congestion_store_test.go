package store

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanetlab/apsteer/internal/model"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func features(rate float64) model.FeatureVector {
	return model.FeatureVector{AvgPacketRate: rate, AvgLatency: 0.1}
}

func TestCongestionStore_SetAllReplacesOnlyListed(t *testing.T) {
	s := NewCongestionStore()
	s.Set(model.NewScalarRecord("ap1", 0.4, t0))
	s.Set(model.NewScalarRecord("ap2", 0.9, t0))

	s.SetAll([]model.CongestionRecord{
		model.NewFeatureRecord("ap2", features(0.2), t0.Add(time.Second)),
		model.NewFeatureRecord("ap3", features(0.7), t0.Add(time.Second)),
	})

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, model.RecordKindScalar, snap["ap1"].Kind, "unlisted AP keeps its record")
	assert.Equal(t, 0.4, snap["ap1"].Load)
	assert.Equal(t, model.RecordKindFeatures, snap["ap2"].Kind)
	assert.Equal(t, 0.2, snap["ap2"].Features.AvgPacketRate)
	assert.Equal(t, 0.7, snap["ap3"].Features.AvgPacketRate)
	assert.Equal(t, t0.Add(time.Second), s.LastUpdate())
}

func TestCongestionStore_LastWriteWins(t *testing.T) {
	s := NewCongestionStore()
	s.Set(model.NewScalarRecord("ap1", 0.4, t0.Add(time.Minute)))
	// older timestamp still overwrites: no staleness check on local writes
	s.Set(model.NewScalarRecord("ap1", 0.8, t0))

	rec, ok := s.Get("ap1")
	require.True(t, ok)
	assert.Equal(t, 0.8, rec.Load)

	_, ok = s.Get("ap9")
	assert.False(t, ok)
}

func TestCongestionStore_SetAllIsAtomicForReaders(t *testing.T) {
	s := NewCongestionStore()
	batchA := []model.CongestionRecord{
		model.NewScalarRecord("ap1", 1, t0),
		model.NewScalarRecord("ap2", 1, t0),
	}
	batchB := []model.CongestionRecord{
		model.NewScalarRecord("ap1", 2, t0),
		model.NewScalarRecord("ap2", 2, t0),
	}
	s.SetAll(batchA)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if i%2 == 0 {
				s.SetAll(batchB)
			} else {
				s.SetAll(batchA)
			}
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
			snap := s.Snapshot()
			assert.Equal(t, snap["ap1"].Load, snap["ap2"].Load, "reader observed a partial batch")
		}
	}
}

func TestCongestionStore_SnapshotIsACopy(t *testing.T) {
	s := NewCongestionStore()
	s.Set(model.NewFeatureRecord("ap1", features(0.5), t0))

	snap := s.Snapshot()
	snap["ap1"].Features.AvgPacketRate = 99
	delete(snap, "ap1")

	rec, ok := s.Get("ap1")
	require.True(t, ok)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 0.5, rec.Features.AvgPacketRate)
}

func TestCongestionStore_Listeners(t *testing.T) {
	s := NewCongestionStore()

	var got [][]model.CongestionRecord
	var origins []Origin
	s.Subscribe(func(records []model.CongestionRecord, origin Origin) {
		got = append(got, records)
		origins = append(origins, origin)
	})

	s.Set(model.NewScalarRecord("ap1", 0.1, t0))
	s.SetAll([]model.CongestionRecord{
		model.NewScalarRecord("ap2", 0.2, t0),
		model.NewScalarRecord("ap3", 0.3, t0),
	})
	s.SetAll(nil)

	require.Len(t, got, 2, "one notification per mutation, none for an empty batch")
	assert.Len(t, got[0], 1)
	assert.Len(t, got[1], 2)
	assert.Equal(t, []Origin{OriginLocal, OriginLocal}, origins)
}

func TestCongestionStore_MergeKeepsNewer(t *testing.T) {
	s := NewCongestionStore()
	s.Set(model.NewScalarRecord("ap1", 0.5, t0.Add(time.Minute)))
	s.Set(model.NewScalarRecord("ap2", 0.5, t0))

	var replicated []model.CongestionRecord
	s.Subscribe(func(records []model.CongestionRecord, origin Origin) {
		if origin == OriginReplica {
			replicated = append(replicated, records...)
		}
	})

	applied := s.Merge([]model.CongestionRecord{
		model.NewScalarRecord("ap1", 0.9, t0),                  // older, ignored
		model.NewScalarRecord("ap2", 0.9, t0.Add(time.Second)), // newer, applied
		model.NewScalarRecord("ap3", 0.9, t0),                  // unknown, applied
	})

	want := []model.APID{"ap2", "ap3"}
	var gotIDs []model.APID
	for _, rec := range applied {
		gotIDs = append(gotIDs, rec.APID)
	}
	if diff := cmp.Diff(want, gotIDs); diff != "" {
		t.Errorf("applied mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, replicated, 2)

	rec, _ := s.Get("ap1")
	assert.Equal(t, 0.5, rec.Load)
}

func TestCongestionStore_List(t *testing.T) {
	s := NewCongestionStore()
	s.SetAll([]model.CongestionRecord{
		model.NewScalarRecord("ap3", 0.3, t0),
		model.NewScalarRecord("ap1", 0.1, t0),
	})
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, model.APID("ap1"), list[0].APID)
}
