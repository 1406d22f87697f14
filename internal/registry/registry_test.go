package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/model"
)

type stubDatapath struct {
	id model.DPID
}

func (s *stubDatapath) ID() model.DPID                      { return s.id }
func (s *stubDatapath) InstallRule(model.FlowRule) error    { return nil }
func (s *stubDatapath) DeleteRule(model.RuleSelector) error { return nil }
func (s *stubDatapath) RequestStats() error                 { return nil }
func (s *stubDatapath) PacketOut(model.PacketOut) error     { return nil }

func TestRegister(t *testing.T) {
	r := NewSwitchRegistry(zap.NewNop())
	first := &stubDatapath{id: 1}
	second := &stubDatapath{id: 1}

	assert.True(t, r.Register(1, first, "10.0.0.1:4000"), "first registration makes the switch reachable")
	assert.False(t, r.Register(1, second, "10.0.0.1:4001"), "re-registration overwrites")

	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Len())

	infos := r.List()
	require.Len(t, infos, 1)
	assert.Equal(t, model.SwitchStateActive, infos[0].State)
	assert.Equal(t, "10.0.0.1:4001", infos[0].RemoteAddr)
}

func TestUnregister_Unknown(t *testing.T) {
	r := NewSwitchRegistry(zap.NewNop())
	r.Register(1, &stubDatapath{id: 1}, "")

	assert.False(t, r.Unregister(42))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Unregister(1))
	assert.False(t, r.Unregister(1))
	assert.Equal(t, 0, r.Len())
}

func TestUnregisterHandle_StaleSession(t *testing.T) {
	r := NewSwitchRegistry(zap.NewNop())
	stale := &stubDatapath{id: 7}
	fresh := &stubDatapath{id: 7}

	r.Register(7, stale, "")
	r.Register(7, fresh, "")

	assert.False(t, r.UnregisterHandle(7, stale))
	got, ok := r.Lookup(7)
	require.True(t, ok)
	assert.Same(t, fresh, got)

	assert.True(t, r.UnregisterHandle(7, fresh))
	_, ok = r.Lookup(7)
	assert.False(t, ok)
}

func TestForEach_SkipsRemovedMidIteration(t *testing.T) {
	r := NewSwitchRegistry(zap.NewNop())
	for i := 1; i <= 4; i++ {
		r.Register(model.DPID(i), &stubDatapath{id: model.DPID(i)}, "")
	}

	var visited []model.DPID
	r.ForEach(func(dp model.Datapath) {
		visited = append(visited, dp.ID())
		if len(visited) == 1 {
			// disconnect everything still pending
			for id := model.DPID(1); id <= 4; id++ {
				if id != dp.ID() {
					r.Unregister(id)
				}
			}
		}
	})

	assert.Len(t, visited, 1)
	assert.Equal(t, 1, r.Len())
}

func TestForEach_Empty(t *testing.T) {
	r := NewSwitchRegistry(zap.NewNop())
	called := false
	r.ForEach(func(model.Datapath) { called = true })
	assert.False(t, called)
}

func TestList_Ordered(t *testing.T) {
	r := NewSwitchRegistry(zap.NewNop())
	for _, id := range []model.DPID{3, 1, 2} {
		r.Register(id, &stubDatapath{id: id}, "")
	}
	infos := r.List()
	require.Len(t, infos, 3)
	assert.Equal(t, model.DPID(1), infos[0].ID)
	assert.Equal(t, model.DPID(3), infos[2].ID)
}
