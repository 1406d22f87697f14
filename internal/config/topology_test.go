package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanetlab/apsteer/internal/model"
)

func TestTopology_Convention(t *testing.T) {
	topo := DefaultTopology()

	ap, ok := topo.Lookup("ap3")
	require.True(t, ok)
	assert.Equal(t, uint64(3), ap.DPID)
	assert.Equal(t, uint32(4), ap.Port)
	assert.Equal(t, uint32(1), ap.UplinkPort)

	first, ok := topo.Lookup("ap1")
	require.True(t, ok)
	assert.NotEqual(t, first.UplinkPort, first.Port, "ap1 must not output on its own uplink")

	id, ok := topo.APFor(model.DPID(4))
	require.True(t, ok)
	assert.Equal(t, model.APID("ap4"), id)

	_, ok = topo.Lookup("gateway")
	assert.False(t, ok)
	_, ok = topo.Lookup("ap0")
	assert.False(t, ok)
}

func TestTopology_ConventionRejectsNumbersBeyondPortRange(t *testing.T) {
	topo := DefaultTopology()

	last, ok := topo.Lookup("ap4294967294")
	require.True(t, ok)
	assert.Equal(t, uint32(4294967295), last.Port)

	for _, ap := range []model.APID{"ap4294967295", "ap4294967297"} {
		_, ok := topo.Lookup(ap)
		assert.False(t, ok, string(ap))
	}
	_, ok = topo.APFor(model.DPID(4294967297))
	assert.False(t, ok)
}

func TestParseTopology(t *testing.T) {
	doc := []byte(`
naming_convention: false
access_points:
  - id: north
    dpid: 10
    port: 2
  - id: south
    dpid: 11
    port: 3
    uplink_port: 4
`)
	topo, err := ParseTopology(doc)
	require.NoError(t, err)

	north, ok := topo.Lookup("north")
	require.True(t, ok)
	assert.Equal(t, uint32(1), north.UplinkPort)

	sw, ok := topo.SwitchFor("south")
	require.True(t, ok)
	assert.Equal(t, model.DPID(11), sw)

	_, ok = topo.Lookup("ap1")
	assert.False(t, ok, "convention disabled")

	assert.Equal(t, []model.APID{"north", "south"}, topo.KnownAPs())
}

func TestParseTopology_ExplicitEntryShadowsConvention(t *testing.T) {
	topo, err := ParseTopology([]byte(`
access_points:
  - id: edge
    dpid: 2
    port: 7
`))
	require.NoError(t, err)

	// datapath 2 is bound to "edge", so "ap2" no longer resolves by convention
	_, ok := topo.Lookup("ap2")
	assert.False(t, ok)

	id, ok := topo.APFor(2)
	require.True(t, ok)
	assert.Equal(t, model.APID("edge"), id)
}

func TestParseTopology_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing id", "access_points:\n  - dpid: 1\n    port: 2\n"},
		{"missing port", "access_points:\n  - id: ap1\n    dpid: 1\n"},
		{"duplicate ap", "access_points:\n  - {id: ap1, dpid: 1, port: 2}\n  - {id: ap1, dpid: 2, port: 3}\n"},
		{"duplicate dpid", "access_points:\n  - {id: a, dpid: 1, port: 2}\n  - {id: b, dpid: 1, port: 3}\n"},
		{"port equals default uplink", "access_points:\n  - {id: ap1, dpid: 1, port: 1}\n"},
		{"port equals explicit uplink", "access_points:\n  - {id: ap1, dpid: 1, port: 3, uplink_port: 3}\n"},
		{"not yaml", "access_points: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTopology([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}
