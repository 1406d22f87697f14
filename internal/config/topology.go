package config

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vanetlab/apsteer/internal/model"
)

// AccessPoint binds an access point to the switch that serves it
type AccessPoint struct {
	ID         model.APID `yaml:"id"`
	DPID       uint64     `yaml:"dpid"`
	Port       uint32     `yaml:"port"`
	UplinkPort uint32     `yaml:"uplink_port"`
}

// conventionUplinkPort is the uplink of every AP resolved by convention.
// Conventional AP ports start above it so a reroute never hairpins.
const conventionUplinkPort uint32 = 1

// maxConventionalNumber keeps the conventional port N+1 within uint32
const maxConventionalNumber = math.MaxUint32 - 1

// Topology is the static AP <-> switch layout. When NamingConvention is set,
// APs missing from the file map to datapath N, port N+1, uplink port 1.
type Topology struct {
	NamingConvention bool          `yaml:"naming_convention"`
	AccessPoints     []AccessPoint `yaml:"access_points"`

	byAP   map[model.APID]AccessPoint
	bySwID map[model.DPID]AccessPoint
}

// DefaultTopology relies on the apN <-> datapath N convention only
func DefaultTopology() *Topology {
	t := &Topology{NamingConvention: true}
	t.index()
	return t
}

// LoadTopology reads a static topology file. An empty path yields the
// convention-only topology.
func LoadTopology(path string) (*Topology, error) {
	if path == "" {
		return DefaultTopology(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	return ParseTopology(data)
}

// ParseTopology decodes and validates a YAML topology document
func ParseTopology(data []byte) (*Topology, error) {
	t := &Topology{NamingConvention: true}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}
	for i := range t.AccessPoints {
		if t.AccessPoints[i].UplinkPort == 0 {
			t.AccessPoints[i].UplinkPort = conventionUplinkPort
		}
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}
	t.index()
	return t, nil
}

// Validate checks for missing fields and duplicate bindings
func (t *Topology) Validate() error {
	seenAP := make(map[model.APID]bool)
	seenSw := make(map[uint64]bool)
	for i, ap := range t.AccessPoints {
		if ap.ID == "" {
			return fmt.Errorf("access_points[%d].id is required", i)
		}
		if ap.DPID == 0 {
			return fmt.Errorf("access_points[%d].dpid is required", i)
		}
		if ap.Port == 0 {
			return fmt.Errorf("access_points[%d].port is required", i)
		}
		if ap.Port == ap.UplinkPort {
			return fmt.Errorf("access_points[%d].port must differ from uplink_port %d", i, ap.UplinkPort)
		}
		if seenAP[ap.ID] {
			return fmt.Errorf("duplicate access point %s", ap.ID)
		}
		if seenSw[ap.DPID] {
			return fmt.Errorf("datapath %d bound to more than one access point", ap.DPID)
		}
		seenAP[ap.ID] = true
		seenSw[ap.DPID] = true
	}
	return nil
}

func (t *Topology) index() {
	t.byAP = make(map[model.APID]AccessPoint, len(t.AccessPoints))
	t.bySwID = make(map[model.DPID]AccessPoint, len(t.AccessPoints))
	for _, ap := range t.AccessPoints {
		t.byAP[ap.ID] = ap
		t.bySwID[model.DPID(ap.DPID)] = ap
	}
}

// Lookup returns the binding for an access point
func (t *Topology) Lookup(ap model.APID) (AccessPoint, bool) {
	if entry, ok := t.byAP[ap]; ok {
		return entry, true
	}
	if !t.NamingConvention {
		return AccessPoint{}, false
	}
	n, ok := conventionalNumber(ap)
	if !ok {
		return AccessPoint{}, false
	}
	if _, taken := t.bySwID[model.DPID(n)]; taken {
		return AccessPoint{}, false
	}
	return AccessPoint{ID: ap, DPID: n, Port: uint32(n) + 1, UplinkPort: conventionUplinkPort}, true
}

// SwitchFor returns the datapath serving an access point
func (t *Topology) SwitchFor(ap model.APID) (model.DPID, bool) {
	entry, ok := t.Lookup(ap)
	if !ok {
		return 0, false
	}
	return model.DPID(entry.DPID), true
}

// APFor returns the access point served by a datapath
func (t *Topology) APFor(id model.DPID) (model.APID, bool) {
	if entry, ok := t.bySwID[id]; ok {
		return entry.ID, true
	}
	if !t.NamingConvention || id == 0 || uint64(id) > maxConventionalNumber {
		return "", false
	}
	ap := model.APIDFromNumber(uint64(id))
	if _, taken := t.byAP[ap]; taken {
		return "", false
	}
	return ap, true
}

// KnownAPs lists explicitly configured access points in id order
func (t *Topology) KnownAPs() []model.APID {
	ids := make([]model.APID, 0, len(t.byAP))
	for id := range t.byAP {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func conventionalNumber(ap model.APID) (uint64, bool) {
	s := string(ap)
	if !strings.HasPrefix(s, "ap") {
		return 0, false
	}
	n, err := strconv.ParseUint(s[2:], 10, 64)
	if err != nil || n == 0 || n > maxConventionalNumber {
		return 0, false
	}
	return n, true
}
