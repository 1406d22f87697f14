package model

import (
	"fmt"
	"time"
)

// DPID is the datapath identifier a switch announces in its hello.
type DPID uint64

// String renders the datapath id the way OpenFlow tooling prints it.
func (d DPID) String() string {
	return fmt.Sprintf("%016x", uint64(d))
}

// SwitchState is the lifecycle state of a switch connection
type SwitchState string

const (
	SwitchStateConnecting   SwitchState = "connecting"
	SwitchStateActive       SwitchState = "active"
	SwitchStateDisconnected SwitchState = "disconnected"
)

// Datapath is the control handle of a connected switch. Every method only
// enqueues a command; delivery happens asynchronously.
type Datapath interface {
	ID() DPID
	InstallRule(rule FlowRule) error
	DeleteRule(sel RuleSelector) error
	RequestStats() error
	PacketOut(out PacketOut) error
}

// SwitchInfo is a point-in-time view of a registered switch
type SwitchInfo struct {
	ID          DPID        `json:"id"`
	State       SwitchState `json:"state"`
	RemoteAddr  string      `json:"remote_addr,omitempty"`
	ConnectedAt time.Time   `json:"connected_at"`
}
