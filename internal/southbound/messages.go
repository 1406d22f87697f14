package southbound

import "github.com/vanetlab/apsteer/internal/model"

// Switch to controller message types
const (
	TypeHello      = "hello"
	TypeStatsReply = "stats_reply"
	TypePacketIn   = "packet_in"
)

// Controller to switch message types
const (
	TypeFlowMod      = "flow_mod"
	TypeStatsRequest = "stats_request"
	TypePacketOut    = "packet_out"
)

// Flow-mod commands
const (
	FlowAdd          = "add"
	FlowDelete       = "delete"
	FlowDeleteStrict = "delete_strict"
)

// SwitchMessage is sent by a switch. The first message on a stream must be
// a hello.
type SwitchMessage struct {
	Type       string          `json:"type"`
	XID        uint32          `json:"xid,omitempty"`
	Hello      *Hello          `json:"hello,omitempty"`
	StatsReply *StatsReply     `json:"stats_reply,omitempty"`
	PacketIn   *model.PacketIn `json:"packet_in,omitempty"`
}

// Hello announces the datapath id and ports of a switch
type Hello struct {
	DPID        model.DPID `json:"dpid"`
	Ports       []uint32   `json:"ports,omitempty"`
	Description string     `json:"description,omitempty"`
}

// StatsReply carries per-port counters
type StatsReply struct {
	Ports []model.PortStats `json:"ports"`
}

// ControllerMessage is sent by the controller to a switch
type ControllerMessage struct {
	Type         string           `json:"type"`
	XID          uint32           `json:"xid"`
	FlowMod      *FlowMod         `json:"flow_mod,omitempty"`
	StatsRequest *StatsRequest    `json:"stats_request,omitempty"`
	PacketOut    *model.PacketOut `json:"packet_out,omitempty"`
}

// FlowMod adds or deletes rules. Rule is set for add, Selector for deletes.
type FlowMod struct {
	Command  string              `json:"command"`
	Rule     *model.FlowRule     `json:"rule,omitempty"`
	Selector *model.RuleSelector `json:"selector,omitempty"`
}

// StatsRequest asks for port counters. PortNo PortAny requests all ports.
type StatsRequest struct {
	PortNo uint32 `json:"port_no"`
}
