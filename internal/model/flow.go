package model

// Reserved port numbers (OpenFlow 1.3 values).
const (
	PortFlood      uint32 = 0xfffffffb
	PortController uint32 = 0xfffffffd
	PortAny        uint32 = 0xffffffff

	// NoBuffer marks a packet-in/out that carries the full frame.
	NoBuffer uint32 = 0xffffffff
)

// Match is the subset of OpenFlow match fields the controller uses.
// Zero values are wildcards.
type Match struct {
	InPort uint32 `json:"in_port,omitempty"`
	EthSrc string `json:"eth_src,omitempty"`
	EthDst string `json:"eth_dst,omitempty"`
}

// IsCatchAll reports whether the match wildcards every field
func (m Match) IsCatchAll() bool {
	return m == Match{}
}

// ActionType enumerates supported actions
type ActionType string

const (
	ActionOutput ActionType = "output"
)

// Action is a single forwarding action
type Action struct {
	Type ActionType `json:"type"`
	Port uint32     `json:"port"`
}

// Output builds an output action to the given port
func Output(port uint32) Action {
	return Action{Type: ActionOutput, Port: port}
}

// FlowRule is a forwarding instruction to install on a switch
type FlowRule struct {
	Cookie      uint64   `json:"cookie,omitempty"`
	Match       Match    `json:"match"`
	Actions     []Action `json:"actions"`
	Priority    uint16   `json:"priority"`
	IdleTimeout uint16   `json:"idle_timeout"`
	HardTimeout uint16   `json:"hard_timeout"`
}

// RuleSelector selects installed rules for deletion. With Strict set only
// rules whose match and priority are identical are removed; CookieMask
// further narrows the selection to rules carrying Cookie.
type RuleSelector struct {
	Match      Match  `json:"match"`
	Priority   uint16 `json:"priority"`
	Strict     bool   `json:"strict"`
	Cookie     uint64 `json:"cookie,omitempty"`
	CookieMask uint64 `json:"cookie_mask,omitempty"`
}

// PacketIn is a packet forwarded by a switch to the controller
type PacketIn struct {
	InPort   uint32 `json:"in_port"`
	BufferID uint32 `json:"buffer_id"`
	Reason   string `json:"reason,omitempty"`
	Data     []byte `json:"data"`
}

// PacketOut instructs a switch to emit a packet
type PacketOut struct {
	BufferID uint32   `json:"buffer_id"`
	InPort   uint32   `json:"in_port"`
	Actions  []Action `json:"actions"`
	Data     []byte   `json:"data,omitempty"`
}
