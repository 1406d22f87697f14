package model

import "time"

// PortStats are the counters a switch reports for one port
type PortStats struct {
	PortNo    uint32 `json:"port_no"`
	RxPackets uint64 `json:"rx_packets"`
	TxPackets uint64 `json:"tx_packets"`
	RxBytes   uint64 `json:"rx_bytes"`
	TxBytes   uint64 `json:"tx_bytes"`
	RxDropped uint64 `json:"rx_dropped"`
	TxDropped uint64 `json:"tx_dropped"`
}

// PortObservation is one row of the observation log
type PortObservation struct {
	Timestamp       time.Time
	SwitchID        DPID
	Stats           PortStats
	CongestionScore float64
}
