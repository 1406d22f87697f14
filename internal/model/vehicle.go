package model

import "time"

// VehicleTelemetry is the latest mobility record of one vehicle
type VehicleTelemetry struct {
	VehicleID   string    `json:"vehicle_id"`
	APID        APID      `json:"ap_id"`
	Speed       float64   `json:"speed"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Lane        string    `json:"lane,omitempty"`
	PredictedAP APID      `json:"predicted_ap,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// TelemetryMessage is the wire shape of the vehicle telemetry socket
type TelemetryMessage struct {
	VehicleID string   `json:"vehicle_id"`
	APID      APID     `json:"ap_id"`
	Speed     *float64 `json:"speed"`
	X         *float64 `json:"x"`
	Y         *float64 `json:"y"`
	Lane      string   `json:"lane"`
}
