package model

// HealthStatus represents the health state of a controller node
type HealthStatus struct {
	NodeID    string
	Status    NodeStatus
	Timestamp int64
	Metrics   HealthMetrics
}

// NodeStatus defines the operational status of a node
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusDegraded  NodeStatus = "degraded"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
)

// HealthMetrics contains controller-level health indicators
type HealthMetrics struct {
	ConnectedSwitches int
	TrackedAPs        int
	TrackedVehicles   int
	LastPredictionAge float64
}
