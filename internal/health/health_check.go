package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/model"
)

// Check result states. Any critical check makes the node not ready.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Pinger is an external dependency that can be probed
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sources exposes the live counters the checker inspects
type Sources struct {
	ConnectedSwitches func() int
	TrackedAPs        func() int
	TrackedVehicles   func() int
	LastPrediction    func() (time.Time, bool)
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	NodeID        string
	LogDir        string
	Interval      time.Duration
	StaleAfter    time.Duration
	Dependencies  map[string]Pinger
	PingTimeout   time.Duration
	RequireSwitch bool
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"-"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus is the JSON body of the probe endpoints
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// HealthChecker periodically evaluates controller health
type HealthChecker struct {
	cfg     *HealthCheckConfig
	sources Sources
	logger  *zap.Logger
	now     func() time.Time
	disk    func(dir string) (int64, int64, error)

	mu          sync.RWMutex
	lastCheck   time.Time
	status      model.NodeStatus
	checks      map[string]CheckResult
	readinessOK bool
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(cfg *HealthCheckConfig, sources Sources, logger *zap.Logger) *HealthChecker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 2 * time.Second
	}
	return &HealthChecker{
		cfg:         cfg,
		sources:     sources,
		logger:      logger,
		now:         time.Now,
		disk:        DiskStats,
		checks:      make(map[string]CheckResult),
		status:      model.NodeStatusHealthy,
		readinessOK: true,
	}
}

// Start runs the checks every interval until ctx is done
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			h.RunChecks(ctx)
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks evaluates every check once and updates the node status
func (h *HealthChecker) RunChecks(ctx context.Context) {
	results := []CheckResult{
		h.checkSwitches(),
		h.checkPredictions(),
	}
	if h.cfg.LogDir != "" {
		results = append(results, h.checkLogDirWritable(), h.checkDiskSpace())
	}

	names := make([]string, 0, len(h.cfg.Dependencies))
	for name := range h.cfg.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		results = append(results, h.checkDependency(ctx, name, h.cfg.Dependencies[name]))
	}

	allHealthy := true
	allReady := true
	checks := make(map[string]CheckResult, len(results))
	for _, result := range results {
		checks[result.Name] = result
		if result.Status != StatusHealthy {
			allHealthy = false
			if result.Status == StatusCritical {
				allReady = false
			}
		}
	}

	status := model.NodeStatusHealthy
	switch {
	case !allReady:
		status = model.NodeStatusUnhealthy
	case !allHealthy:
		status = model.NodeStatusDegraded
	}

	h.mu.Lock()
	h.lastCheck = h.now()
	h.checks = checks
	h.status = status
	h.readinessOK = allReady
	h.mu.Unlock()

	h.logger.Debug("Health check completed",
		zap.String("status", string(status)),
		zap.Bool("readiness", allReady))
}

func (h *HealthChecker) result(name, status, message string) CheckResult {
	return CheckResult{Name: name, Status: status, Message: message, Timestamp: h.now()}
}

func (h *HealthChecker) checkSwitches() CheckResult {
	n := 0
	if h.sources.ConnectedSwitches != nil {
		n = h.sources.ConnectedSwitches()
	}
	if n == 0 {
		status := StatusWarning
		if h.cfg.RequireSwitch {
			status = StatusCritical
		}
		return h.result("switches", status, "No switches connected")
	}
	return h.result("switches", StatusHealthy, fmt.Sprintf("%d switches connected", n))
}

func (h *HealthChecker) checkPredictions() CheckResult {
	if h.sources.LastPrediction == nil {
		return h.result("predictions", StatusWarning, "No prediction source")
	}
	at, ok := h.sources.LastPrediction()
	if !ok {
		return h.result("predictions", StatusWarning, "No prediction received yet")
	}
	age := h.now().Sub(at)
	if h.cfg.StaleAfter > 0 && age > h.cfg.StaleAfter {
		return h.result("predictions", StatusWarning, fmt.Sprintf("Last prediction %s ago", age.Round(time.Second)))
	}
	return h.result("predictions", StatusHealthy, fmt.Sprintf("Last prediction %s ago", age.Round(time.Millisecond)))
}

func (h *HealthChecker) checkLogDirWritable() CheckResult {
	info, err := os.Stat(h.cfg.LogDir)
	if err != nil {
		return h.result("log_dir", StatusCritical, fmt.Sprintf("Log directory not accessible: %v", err))
	}
	if !info.IsDir() {
		return h.result("log_dir", StatusCritical, "Log path is not a directory")
	}

	testFile := filepath.Join(h.cfg.LogDir, fmt.Sprintf(".health_check_%d", time.Now().UnixNano()))
	f, err := os.Create(testFile)
	if err != nil {
		return h.result("log_dir", StatusCritical, fmt.Sprintf("Cannot write to log directory: %v", err))
	}
	f.Close()
	os.Remove(testFile)

	return h.result("log_dir", StatusHealthy, "Log directory is writable")
}

func (h *HealthChecker) checkDiskSpace() CheckResult {
	used, available, err := h.disk(h.cfg.LogDir)
	if err != nil {
		return h.result("disk_space", StatusCritical, err.Error())
	}
	total := used + available
	if total <= 0 {
		return h.result("disk_space", StatusHealthy, "Disk size unknown")
	}

	usagePercent := float64(used) / float64(total) * 100
	switch {
	case usagePercent > 95:
		return h.result("disk_space", StatusCritical, fmt.Sprintf("Disk usage critical: %.2f%%", usagePercent))
	case usagePercent > 90:
		return h.result("disk_space", StatusWarning, fmt.Sprintf("Disk usage high: %.2f%%", usagePercent))
	}
	return h.result("disk_space", StatusHealthy,
		fmt.Sprintf("Disk usage: %.2f%%, available: %.2f GB", usagePercent, float64(available)/1024/1024/1024))
}

func (h *HealthChecker) checkDependency(ctx context.Context, name string, p Pinger) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.PingTimeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		h.logger.Error("Dependency health check failed", zap.String("dependency", name), zap.Error(err))
		return h.result(name, StatusCritical, "unhealthy: "+err.Error())
	}
	return h.result(name, StatusHealthy, "reachable")
}

// DiskStats returns used and available bytes on the filesystem holding dir
func DiskStats(dir string) (used int64, available int64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, 0, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	available = int64(stat.Bavail) * int64(stat.Bsize)
	total := int64(stat.Blocks) * int64(stat.Bsize)
	used = total - int64(stat.Bfree)*int64(stat.Bsize)
	return used, available, nil
}

// IsReady returns whether the node can serve traffic
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// SetReadiness overrides readiness, e.g. during graceful shutdown
func (h *HealthChecker) SetReadiness(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessOK = ready
}

// GetStatus returns the node status and the counters behind it
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	status := h.status
	lastCheck := h.lastCheck
	h.mu.RUnlock()

	return model.HealthStatus{
		NodeID:    h.cfg.NodeID,
		Status:    status,
		Timestamp: lastCheck.Unix(),
		Metrics:   h.Metrics(),
	}
}

// Metrics samples the controller counters
func (h *HealthChecker) Metrics() model.HealthMetrics {
	var m model.HealthMetrics
	if h.sources.ConnectedSwitches != nil {
		m.ConnectedSwitches = h.sources.ConnectedSwitches()
	}
	if h.sources.TrackedAPs != nil {
		m.TrackedAPs = h.sources.TrackedAPs()
	}
	if h.sources.TrackedVehicles != nil {
		m.TrackedVehicles = h.sources.TrackedVehicles()
	}
	m.LastPredictionAge = -1
	if h.sources.LastPrediction != nil {
		if at, ok := h.sources.LastPrediction(); ok {
			m.LastPredictionAge = h.now().Sub(at).Seconds()
		}
	}
	return m
}

// GetChecks returns a copy of the latest check results
func (h *HealthChecker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, HealthStatus{
		Status:    "alive",
		Timestamp: h.now().Unix(),
	})
}

// ReadinessHandler handles readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Timestamp: h.now().Unix(),
		Checks:    h.GetChecks(),
	}

	code := http.StatusOK
	if h.IsReady() {
		status.Status = "ready"
	} else {
		status.Status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	writeStatus(w, code, status)
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
