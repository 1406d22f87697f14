// Package handler provides the admin HTTP handlers.
package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/model"
	"github.com/vanetlab/apsteer/internal/registry"
	"github.com/vanetlab/apsteer/internal/service"
	"github.com/vanetlab/apsteer/internal/store"
)

// Error codes returned in ErrorResponse.
const (
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInvalidAPID   = "INVALID_AP_ID"
	ErrorCodeInternalError = "INTERNAL_ERROR"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// DecisionSource exposes the most recent batch decision
type DecisionSource interface {
	LastDecision() (service.Decision, bool)
}

// Cluster exposes gossip membership
type Cluster interface {
	Members() []string
	HealthStatus() model.HealthStatus
}

// CongestionEntry is one AP in the congestion listing
type CongestionEntry struct {
	Record  model.CongestionRecord `json:"record"`
	Score   float64                `json:"score"`
	Reroute bool                   `json:"reroute"`
	Rank    int                    `json:"rank"`
}

// Handlers contains all admin handlers and their dependencies.
type Handlers struct {
	registry   *registry.SwitchRegistry
	congestion *store.CongestionStore
	vehicles   *store.VehicleStore
	decision   *service.DecisionService
	decisions  DecisionSource
	cluster    Cluster
	logger     *zap.Logger
}

// NewHandlers creates a new Handlers instance. cluster may be nil.
func NewHandlers(
	reg *registry.SwitchRegistry,
	congestion *store.CongestionStore,
	vehicles *store.VehicleStore,
	decision *service.DecisionService,
	decisions DecisionSource,
	cluster Cluster,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		registry:   reg,
		congestion: congestion,
		vehicles:   vehicles,
		decision:   decision,
		decisions:  decisions,
		cluster:    cluster,
		logger:     logger,
	}
}

// ListSwitches handles GET /api/v1/switches
func (h *Handlers) ListSwitches(w http.ResponseWriter, r *http.Request) {
	switches := h.registry.List()
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"count":    len(switches),
		"switches": switches,
	})
}

// ListCongestion handles GET /api/v1/congestion. APs are ranked from least
// to most congested.
func (h *Handlers) ListCongestion(w http.ResponseWriter, r *http.Request) {
	snap := h.congestion.Snapshot()
	ranked := h.decision.Rank(snap)

	entries := make([]CongestionEntry, 0, len(ranked))
	for i, ap := range ranked {
		entries = append(entries, CongestionEntry{
			Record:  snap[ap.APID],
			Score:   ap.Score,
			Reroute: ap.Reroute,
			Rank:    i + 1,
		})
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"count":         len(entries),
		"threshold":     h.decision.Scorer().Threshold(),
		"last_update":   h.congestion.LastUpdate(),
		"access_points": entries,
	})
}

// GetCongestion handles GET /api/v1/congestion/{ap_id}
func (h *Handlers) GetCongestion(w http.ResponseWriter, r *http.Request) {
	ap := model.APID(mux.Vars(r)["ap_id"])
	if ap == "" {
		h.writeError(w, r, http.StatusBadRequest, ErrorCodeInvalidAPID, "ap_id is required")
		return
	}

	rec, ok := h.congestion.Get(ap)
	if !ok {
		h.writeError(w, r, http.StatusNotFound, ErrorCodeNotFound, "no congestion record for "+string(ap))
		return
	}
	scorer := h.decision.Scorer()
	h.writeJSONResponse(w, http.StatusOK, CongestionEntry{
		Record:  rec,
		Score:   scorer.Score(rec),
		Reroute: scorer.NeedsReroute(rec),
	})
}

// ListVehicles handles GET /api/v1/vehicles. ?ap_id filters by AP.
func (h *Handlers) ListVehicles(w http.ResponseWriter, r *http.Request) {
	filter := model.APID(r.URL.Query().Get("ap_id"))

	vehicles := h.vehicles.List()
	if filter != "" {
		filtered := vehicles[:0]
		for _, v := range vehicles {
			if v.APID == filter {
				filtered = append(filtered, v)
			}
		}
		vehicles = filtered
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"count":    len(vehicles),
		"by_ap":    h.vehicles.CountByAP(),
		"vehicles": vehicles,
	})
}

// GetVehicle handles GET /api/v1/vehicles/{vehicle_id}
func (h *Handlers) GetVehicle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["vehicle_id"]

	v, err := h.vehicles.Get(id)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			h.writeError(w, r, http.StatusNotFound, ErrorCodeNotFound, "unknown vehicle "+id)
			return
		}
		h.writeError(w, r, http.StatusInternalServerError, ErrorCodeInternalError, err.Error())
		return
	}
	h.writeJSONResponse(w, http.StatusOK, v)
}

// GetDecision handles GET /api/v1/decision
func (h *Handlers) GetDecision(w http.ResponseWriter, r *http.Request) {
	d, ok := h.decisions.LastDecision()
	if !ok {
		h.writeError(w, r, http.StatusNotFound, ErrorCodeNotFound, "no batch prediction received yet")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, d)
}

// PreviewDecision handles GET /api/v1/decision/preview. It evaluates the
// current store without sending any rule.
func (h *Handlers) PreviewDecision(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.decision.Decide(h.congestion.Snapshot(), nil))
}

// GetCluster handles GET /api/v1/cluster
func (h *Handlers) GetCluster(w http.ResponseWriter, r *http.Request) {
	if h.cluster == nil {
		h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"enabled": false,
		})
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"enabled": true,
		"members": h.cluster.Members(),
		"health":  h.cluster.HealthStatus(),
	})
}

// NotFound is the router fallback
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, ErrorCodeNotFound, "endpoint not found")
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	h.writeJSONResponse(w, statusCode, ErrorResponse{
		Status:    "error",
		ErrorCode: code,
		Message:   message,
		RequestID: r.Header.Get("X-Request-ID"),
	})
}

// writeJSONResponse writes a JSON response to the HTTP response writer.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
