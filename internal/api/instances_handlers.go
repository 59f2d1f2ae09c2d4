package api

import (
	"net/http"

	"github.com/jbweber/homelab/perch/internal/domain"
)

// Instances groups the self-service instance handlers.
type Instances struct {
	svc Service
}

func NewInstances(svc Service) *Instances {
	return &Instances{svc: svc}
}

// instanceViewResponse is the combined instance + entitlement view the
// portal dashboard renders from.
type instanceViewResponse struct {
	Instance InstanceResponse `json:"instance"`
	Quota    int              `json:"quota"`
	Type     string           `json:"configuredType"`
}

// GetInstanceHandler handles GET /api/v0/instance.
//
// Returns the caller's instance reconciled against the provider, together
// with their entitlement. 404 when the user holds no instance.
func (h *Instances) GetInstanceHandler(w http.ResponseWriter, r *http.Request) {
	instance, config, err := h.svc.GetInstance(r.Context(), requestUserID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instanceViewResponse{
		Instance: toInstanceResponse(instance),
		Quota:    config.Quota,
		Type:     config.Type,
	})
}

// StartHandler handles POST /api/v0/instance/start.
func (h *Instances) StartHandler(w http.ResponseWriter, r *http.Request) {
	instance, err := h.svc.Start(r.Context(), requestUserID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstanceResponse(instance))
}

// StopHandler handles POST /api/v0/instance/stop.
func (h *Instances) StopHandler(w http.ResponseWriter, r *http.Request) {
	instance, err := h.svc.Stop(r.Context(), requestUserID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstanceResponse(instance))
}

// GetKeyHandler handles GET /api/v0/instance/key. The response carries the
// private key material, so the route is only reachable by the owner.
func (h *Instances) GetKeyHandler(w http.ResponseWriter, r *http.Request) {
	key, err := h.svc.GetKey(r.Context(), requestUserID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResponse(key))
}

type keyResponse struct {
	KeyPairName string `json:"keyPairName"`
	PrivateKey  string `json:"privateKey"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

func toKeyResponse(key domain.InstanceKey) keyResponse {
	return keyResponse{
		KeyPairName: key.KeyPairName,
		PrivateKey:  key.PrivateKey,
		Fingerprint: key.Fingerprint,
	}
}

// GetCostHandler handles GET /api/v0/instance/cost: the current month's
// estimate with the per-day breakdown.
func (h *Instances) GetCostHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.GetCost(r.Context(), requestUserID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
