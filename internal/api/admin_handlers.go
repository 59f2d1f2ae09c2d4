package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jbweber/homelab/perch/internal/domain"
)

// Admin groups the administrator handlers. All of them operate on a
// target user taken from the URL, not the caller's own identity.
type Admin struct {
	svc Service
}

func NewAdmin(svc Service) *Admin {
	return &Admin{svc: svc}
}

// ProvisionHandler handles POST /api/v0/admin/users/{userID}/instance.
//
// Returns 403 when the target has no quota, 409 when they already hold an
// instance, 500 with a generic message on infrastructure failures.
func (h *Admin) ProvisionHandler(w http.ResponseWriter, r *http.Request) {
	instance, err := h.svc.Provision(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInstanceResponse(instance))
}

// StartHandler handles POST /api/v0/admin/users/{userID}/instance/start.
func (h *Admin) StartHandler(w http.ResponseWriter, r *http.Request) {
	instance, err := h.svc.AdminStart(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstanceResponse(instance))
}

// StopHandler handles POST /api/v0/admin/users/{userID}/instance/stop.
func (h *Admin) StopHandler(w http.ResponseWriter, r *http.Request) {
	instance, err := h.svc.AdminStop(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstanceResponse(instance))
}

// ReclaimHandler handles DELETE /api/v0/admin/users/{userID}/instance.
func (h *Admin) ReclaimHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reclaim(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetConfigHandler handles PUT /api/v0/admin/users/{userID}/config.
//
// Request: JSON body with fields "quota" (0 or 1) and "type". The type is
// immutable while the target holds an instance.
func (h *Admin) SetConfigHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quota int    `json:"quota"`
		Type  string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Quota < 0 || req.Quota > 1 {
		writeError(w, http.StatusBadRequest, "Quota must be 0 or 1")
		return
	}

	config, err := h.svc.SetConfig(r.Context(), domain.InstanceConfig{
		UserID: chi.URLParam(r, "userID"),
		Quota:  req.Quota,
		Type:   req.Type,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configResponse{
		UserID: config.UserID,
		Quota:  config.Quota,
		Type:   config.Type,
	})
}

type configResponse struct {
	UserID string `json:"userId"`
	Quota  int    `json:"quota"`
	Type   string `json:"type"`
}

// AggregateCostsHandler handles GET /api/v0/admin/costs.
func (h *Admin) AggregateCostsHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.GetAggregateCosts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
