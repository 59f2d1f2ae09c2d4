package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jbweber/homelab/perch/internal/domain"
)

// Sources groups the allowed-source handlers.
type Sources struct {
	svc Service
}

func NewSources(svc Service) *Sources {
	return &Sources{svc: svc}
}

type sourceResponse struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
}

func toSourceResponse(source domain.AllowedSource) sourceResponse {
	return sourceResponse{
		ID:        source.ID,
		Address:   source.Address,
		CreatedAt: source.CreatedAt,
	}
}

// ListHandler handles GET /api/v0/sources.
func (h *Sources) ListHandler(w http.ResponseWriter, r *http.Request) {
	sources, err := h.svc.ListSources(r.Context(), requestUserID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]sourceResponse, 0, len(sources))
	for _, source := range sources {
		resp = append(resp, toSourceResponse(source))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddHandler handles POST /api/v0/sources.
//
// Request: JSON body with field "address", a plain IPv4 address.
// Returns 400 for malformed addresses, 409 for duplicates and the cap.
func (h *Sources) AddHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	source, err := h.svc.AddSource(r.Context(), requestUserID(r), req.Address)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSourceResponse(source))
}

// RemoveHandler handles DELETE /api/v0/sources/{id}.
func (h *Sources) RemoveHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveSource(r.Context(), requestUserID(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
