package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/jbweber/homelab/perch/internal/domain"
	"github.com/jbweber/homelab/perch/internal/lifecycle"
)

// ErrorResponse is the JSON body for all error statuses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// InstanceResponse is the wire shape of an instance.
type InstanceResponse struct {
	ID         int64      `json:"id"`
	UserID     string     `json:"userId"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	PublicIP   string     `json:"publicIp,omitempty"`
	PrivateIP  string     `json:"privateIp,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LaunchedAt *time.Time `json:"launchedAt,omitempty"`
	StoppedAt  *time.Time `json:"stoppedAt,omitempty"`
	AutoStop   bool       `json:"autoStop"`
}

func toInstanceResponse(instance domain.Instance) InstanceResponse {
	return InstanceResponse{
		ID:         instance.ID,
		UserID:     instance.UserID,
		Type:       instance.Type,
		Status:     string(instance.Status),
		PublicIP:   instance.PublicIP,
		PrivateIP:  instance.PrivateIP,
		CreatedAt:  instance.CreatedAt,
		LaunchedAt: instance.LaunchedAt,
		StoppedAt:  instance.StoppedAt,
		AutoStop:   instance.AlarmName != "",
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps lifecycle errors onto status codes. Entitlement
// and state conflicts get specific messages; anything else is an
// infrastructure failure reported generically and logged server-side.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrInstanceNotFound),
		errors.Is(err, lifecycle.ErrSourceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrNoQuota):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, lifecycle.ErrInstanceExists),
		errors.Is(err, lifecycle.ErrInvalidState),
		errors.Is(err, lifecycle.ErrTypeImmutable),
		errors.Is(err, lifecycle.ErrDuplicateSource),
		errors.Is(err, lifecycle.ErrSourceLimit):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, lifecycle.ErrInvalidAddress),
		errors.Is(err, lifecycle.ErrUnknownType):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
