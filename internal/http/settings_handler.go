package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/example/session-roster/internal/application"
)

type settingsService interface {
	Effective(ctx context.Context) (application.Policy, error)
	Update(ctx context.Context, update application.SettingsUpdate) (application.Policy, error)
}

// SettingsHandler reads and changes the runtime roster policy.
type SettingsHandler struct {
	service   settingsService
	responder responder
	logger    *slog.Logger
}

func NewSettingsHandler(service settingsService, logger *slog.Logger) *SettingsHandler {
	base := orDefaultLogger(logger)
	return &SettingsHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	policy, err := h.service.Effective(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toPolicyDTO(policy))
}

func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req settingsRequest
	if err := decodeRequest(r, &req); err != nil {
		if errors.Is(err, errBadRequestBody) {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
			return
		}
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	policy, err := h.service.Update(r.Context(), application.SettingsUpdate{
		GroupRegistrationEnabled: req.GroupRegistrationEnabled,
		MaxGroupSize:             req.MaxGroupSize,
		DefaultCapacity:          req.DefaultCapacity,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toPolicyDTO(policy))
}

// Range checks are left to the service so both surfaces report the same field errors.
type settingsRequest struct {
	GroupRegistrationEnabled *bool `json:"group_registration_enabled,omitempty"`
	MaxGroupSize             *int  `json:"max_group_size,omitempty"`
	DefaultCapacity          *int  `json:"default_capacity,omitempty"`
}

type policyDTO struct {
	GroupRegistrationEnabled bool `json:"group_registration_enabled"`
	MaxGroupSize             int  `json:"max_group_size"`
	DefaultCapacity          int  `json:"default_capacity"`
}

func toPolicyDTO(p application.Policy) policyDTO {
	return policyDTO{
		GroupRegistrationEnabled: p.GroupRegistrationEnabled,
		MaxGroupSize:             p.MaxGroupSize,
		DefaultCapacity:          p.DefaultCapacity,
	}
}
