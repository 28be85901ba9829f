package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/example/session-roster/internal/application"
	"github.com/example/session-roster/internal/persistence"
)

type attendanceService interface {
	ConfirmPresence(ctx context.Context, sessionID, personID string) error
	SendReminders(ctx context.Context, sessionID string, kind persistence.ReminderKind) (int, error)
	AutoLeaveUnconfirmed(ctx context.Context, sessionID string) ([]application.Result, error)
}

// AttendanceHandler serves presence confirmation and reminder endpoints.
type AttendanceHandler struct {
	service   attendanceService
	responder responder
	logger    *slog.Logger
}

func NewAttendanceHandler(service attendanceService, logger *slog.Logger) *AttendanceHandler {
	base := orDefaultLogger(logger)
	return &AttendanceHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *AttendanceHandler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return "", false
	}
	id, ok := SessionIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSessionID)
		return "", false
	}
	return id, true
}

func (h *AttendanceHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := decodeRequest(r, dst)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errBadRequestBody):
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
	default:
		h.responder.handleServiceError(r.Context(), w, err)
	}
	return false
}

func (h *AttendanceHandler) ConfirmPresence(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req personRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.ConfirmPresence(r.Context(), sessionID, req.PersonID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *AttendanceHandler) SendReminders(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req reminderRequest
	if !h.decode(w, r, &req) {
		return
	}

	sent, err := h.service.SendReminders(r.Context(), sessionID, persistence.ReminderKind(req.Kind))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, reminderResponse{Sent: sent})
}

func (h *AttendanceHandler) AutoLeave(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	results, err := h.service.AutoLeaveUnconfirmed(r.Context(), sessionID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := autoLeaveResponse{Results: make([]resultDTO, 0, len(results))}
	for _, result := range results {
		resp.Results = append(resp.Results, toResultDTO(result))
	}
	handlerLogger(r.Context(), h.logger, "AttendanceHandler", "AutoLeave", "session_id", sessionID).
		InfoContext(r.Context(), "unconfirmed participants removed", "count", len(results))
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

type reminderRequest struct {
	Kind string `json:"kind" validate:"required,oneof=first second"`
}

type reminderResponse struct {
	Sent int `json:"sent"`
}

type autoLeaveResponse struct {
	Results []resultDTO `json:"results"`
}
