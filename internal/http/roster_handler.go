package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/session-roster/internal/application"
)

type rosterService interface {
	Join(ctx context.Context, params application.JoinParams) (application.Result, error)
	Leave(ctx context.Context, params application.LeaveParams) (application.Result, error)
	Reduce(ctx context.Context, params application.ReduceParams) (application.Result, error)
	SetCapacity(ctx context.Context, params application.SetCapacityParams) (application.Result, error)
	ListRoster(ctx context.Context, sessionID string) (application.RosterView, error)
}

// RosterHandler serves the roster operations of one session.
type RosterHandler struct {
	service   rosterService
	responder responder
	logger    *slog.Logger
}

func NewRosterHandler(service rosterService, logger *slog.Logger) *RosterHandler {
	base := orDefaultLogger(logger)
	return &RosterHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *RosterHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "RosterHandler", operation, attrs...)
}

func (h *RosterHandler) Join(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.prepare(w, r, "Join")
	if !ok {
		return
	}

	var req joinRequest
	if err := decodeRequest(r, &req); err != nil {
		h.rejectRequest(w, r, "Join", err)
		return
	}

	groupSize := 1
	if req.GroupSize != nil {
		groupSize = *req.GroupSize
	}
	result, err := h.service.Join(r.Context(), application.JoinParams{
		SessionID: sessionID,
		PersonID:  req.PersonID,
		GroupSize: groupSize,
	})
	h.writeResult(w, r, http.StatusCreated, result, err)
}

func (h *RosterHandler) Leave(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.prepare(w, r, "Leave")
	if !ok {
		return
	}

	var req personRequest
	if err := decodeRequest(r, &req); err != nil {
		h.rejectRequest(w, r, "Leave", err)
		return
	}

	result, err := h.service.Leave(r.Context(), application.LeaveParams{SessionID: sessionID, PersonID: req.PersonID})
	h.writeResult(w, r, http.StatusOK, result, err)
}

func (h *RosterHandler) Reduce(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.prepare(w, r, "Reduce")
	if !ok {
		return
	}

	var req reduceRequest
	if err := decodeRequest(r, &req); err != nil {
		h.rejectRequest(w, r, "Reduce", err)
		return
	}

	result, err := h.service.Reduce(r.Context(), application.ReduceParams{
		SessionID: sessionID,
		PersonID:  req.PersonID,
		Amount:    req.Amount,
	})
	h.writeResult(w, r, http.StatusOK, result, err)
}

func (h *RosterHandler) SetCapacity(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.prepare(w, r, "SetCapacity")
	if !ok {
		return
	}

	var req capacityRequest
	if err := decodeRequest(r, &req); err != nil {
		h.rejectRequest(w, r, "SetCapacity", err)
		return
	}

	result, err := h.service.SetCapacity(r.Context(), application.SetCapacityParams{
		SessionID: sessionID,
		Capacity:  *req.Capacity,
	})
	h.writeResult(w, r, http.StatusOK, result, err)
}

func (h *RosterHandler) Roster(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.prepare(w, r, "Roster")
	if !ok {
		return
	}

	view, err := h.service.ListRoster(r.Context(), sessionID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toRosterDTO(view))
}

func (h *RosterHandler) prepare(w http.ResponseWriter, r *http.Request, operation string) (string, bool) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return "", false
	}
	sessionID, ok := SessionIDFromContext(r.Context())
	if !ok {
		h.log(r.Context(), operation, "error_kind", "bad_request").ErrorContext(r.Context(), "missing session id")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSessionID)
		return "", false
	}
	return sessionID, true
}

func (h *RosterHandler) rejectRequest(w http.ResponseWriter, r *http.Request, operation string, err error) {
	if errors.Is(err, errBadRequestBody) {
		h.log(r.Context(), operation, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode roster request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	h.responder.handleServiceError(r.Context(), w, err)
}

func (h *RosterHandler) writeResult(w http.ResponseWriter, r *http.Request, status int, result application.Result, err error) {
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, status, toResultDTO(result))
}

type joinRequest struct {
	PersonID string `json:"person_id" validate:"required"`
	// GroupSize defaults to 1 when omitted.
	GroupSize *int `json:"group_size,omitempty"`
}

type personRequest struct {
	PersonID string `json:"person_id" validate:"required"`
}

type reduceRequest struct {
	PersonID string `json:"person_id" validate:"required"`
	Amount   int    `json:"amount"`
}

type capacityRequest struct {
	Capacity *int `json:"capacity" validate:"required"`
}

type sideEffectDTO struct {
	PersonID     string `json:"person_id"`
	ExternalID   int64  `json:"external_id,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	OldStatus    string `json:"old_status"`
	NewStatus    string `json:"new_status"`
	OldMainCount int    `json:"old_main_count"`
	NewMainCount int    `json:"new_main_count"`
}

type resultDTO struct {
	Success      bool            `json:"success"`
	Tier         string          `json:"tier"`
	SessionID    string          `json:"session_id"`
	PersonID     string          `json:"person_id,omitempty"`
	OldGroupSize int             `json:"old_group_size"`
	NewGroupSize int             `json:"new_group_size"`
	OldStatus    string          `json:"old_status,omitempty"`
	NewStatus    string          `json:"new_status,omitempty"`
	SideEffects  []sideEffectDTO `json:"side_effects"`
}

func toResultDTO(result application.Result) resultDTO {
	dto := resultDTO{
		Success:      result.Success,
		Tier:         string(result.Tier),
		SessionID:    result.SessionID,
		PersonID:     result.PersonID,
		OldGroupSize: result.OldGroupSize,
		NewGroupSize: result.NewGroupSize,
		OldStatus:    string(result.OldStatus),
		NewStatus:    string(result.NewStatus),
		SideEffects:  make([]sideEffectDTO, 0, len(result.SideEffects)),
	}
	for _, e := range result.SideEffects {
		dto.SideEffects = append(dto.SideEffects, sideEffectDTO{
			PersonID:     e.PersonID,
			ExternalID:   e.ExternalID,
			DisplayName:  e.DisplayName,
			OldStatus:    string(e.OldStatus),
			NewStatus:    string(e.NewStatus),
			OldMainCount: e.OldMainCount,
			NewMainCount: e.NewMainCount,
		})
	}
	return dto
}

type rosterLineDTO struct {
	EntryID           string `json:"entry_id"`
	PersonID          string `json:"person_id"`
	ExternalID        int64  `json:"external_id,omitempty"`
	DisplayName       string `json:"display_name"`
	Position          int    `json:"position"`
	GroupSize         int    `json:"group_size"`
	MainCount         int    `json:"main_count"`
	ReserveCount      int    `json:"reserve_count"`
	Status            string `json:"status"`
	PresenceConfirmed bool   `json:"presence_confirmed"`
}

type rosterDTO struct {
	Session   sessionDTO      `json:"session"`
	Confirmed int             `json:"confirmed"`
	Reserve   int             `json:"reserve"`
	Entries   []rosterLineDTO `json:"entries"`
	Lines     []string        `json:"lines"`
}

func toRosterDTO(view application.RosterView) rosterDTO {
	dto := rosterDTO{
		Session:   toSessionDTO(view.Session),
		Confirmed: view.Confirmed,
		Reserve:   view.Reserve,
		Entries:   make([]rosterLineDTO, 0, len(view.Entries)),
		Lines:     view.Lines(),
	}
	for _, line := range view.Entries {
		dto.Entries = append(dto.Entries, rosterLineDTO{
			EntryID:           line.EntryID,
			PersonID:          line.PersonID,
			ExternalID:        line.ExternalID,
			DisplayName:       line.DisplayName,
			Position:          line.Position,
			GroupSize:         line.GroupSize,
			MainCount:         line.MainCount,
			ReserveCount:      line.ReserveCount,
			Status:            string(line.Status),
			PresenceConfirmed: line.PresenceConfirmed,
		})
	}
	return dto
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
