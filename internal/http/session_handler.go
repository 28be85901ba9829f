package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/session-roster/internal/application"
	"github.com/example/session-roster/internal/persistence"
)

type sessionService interface {
	CreateSessionForDate(ctx context.Context, date time.Time) (persistence.Session, error)
	CreateNextSession(ctx context.Context) (persistence.Session, error)
	ListActiveSessions(ctx context.Context) ([]persistence.Session, error)
	GetSession(ctx context.Context, id string) (persistence.Session, error)
	CancelSession(ctx context.Context, id string) error
	ExpirePastSessions(ctx context.Context) (application.ExpireReport, error)
}

// SessionHandler serves session lifecycle endpoints.
type SessionHandler struct {
	service   sessionService
	location  *time.Location
	responder responder
	logger    *slog.Logger
}

// NewSessionHandler builds the handler. Dates in requests are read in loc,
// which defaults to UTC.
func NewSessionHandler(service sessionService, loc *time.Location, logger *slog.Logger) *SessionHandler {
	base := orDefaultLogger(logger)
	if loc == nil {
		loc = time.UTC
	}
	return &SessionHandler{service: service, location: loc, responder: newResponder(base), logger: base}
}

func (h *SessionHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "SessionHandler", operation, attrs...)
}

func (h *SessionHandler) ready(w http.ResponseWriter) bool {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return false
	}
	return true
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	sessions, err := h.service.ListActiveSessions(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	items := make([]sessionDTO, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, toSessionDTO(s))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, sessionListResponse{Items: items})
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	var req createSessionRequest
	if err := decodeRequest(r, &req); err != nil {
		if errors.Is(err, errBadRequestBody) {
			h.log(r.Context(), "Create", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode session request", "error", err)
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
			return
		}
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	// The validator already checked the layout.
	date, _ := time.ParseInLocation(time.DateOnly, req.Date, h.location)
	session, err := h.service.CreateSessionForDate(r.Context(), date)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, sessionResponse{Session: toSessionDTO(session)})
}

func (h *SessionHandler) CreateNext(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	session, err := h.service.CreateNextSession(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, sessionResponse{Session: toSessionDTO(session)})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id, ok := SessionIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	session, err := h.service.GetSession(r.Context(), id)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, sessionResponse{Session: toSessionDTO(session)})
}

func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id, ok := SessionIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	if err := h.service.CancelSession(r.Context(), id); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.log(r.Context(), "Cancel", "session_id", id).InfoContext(r.Context(), "session cancelled")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *SessionHandler) Expire(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	report, err := h.service.ExpirePastSessions(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, expireResponse{
		MarkedPast: nonNil(report.MarkedPast),
		Deleted:    nonNil(report.Deleted),
	})
}

type createSessionRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

type sessionDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartsAt  string `json:"starts_at"`
	Capacity  int    `json:"capacity"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
}

type sessionResponse struct {
	Session sessionDTO `json:"session"`
}

type sessionListResponse struct {
	Items []sessionDTO `json:"items"`
}

type expireResponse struct {
	MarkedPast []string `json:"marked_past"`
	Deleted    []string `json:"deleted"`
}

func toSessionDTO(s persistence.Session) sessionDTO {
	return sessionDTO{
		ID:        s.ID,
		Name:      s.Name,
		StartsAt:  formatTime(s.StartsAt),
		Capacity:  s.Capacity,
		Status:    string(s.Status),
		CreatedAt: formatTime(s.CreatedAt),
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
