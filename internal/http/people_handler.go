package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/example/session-roster/internal/application"
	"github.com/example/session-roster/internal/persistence"
)

type peopleService interface {
	Register(ctx context.Context, input application.PersonInput) (persistence.Person, error)
	SetSubscription(ctx context.Context, externalID int64, subscribed bool) error
	ListAll(ctx context.Context) ([]persistence.Person, error)
	Statistics(ctx context.Context) (application.Statistics, error)
}

// PeopleHandler serves person registration and subscription endpoints.
type PeopleHandler struct {
	service   peopleService
	responder responder
	logger    *slog.Logger
}

func NewPeopleHandler(service peopleService, logger *slog.Logger) *PeopleHandler {
	base := orDefaultLogger(logger)
	return &PeopleHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *PeopleHandler) Register(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req personInputRequest
	if err := decodeRequest(r, &req); err != nil {
		if errors.Is(err, errBadRequestBody) {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
			return
		}
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	person, err := h.service.Register(r.Context(), application.PersonInput{
		ExternalID: req.ExternalID,
		Username:   req.Username,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, personResponse{Person: toPersonDTO(person)})
}

func (h *PeopleHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	people, err := h.service.ListAll(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	items := make([]personDTO, 0, len(people))
	for _, p := range people {
		items = append(items, toPersonDTO(p))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, personListResponse{Items: items, Total: len(items)})
}

func (h *PeopleHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	stats, err := h.service.Statistics(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	resp := statisticsResponse{
		People:         stats.People,
		Subscribed:     stats.Subscribed,
		ActiveSessions: stats.ActiveSessions,
	}
	if n := stats.Nearest; n != nil {
		resp.NearestSession = &nearestSessionDTO{
			Session:       toSessionDTO(n.Session),
			Registrations: n.Registrations,
			Headcount:     n.Headcount,
			Confirmed:     n.Confirmed,
			Reserve:       n.Reserve,
		}
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

// SetSubscription expects the external id in the path, resolved by the router.
func (h *PeopleHandler) SetSubscription(w http.ResponseWriter, r *http.Request, rawExternalID string) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	externalID, err := strconv.ParseInt(rawExternalID, 10, 64)
	if err != nil || externalID <= 0 {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidPersonID)
		return
	}

	var req subscriptionRequest
	if err := decodeRequest(r, &req); err != nil {
		if errors.Is(err, errBadRequestBody) {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
			return
		}
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	if err := h.service.SetSubscription(r.Context(), externalID, *req.Subscribed); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	handlerLogger(r.Context(), h.logger, "PeopleHandler", "SetSubscription", "external_id", externalID).
		InfoContext(r.Context(), "subscription updated", "subscribed", *req.Subscribed)
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type personInputRequest struct {
	ExternalID int64  `json:"external_id" validate:"required,gt=0"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

type subscriptionRequest struct {
	Subscribed *bool `json:"subscribed" validate:"required"`
}

type personDTO struct {
	ID          string `json:"id"`
	ExternalID  int64  `json:"external_id"`
	Username    string `json:"username,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	DisplayName string `json:"display_name"`
	Subscribed  bool   `json:"subscribed"`
}

type personResponse struct {
	Person personDTO `json:"person"`
}

type personListResponse struct {
	Items []personDTO `json:"items"`
	Total int         `json:"total"`
}

type nearestSessionDTO struct {
	Session       sessionDTO `json:"session"`
	Registrations int        `json:"registrations"`
	Headcount     int        `json:"headcount"`
	Confirmed     int        `json:"confirmed"`
	Reserve       int        `json:"reserve"`
}

type statisticsResponse struct {
	People         int                `json:"people"`
	Subscribed     int                `json:"subscribed"`
	ActiveSessions int                `json:"active_sessions"`
	NearestSession *nearestSessionDTO `json:"nearest_session"`
}

func toPersonDTO(p persistence.Person) personDTO {
	return personDTO{
		ID:          p.ID,
		ExternalID:  p.ExternalID,
		Username:    p.Username,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		DisplayName: application.DisplayName(p),
		Subscribed:  p.Subscribed,
	}
}
