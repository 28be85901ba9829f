package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/session-roster/internal/application"
)

var (
	errBadRequestBody   = errors.New("request body is not valid JSON")
	errInvalidSessionID = errors.New("session id is required")
	errInvalidPersonID  = errors.New("external id must be a positive integer")
)

// retryAfterSeconds is advertised with every store_unavailable answer.
const retryAfterSeconds = "1"

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: codeForStatus(status), Message: message})
}

// handleServiceError maps application errors onto status codes. The error code
// of the body is the result tier, so clients can pick the same fixed message a
// successful call would have carried.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	kind := application.ErrorKind(err)

	var vErr *application.ValidationError
	switch {
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: kind,
			Message:   "request contains invalid fields",
			Errors:    vErr.FieldErrors,
		})
	case errors.Is(err, application.ErrAlreadyRegistered):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: kind, Message: "person is already registered for this session"})
	case errors.Is(err, application.ErrNotRegistered):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: kind, Message: "person is not registered for this session"})
	case errors.Is(err, application.ErrSessionNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: kind, Message: "session not found"})
	case errors.Is(err, application.ErrPersonNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: kind, Message: "person not found"})
	case errors.Is(err, application.ErrInvalidGroupSize),
		errors.Is(err, application.ErrInvalidReduceAmount),
		errors.Is(err, application.ErrInvalidCapacity),
		errors.Is(err, application.ErrGroupRegistrationDisabled):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{ErrorCode: kind, Message: err.Error()})
	case errors.Is(err, application.ErrStoreUnavailable):
		w.Header().Set("Retry-After", retryAfterSeconds)
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{ErrorCode: kind, Message: "roster store is unavailable, retry later"})
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "unexpected service error", "error", err)
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{ErrorCode: "internal", Message: http.StatusText(http.StatusInternalServerError)})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusServiceUnavailable:
		return string(application.TierStoreUnavailable)
	default:
		return "internal"
	}
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
