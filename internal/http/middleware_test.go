package http

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	t.Run("generates a request id and logs the status", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		var inner *slog.Logger
		handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			inner = LoggerFromContext(r.Context())
			w.WriteHeader(http.StatusTeapot)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))

		if inner == nil {
			t.Fatalf("expected request logger in context")
		}
		id := rec.Header().Get(RequestIDHeader)
		if len(id) != 36 {
			t.Fatalf("expected generated uuid, got %q", id)
		}
		out := buf.String()
		if !strings.Contains(out, "request_id="+id) || !strings.Contains(out, "status=418") {
			t.Fatalf("unexpected log output: %s", out)
		}
	})

	t.Run("keeps a caller supplied request id", func(t *testing.T) {
		t.Parallel()

		handler := RequestLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
			t.Fatalf("expected caller id, got %q", got)
		}
	})
}

func TestRecoverer(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := Recoverer(slog.New(slog.NewTextHandler(&buf, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/s/join", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(buf.String(), "handler panicked") {
		t.Fatalf("expected panic to be logged: %s", buf.String())
	}
}

func TestHandlerLoggerPrefersRequestLogger(t *testing.T) {
	t.Parallel()

	var requestBuf, fallbackBuf bytes.Buffer
	request := slog.New(slog.NewTextHandler(&requestBuf, nil))
	fallback := slog.New(slog.NewTextHandler(&fallbackBuf, nil))

	ctx := ContextWithLogger(httptest.NewRequest(http.MethodGet, "/", nil).Context(), request)
	handlerLogger(ctx, fallback, "RosterHandler", "Join", "session_id", "s1").Info("handled")

	out := requestBuf.String()
	for _, want := range []string{"handler=RosterHandler", "operation=Join", "session_id=s1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %s", want, out)
		}
	}
	if fallbackBuf.Len() != 0 {
		t.Fatalf("fallback logger should stay unused, got %s", fallbackBuf.String())
	}

	handlerLogger(httptest.NewRequest(http.MethodGet, "/", nil).Context(), fallback, "PeopleHandler", "List").Info("handled")
	if !strings.Contains(fallbackBuf.String(), "handler=PeopleHandler") {
		t.Fatalf("expected fallback logger without a request logger, got %q", fallbackBuf.String())
	}
}
