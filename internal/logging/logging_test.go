package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("json output filters below level", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(&buf, "warn", "json")
		if err != nil {
			t.Fatalf("New returned error: %v", err)
		}
		logger.Info("hidden")
		logger.Warn("shown", "session_id", "s-1")

		out := buf.String()
		if strings.Contains(out, "hidden") {
			t.Fatalf("info record should be filtered: %s", out)
		}
		if !strings.Contains(out, `"session_id":"s-1"`) {
			t.Fatalf("expected json attribute, got %s", out)
		}
	})

	t.Run("text output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(&buf, "DEBUG", "text")
		if err != nil {
			t.Fatalf("New returned error: %v", err)
		}
		logger.Debug("joined", "tier", "joined_confirmed")
		if !strings.Contains(buf.String(), "tier=joined_confirmed") {
			t.Fatalf("expected text attribute, got %s", buf.String())
		}
	})

	t.Run("rejects unknown values", func(t *testing.T) {
		if _, err := New(&bytes.Buffer{}, "loud", "json"); err == nil {
			t.Fatalf("expected level error")
		}
		if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
			t.Fatalf("expected format error")
		}
	})
}

func TestContextWithLogger(t *testing.T) {
	logger, err := New(&bytes.Buffer{}, "info", "json")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := ContextWithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatalf("expected logger from context")
	}
	if FromContext(context.Background()) != nil {
		t.Fatalf("expected nil logger for bare context")
	}
}
