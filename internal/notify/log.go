package notify

import (
	"context"
	"log/slog"

	"github.com/example/session-roster/internal/application"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("sink", "log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, event application.Event) error {
	attrs := []any{
		"event_kind", event.Kind,
		"session_id", event.SessionID,
	}
	if event.PersonID != "" {
		attrs = append(attrs,
			"person_id", event.PersonID,
			"old_status", event.OldStatus,
			"new_status", event.NewStatus,
			"old_main_count", event.OldMainCount,
			"new_main_count", event.NewMainCount,
		)
	}
	if event.Reminder != "" {
		attrs = append(attrs, "reminder", event.Reminder)
	}
	if event.FreeSlots > 0 {
		attrs = append(attrs, "free_slots", event.FreeSlots)
	}
	s.logger.InfoContext(ctx, "event", attrs...)
	return nil
}
