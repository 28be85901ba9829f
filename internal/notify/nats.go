package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/example/session-roster/internal/application"
)

// MessagePublisher is the part of *nats.Conn the sink uses.
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes every event as JSON on <subject>.<kind>.
type NATSSink struct {
	conn    MessagePublisher
	subject string
}

// NewNATSSink builds a sink publishing under subject.
func NewNATSSink(conn MessagePublisher, subject string) *NATSSink {
	if subject == "" {
		subject = "roster.events"
	}
	return &NATSSink{conn: conn, subject: subject}
}

func (s *NATSSink) Name() string { return "nats" }

// Deliver publishes event. A closed connection or a bad subject is permanent.
func (s *NATSSink) Deliver(ctx context.Context, event application.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return Permanent(fmt.Errorf("nats: encode %s: %w", event.Kind, err))
	}

	subject := s.Subject(event.Kind)
	if err := s.conn.Publish(subject, data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubject) {
			return Permanent(fmt.Errorf("nats: publish %s: %w", subject, err))
		}
		return fmt.Errorf("nats: publish %s: %w", subject, err)
	}
	return nil
}

// Subject returns the subject events of kind are published on.
func (s *NATSSink) Subject(kind application.EventKind) string {
	return s.subject + "." + string(kind)
}

// ConnectNATS dials url with reconnects enabled and connection state logged.
func ConnectNATS(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}
	return conn, nil
}
