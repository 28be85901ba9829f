package application

import (
	"context"
	"time"

	"github.com/example/session-roster/internal/allocation"
	"github.com/example/session-roster/internal/persistence"
)

// EventKind names a notification-worthy occurrence.
type EventKind string

const (
	// EventSessionOpened announces a new session to every subscribed person.
	EventSessionOpened EventKind = "session_opened"
	// EventPromoted tells a person some or all of their group moved into the confirmed roster.
	EventPromoted EventKind = "promoted"
	// EventDemoted tells a person some or all of their group moved to reserve.
	EventDemoted EventKind = "demoted"
	// EventPresenceReminder asks a confirmed person to confirm they will attend.
	EventPresenceReminder EventKind = "presence_reminder"
	// EventAutoLeft tells a person they were removed for not confirming presence.
	EventAutoLeft EventKind = "auto_left"
	// EventSlotsAvailable announces free places nobody in reserve could take.
	EventSlotsAvailable EventKind = "slots_available"
	// EventRosterChanged is emitted after every committed roster mutation.
	EventRosterChanged EventKind = "roster_changed"
)

// Event is the structured payload handed to the delivery layer. Person fields
// are empty for session-wide events.
type Event struct {
	Kind         EventKind                `json:"kind"`
	SessionID    string                   `json:"session_id"`
	SessionName  string                   `json:"session_name,omitempty"`
	StartsAt     time.Time                `json:"starts_at,omitzero"`
	PersonID     string                   `json:"person_id,omitempty"`
	ExternalID   int64                    `json:"external_id,omitempty"`
	DisplayName  string                   `json:"display_name,omitempty"`
	OldStatus    allocation.Status        `json:"old_status,omitempty"`
	NewStatus    allocation.Status        `json:"new_status,omitempty"`
	OldMainCount int                      `json:"old_main_count,omitempty"`
	NewMainCount int                      `json:"new_main_count,omitempty"`
	Reminder     persistence.ReminderKind `json:"reminder,omitempty"`
	FreeSlots    int                      `json:"free_slots,omitempty"`
	OccurredAt   time.Time                `json:"occurred_at"`
}

// EventPublisher hands committed side effects to the delivery layer. Publish
// must not return before the event is queued or has failed to queue.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// EventPublisherFunc adapts a function to EventPublisher.
type EventPublisherFunc func(ctx context.Context, event Event) error

// Publish calls f.
func (f EventPublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

// Metrics records roster operation outcomes.
type Metrics interface {
	ObserveOperation(operation string, tier MessageTier, duration time.Duration)
	ObserveMoves(operation string, promoted, demoted int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, MessageTier, time.Duration) {}
func (nopMetrics) ObserveMoves(string, int, int)                       {}

func sessionEvent(kind EventKind, session persistence.Session, at time.Time) Event {
	return Event{
		Kind:        kind,
		SessionID:   session.ID,
		SessionName: session.Name,
		StartsAt:    session.StartsAt,
		OccurredAt:  at,
	}
}

func sideEffectEvent(session persistence.Session, effect SideEffect, at time.Time) Event {
	event := sessionEvent(EventDemoted, session, at)
	if effect.Promoted() {
		event.Kind = EventPromoted
	}
	event.PersonID = effect.PersonID
	event.ExternalID = effect.ExternalID
	event.DisplayName = effect.DisplayName
	event.OldStatus = effect.OldStatus
	event.NewStatus = effect.NewStatus
	event.OldMainCount = effect.OldMainCount
	event.NewMainCount = effect.NewMainCount
	return event
}
