package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/session-roster/internal/allocation"
	"github.com/example/session-roster/internal/persistence"
)

// AttendanceStore captures the persistence operations needed by the attendance service.
type AttendanceStore interface {
	GetSession(ctx context.Context, id string) (persistence.Session, error)
	ListEntries(ctx context.Context, sessionID string) ([]persistence.RosterEntry, error)
	ListPeople(ctx context.Context, ids []string) ([]persistence.Person, error)
	ConfirmPresence(ctx context.Context, sessionID, personID string) error
	MarkReminderSent(ctx context.Context, sessionID, personID string, kind persistence.ReminderKind) error
}

// Leaver removes a person from a roster with the usual promotions.
type Leaver interface {
	Leave(ctx context.Context, params LeaveParams) (Result, error)
}

// AttendanceServiceDeps captures dependencies for constructing an attendance service.
type AttendanceServiceDeps struct {
	Store     AttendanceStore
	Roster    Leaver
	Publisher EventPublisher
	Locks     *SessionLocks
	Now       func() time.Time
	Logger    *slog.Logger
}

// AttendanceService runs the presence confirmation flow: reminders before a
// session and removal of confirmed people who never answered.
type AttendanceService struct {
	store     AttendanceStore
	roster    Leaver
	publisher EventPublisher
	locks     *SessionLocks
	now       func() time.Time
	logger    *slog.Logger
}

// NewAttendanceService constructs an attendance service with the provided dependencies.
func NewAttendanceService(deps AttendanceServiceDeps) *AttendanceService {
	svc := &AttendanceService{
		store:     deps.Store,
		roster:    deps.Roster,
		publisher: deps.Publisher,
		locks:     sharedLocks(deps.Locks),
		now:       deps.Now,
		logger:    defaultLogger(deps.Logger),
	}
	if svc.publisher == nil {
		svc.publisher = nopPublisher{}
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

func (s *AttendanceService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AttendanceService", operation, attrs...)
}

// ConfirmPresence records that a registered person will attend.
func (s *AttendanceService) ConfirmPresence(ctx context.Context, sessionID, personID string) (err error) {
	if s == nil || s.store == nil {
		return fmt.Errorf("attendance service not configured")
	}

	logger := s.loggerWith(ctx, "ConfirmPresence", "session_id", sessionID, "person_id", personID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to confirm presence", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "presence confirmed")
	}()

	mu := s.locks.forSession(sessionID)
	mu.RLock()
	defer mu.RUnlock()

	if _, err = s.activeSession(ctx, sessionID); err != nil {
		return
	}
	if err = s.store.ConfirmPresence(ctx, sessionID, personID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrNotRegistered
			return
		}
		err = unavailable(err)
	}
	return
}

// SendReminders publishes a presence reminder to every confirmed person who
// has not answered and has not had this reminder yet. The second reminder only
// goes to people who already had the first. It returns how many were sent.
func (s *AttendanceService) SendReminders(ctx context.Context, sessionID string, kind persistence.ReminderKind) (sent int, err error) {
	if s == nil || s.store == nil {
		return 0, fmt.Errorf("attendance service not configured")
	}
	if kind != persistence.FirstReminder && kind != persistence.SecondReminder {
		vErr := &ValidationError{}
		vErr.add("kind", "must be first or second")
		return 0, vErr
	}

	logger := s.loggerWith(ctx, "SendReminders", "session_id", sessionID, "reminder", kind)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to send reminders", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "reminders sent", "count", sent)
	}()

	mu := s.locks.forSession(sessionID)
	mu.RLock()
	defer mu.RUnlock()

	session, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return
	}
	entries, err := s.store.ListEntries(ctx, sessionID)
	if err != nil {
		err = unavailable(err)
		return
	}

	var due []persistence.RosterEntry
	for _, e := range entries {
		if needsReminder(e, kind) {
			due = append(due, e)
		}
	}
	people, err := s.people(ctx, due)
	if err != nil {
		return
	}

	for _, e := range due {
		person := people[e.PersonID]
		event := sessionEvent(EventPresenceReminder, session, s.now())
		event.PersonID = e.PersonID
		event.ExternalID = person.ExternalID
		event.DisplayName = displayNameOrID(person, e.PersonID)
		event.Reminder = kind
		if err = s.publisher.Publish(ctx, event); err != nil {
			err = fmt.Errorf("publish reminder for %s: %w", e.PersonID, err)
			return
		}
		if err = s.store.MarkReminderSent(ctx, sessionID, e.PersonID, kind); err != nil {
			err = unavailable(err)
			return
		}
		sent++
	}
	return
}

// AutoLeaveUnconfirmed removes every fully confirmed entry that did not
// confirm presence. Each removal is a normal leave, so reserve people are
// promoted and notified. When places were freed but nobody could take them a
// slots_available event is published.
func (s *AttendanceService) AutoLeaveUnconfirmed(ctx context.Context, sessionID string) (results []Result, err error) {
	if s == nil || s.store == nil || s.roster == nil {
		return nil, fmt.Errorf("attendance service not configured")
	}

	logger := s.loggerWith(ctx, "AutoLeaveUnconfirmed", "session_id", sessionID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to remove unconfirmed people", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "unconfirmed people removed", "count", len(results))
	}()

	session, candidates, err := s.unconfirmed(ctx, sessionID)
	if err != nil {
		return
	}
	people, err := s.people(ctx, candidates)
	if err != nil {
		return
	}

	freed, promoted := 0, 0
	for _, e := range candidates {
		var result Result
		result, err = s.roster.Leave(ctx, LeaveParams{SessionID: sessionID, PersonID: e.PersonID})
		if errors.Is(err, ErrNotRegistered) {
			// Left on their own in the meantime.
			err = nil
			continue
		}
		if err != nil {
			return
		}
		results = append(results, result)
		freed += e.MainCount
		for _, effect := range result.Promotions() {
			promoted += effect.NewMainCount - effect.OldMainCount
		}

		person := people[e.PersonID]
		event := sessionEvent(EventAutoLeft, session, s.now())
		event.PersonID = e.PersonID
		event.ExternalID = person.ExternalID
		event.DisplayName = displayNameOrID(person, e.PersonID)
		event.OldStatus = allocation.Status(e.Status)
		event.OldMainCount = e.MainCount
		if pubErr := s.publisher.Publish(context.WithoutCancel(ctx), event); pubErr != nil {
			logger.WarnContext(ctx, "failed to publish event", "event_kind", EventAutoLeft, "error", pubErr)
		}
	}

	if free := freed - promoted; free > 0 {
		event := sessionEvent(EventSlotsAvailable, session, s.now())
		event.FreeSlots = free
		if pubErr := s.publisher.Publish(context.WithoutCancel(ctx), event); pubErr != nil {
			logger.WarnContext(ctx, "failed to publish event", "event_kind", EventSlotsAvailable, "error", pubErr)
		}
	}
	return
}

func (s *AttendanceService) unconfirmed(ctx context.Context, sessionID string) (persistence.Session, []persistence.RosterEntry, error) {
	mu := s.locks.forSession(sessionID)
	mu.RLock()
	defer mu.RUnlock()

	session, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return persistence.Session{}, nil, err
	}
	entries, err := s.store.ListEntries(ctx, sessionID)
	if err != nil {
		return persistence.Session{}, nil, unavailable(err)
	}

	var out []persistence.RosterEntry
	for _, e := range entries {
		if allocation.Status(e.Status) == allocation.StatusConfirmed && !e.PresenceConfirmed {
			out = append(out, e)
		}
	}
	return session, out, nil
}

func (s *AttendanceService) activeSession(ctx context.Context, sessionID string) (persistence.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Session{}, ErrSessionNotFound
		}
		return persistence.Session{}, unavailable(err)
	}
	if session.Status == persistence.SessionPast {
		return persistence.Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (s *AttendanceService) people(ctx context.Context, entries []persistence.RosterEntry) (map[string]persistence.Person, error) {
	people := make(map[string]persistence.Person, len(entries))
	if len(entries) == 0 {
		return people, nil
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.PersonID)
	}
	list, err := s.store.ListPeople(ctx, ids)
	if err != nil {
		return nil, unavailable(err)
	}
	for _, p := range list {
		people[p.ID] = p
	}
	return people, nil
}

func needsReminder(e persistence.RosterEntry, kind persistence.ReminderKind) bool {
	if allocation.Status(e.Status) != allocation.StatusConfirmed || e.PresenceConfirmed {
		return false
	}
	if kind == persistence.SecondReminder {
		return e.FirstReminderSent && !e.SecondReminderSent
	}
	return !e.FirstReminderSent
}
