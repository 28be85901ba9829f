package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/session-roster/internal/persistence"
)

// PeopleStore captures the persistence operations needed by the people service.
type PeopleStore interface {
	UpsertPerson(ctx context.Context, person persistence.Person) (persistence.Person, error)
	GetPersonByExternalID(ctx context.Context, externalID int64) (persistence.Person, error)
	ListSubscribedPeople(ctx context.Context) ([]persistence.Person, error)
	ListAllPeople(ctx context.Context) ([]persistence.Person, error)
	CountPeople(ctx context.Context) (int, error)
	SetSubscribed(ctx context.Context, externalID int64, subscribed bool) error
	ListSessions(ctx context.Context, status persistence.SessionStatus) ([]persistence.Session, error)
	ListEntries(ctx context.Context, sessionID string) ([]persistence.RosterEntry, error)
}

// Statistics is the admin overview of people and upcoming sessions.
type Statistics struct {
	People         int
	Subscribed     int
	ActiveSessions int
	// Nearest is nil when no session is open.
	Nearest *SessionStatistics
}

// SessionStatistics counts the registrations of one session.
type SessionStatistics struct {
	Session       persistence.Session
	Registrations int
	Headcount     int
	Confirmed     int
	Reserve       int
}

// PeopleService resolves external accounts to people and manages broadcast
// subscriptions.
type PeopleService struct {
	store       PeopleStore
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewPeopleService constructs a people service with the provided dependencies.
func NewPeopleService(store PeopleStore, idGenerator func() string, now func() time.Time) *PeopleService {
	return NewPeopleServiceWithLogger(store, idGenerator, now, nil)
}

// NewPeopleServiceWithLogger constructs a people service with a specified logger.
func NewPeopleServiceWithLogger(store PeopleStore, idGenerator func() string, now func() time.Time, logger *slog.Logger) *PeopleService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &PeopleService{store: store, idGenerator: idGenerator, now: now, logger: defaultLogger(logger)}
}

func (s *PeopleService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "PeopleService", operation, attrs...)
}

// Register records a contact. New people are subscribed; returning people keep
// their stored names where the input leaves them blank.
func (s *PeopleService) Register(ctx context.Context, input PersonInput) (person persistence.Person, err error) {
	if s == nil || s.store == nil {
		err = fmt.Errorf("people service not configured")
		return
	}

	logger := s.loggerWith(ctx, "Register", "external_id", input.ExternalID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to register person", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("person_id", person.ID).InfoContext(ctx, "person registered")
	}()

	if input.ExternalID == 0 {
		vErr := &ValidationError{}
		vErr.add("external_id", "external id is required")
		err = vErr
		return
	}

	person, err = s.store.UpsertPerson(ctx, persistence.Person{
		ID:         s.idGenerator(),
		ExternalID: input.ExternalID,
		Username:   strings.TrimPrefix(strings.TrimSpace(input.Username), "@"),
		FirstName:  strings.TrimSpace(input.FirstName),
		LastName:   strings.TrimSpace(input.LastName),
		Subscribed: true,
		CreatedAt:  s.now(),
	})
	if err != nil {
		err = unavailable(err)
	}
	return
}

// Resolve looks a person up by external id.
func (s *PeopleService) Resolve(ctx context.Context, externalID int64) (persistence.Person, error) {
	if s == nil || s.store == nil {
		return persistence.Person{}, fmt.Errorf("people service not configured")
	}
	person, err := s.store.GetPersonByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Person{}, ErrPersonNotFound
		}
		return persistence.Person{}, unavailable(err)
	}
	return person, nil
}

// SetSubscription turns session broadcasts on or off for a person.
func (s *PeopleService) SetSubscription(ctx context.Context, externalID int64, subscribed bool) (err error) {
	if s == nil || s.store == nil {
		return fmt.Errorf("people service not configured")
	}

	logger := s.loggerWith(ctx, "SetSubscription", "external_id", externalID, "subscribed", subscribed)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to change subscription", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "subscription changed")
	}()

	if err = s.store.SetSubscribed(ctx, externalID, subscribed); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrPersonNotFound
			return
		}
		err = unavailable(err)
	}
	return
}

// Unsubscribe is SetSubscription(false) for delivery failures that will not
// recover, such as a person blocking the bot.
func (s *PeopleService) Unsubscribe(ctx context.Context, externalID int64) error {
	return s.SetSubscription(ctx, externalID, false)
}

// ListSubscribed returns everyone who receives session broadcasts.
func (s *PeopleService) ListSubscribed(ctx context.Context) ([]persistence.Person, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("people service not configured")
	}
	people, err := s.store.ListSubscribedPeople(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	return people, nil
}

// ListAll returns every known person, subscribed or not, in registration order.
func (s *PeopleService) ListAll(ctx context.Context) ([]persistence.Person, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("people service not configured")
	}
	people, err := s.store.ListAllPeople(ctx)
	if err != nil {
		err = unavailable(err)
		s.loggerWith(ctx, "ListAll").ErrorContext(ctx, "failed to list people", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}
	return people, nil
}

// Statistics counts people and active sessions, and the registrations of the
// earliest active session.
func (s *PeopleService) Statistics(ctx context.Context) (stats Statistics, err error) {
	if s == nil || s.store == nil {
		err = fmt.Errorf("people service not configured")
		return
	}

	logger := s.loggerWith(ctx, "Statistics")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to collect statistics", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	if stats.People, err = s.store.CountPeople(ctx); err != nil {
		err = unavailable(err)
		return
	}
	subscribed, err := s.store.ListSubscribedPeople(ctx)
	if err != nil {
		err = unavailable(err)
		return
	}
	stats.Subscribed = len(subscribed)

	sessions, err := s.store.ListSessions(ctx, persistence.SessionActive)
	if err != nil {
		err = unavailable(err)
		return
	}
	stats.ActiveSessions = len(sessions)
	if len(sessions) == 0 {
		return
	}

	nearest := sessions[0]
	entries, err := s.store.ListEntries(ctx, nearest.ID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = nil
			return
		}
		err = unavailable(err)
		return
	}
	session := &SessionStatistics{Session: nearest, Registrations: len(entries)}
	for _, e := range entries {
		session.Headcount += e.GroupSize
		session.Confirmed += e.MainCount
		session.Reserve += e.ReserveCount
	}
	stats.Nearest = session
	return
}
