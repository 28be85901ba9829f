package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/session-roster/internal/persistence"
)

// SessionStore captures the persistence operations needed by the session service.
type SessionStore interface {
	CreateSession(ctx context.Context, session persistence.Session) error
	GetSession(ctx context.Context, id string) (persistence.Session, error)
	GetSessionByDate(ctx context.Context, date time.Time) (persistence.Session, error)
	ListSessions(ctx context.Context, status persistence.SessionStatus) ([]persistence.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status persistence.SessionStatus) error
	DeleteSession(ctx context.Context, id string) error
}

// Timetable turns dates into session start times.
type Timetable interface {
	Next(now time.Time) time.Time
	StartOn(day time.Time) time.Time
}

// SessionServiceDeps captures dependencies for constructing a session service.
type SessionServiceDeps struct {
	Store     SessionStore
	Timetable Timetable
	Policy    PolicySource
	Publisher EventPublisher
	Locks     *SessionLocks
	// Retention is how long past sessions are kept before deletion.
	Retention time.Duration
	// StoreTimeout bounds the store I/O of one operation. Zero disables it.
	StoreTimeout time.Duration
	IDGenerator  func() string
	Now          func() time.Time
	Logger       *slog.Logger
}

// ExpireReport summarises one ExpirePastSessions run.
type ExpireReport struct {
	MarkedPast []string
	Deleted    []string
}

// SessionService creates, lists, cancels and expires sessions.
type SessionService struct {
	store       SessionStore
	timetable   Timetable
	policy      PolicySource
	publisher   EventPublisher
	locks       *SessionLocks
	retention    time.Duration
	storeTimeout time.Duration
	idGenerator  func() string
	now          func() time.Time
	logger       *slog.Logger
}

// NewSessionService constructs a session service with the provided dependencies.
func NewSessionService(deps SessionServiceDeps) *SessionService {
	svc := &SessionService{
		store:        deps.Store,
		timetable:    deps.Timetable,
		policy:       deps.Policy,
		publisher:    deps.Publisher,
		locks:        sharedLocks(deps.Locks),
		retention:    deps.Retention,
		storeTimeout: deps.StoreTimeout,
		idGenerator:  deps.IDGenerator,
		now:          deps.Now,
		logger:       defaultLogger(deps.Logger),
	}
	if svc.policy == nil {
		svc.policy = StaticPolicy(DefaultPolicy())
	}
	if svc.publisher == nil {
		svc.publisher = nopPublisher{}
	}
	if svc.idGenerator == nil {
		svc.idGenerator = func() string { return "" }
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

func (s *SessionService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "SessionService", operation, attrs...)
}

// CreateSessionForDate returns the session on date, creating it first when
// none exists. Only a newly created session is announced.
func (s *SessionService) CreateSessionForDate(ctx context.Context, date time.Time) (session persistence.Session, err error) {
	if s == nil {
		err = fmt.Errorf("SessionService is nil")
		return
	}
	if s.store == nil || s.timetable == nil {
		err = fmt.Errorf("session service not configured")
		return
	}

	logger := s.loggerWith(ctx, "CreateSessionForDate", "date", date.Format(time.DateOnly))
	created := false
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create session", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("session_id", session.ID, "created", created).InfoContext(ctx, "session ready")
	}()

	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	start := s.timetable.StartOn(date)
	session, err = s.store.GetSessionByDate(storeCtx, start)
	if err == nil {
		return
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		err = unavailable(err)
		return
	}

	policy, err := s.policy.Effective(storeCtx)
	if err != nil {
		err = unavailable(err)
		return
	}

	session = persistence.Session{
		ID:        s.idGenerator(),
		Name:      SessionName(start),
		StartsAt:  start,
		Capacity:  policy.DefaultCapacity,
		Status:    persistence.SessionActive,
		CreatedAt: s.now(),
	}
	if err = s.store.CreateSession(storeCtx, session); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			// Lost a race with another creator for the same date.
			session, err = s.store.GetSessionByDate(storeCtx, start)
			if err != nil {
				err = unavailable(err)
			}
			return
		}
		err = unavailable(err)
		return
	}
	created = true

	if pubErr := s.publisher.Publish(context.WithoutCancel(ctx), sessionEvent(EventSessionOpened, session, s.now())); pubErr != nil {
		logger.WarnContext(ctx, "failed to publish event", "event_kind", EventSessionOpened, "error", pubErr)
	}
	return
}

// CreateNextSession opens the session for the next training day.
func (s *SessionService) CreateNextSession(ctx context.Context) (persistence.Session, error) {
	if s == nil || s.timetable == nil {
		return persistence.Session{}, fmt.Errorf("session service not configured")
	}
	return s.CreateSessionForDate(ctx, s.timetable.Next(s.now()))
}

// ListActiveSessions returns sessions that have not passed, earliest first.
func (s *SessionService) ListActiveSessions(ctx context.Context) ([]persistence.Session, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("session service not configured")
	}
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	sessions, err := s.store.ListSessions(storeCtx, persistence.SessionActive)
	if err != nil {
		err = unavailable(err)
		s.loggerWith(ctx, "ListActiveSessions").ErrorContext(ctx, "failed to list sessions", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}
	return sessions, nil
}

// GetSession returns one session by id.
func (s *SessionService) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	if s == nil || s.store == nil {
		return persistence.Session{}, fmt.Errorf("session service not configured")
	}
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	session, err := s.store.GetSession(storeCtx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Session{}, ErrSessionNotFound
		}
		return persistence.Session{}, unavailable(err)
	}
	return session, nil
}

// CancelSession deletes a session and its roster.
func (s *SessionService) CancelSession(ctx context.Context, id string) (err error) {
	if s == nil || s.store == nil {
		return fmt.Errorf("session service not configured")
	}

	logger := s.loggerWith(ctx, "CancelSession", "session_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel session", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "session cancelled")
	}()

	mu := s.locks.forSession(id)
	mu.Lock()
	defer mu.Unlock()

	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err = s.store.DeleteSession(storeCtx, id); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrSessionNotFound
			return
		}
		err = unavailable(err)
		return
	}
	s.locks.forget(id)
	return
}

// ExpirePastSessions marks started sessions as past and deletes past sessions
// older than the retention window.
func (s *SessionService) ExpirePastSessions(ctx context.Context) (report ExpireReport, err error) {
	if s == nil || s.store == nil {
		err = fmt.Errorf("session service not configured")
		return
	}

	logger := s.loggerWith(ctx, "ExpirePastSessions", "retention", s.retention.String())
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to expire sessions", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if len(report.MarkedPast) > 0 || len(report.Deleted) > 0 {
			logger.InfoContext(ctx, "sessions expired", "marked_past", len(report.MarkedPast), "deleted", len(report.Deleted))
		}
	}()

	now := s.now()
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	active, err := s.store.ListSessions(storeCtx, persistence.SessionActive)
	if err != nil {
		err = unavailable(err)
		return
	}
	for _, session := range active {
		if session.StartsAt.After(now) {
			continue
		}
		if err = s.withSessionLock(session.ID, func() error {
			return s.store.UpdateSessionStatus(storeCtx, session.ID, persistence.SessionPast)
		}); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			err = unavailable(err)
			return
		}
		err = nil
		report.MarkedPast = append(report.MarkedPast, session.ID)
	}

	past, err := s.store.ListSessions(storeCtx, persistence.SessionPast)
	if err != nil {
		err = unavailable(err)
		return
	}
	for _, session := range past {
		if now.Sub(session.StartsAt) < s.retention {
			continue
		}
		if err = s.withSessionLock(session.ID, func() error {
			if err := s.store.DeleteSession(storeCtx, session.ID); err != nil {
				return err
			}
			s.locks.forget(session.ID)
			return nil
		}); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			err = unavailable(err)
			return
		}
		err = nil
		report.Deleted = append(report.Deleted, session.ID)
	}
	return
}

func (s *SessionService) withSessionLock(id string, fn func() error) error {
	mu := s.locks.forSession(id)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// SessionName derives the display name of the session starting at start.
func SessionName(start time.Time) string {
	return "Training " + start.Format("Mon 02.01.2006 15:04")
}
