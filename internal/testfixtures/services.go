package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/session-roster/internal/application"
	"github.com/example/session-roster/internal/persistence"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Locks       *application.SessionLocks
	Policy      application.Policy
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(referenceTime),
		IDGenerator: NewIDGenerator(),
		Locks:       application.NewSessionLocks(),
		Policy:      application.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(referenceTime)
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator()
	}
	if factory.Locks == nil {
		factory.Locks = application.NewSessionLocks()
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithPolicy overrides the configured roster policy.
func WithPolicy(policy application.Policy) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Policy = policy
	}
}

// WithLogger routes service logs to logger.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// Services bundles every application service over one store.
type Services struct {
	Store      persistence.Store
	Roster     *application.RosterService
	Sessions   *application.SessionService
	People     *application.PeopleService
	Attendance *application.AttendanceService
	Settings   *application.SettingsService
}

// NewServices wires the full service graph the way the daemon does: one set
// of session locks, persisted settings layered over the factory policy and a
// single publisher for every service.
func (f *ServiceFactory) NewServices(store persistence.Store, publisher application.EventPublisher) Services {
	now := f.Clock.NowFunc()
	settings := application.NewSettingsServiceWithLogger(store, f.Policy, now, f.Logger)

	roster := application.NewRosterService(application.RosterServiceDeps{
		Store:        store,
		Policy:       settings,
		Publisher:    publisher,
		Locks:        f.Locks,
		StoreTimeout: time.Second,
		IDGenerator:  f.IDGenerator.For("entry"),
		Now:          now,
		Logger:       f.Logger,
	})

	return Services{
		Store:  store,
		Roster: roster,
		Sessions: application.NewSessionService(application.SessionServiceDeps{
			Store:        store,
			Timetable:    DailyTimetable{Hour: 19},
			Policy:       settings,
			Publisher:    publisher,
			Locks:        f.Locks,
			Retention:    7 * 24 * time.Hour,
			StoreTimeout: time.Second,
			IDGenerator:  f.IDGenerator.For("session"),
			Now:          now,
			Logger:       f.Logger,
		}),
		People: application.NewPeopleServiceWithLogger(store, f.IDGenerator.For("person"), now, f.Logger),
		Attendance: application.NewAttendanceService(application.AttendanceServiceDeps{
			Store:     store,
			Roster:    roster,
			Publisher: publisher,
			Locks:     f.Locks,
			Now:       now,
			Logger:    f.Logger,
		}),
		Settings: settings,
	}
}

// DailyTimetable starts a session every day at Hour in UTC.
type DailyTimetable struct {
	Hour int
}

// StartOn returns the start time on day.
func (t DailyTimetable) StartOn(day time.Time) time.Time {
	y, m, d := day.UTC().Date()
	return time.Date(y, m, d, t.Hour, 0, 0, 0, time.UTC)
}

// Next returns the first start strictly after now.
func (t DailyTimetable) Next(now time.Time) time.Time {
	if start := t.StartOn(now); start.After(now) {
		return start
	}
	return t.StartOn(now.AddDate(0, 0, 1))
}
