package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/example/session-roster/internal/application"
	"github.com/example/session-roster/internal/config"
	httptransport "github.com/example/session-roster/internal/http"
	"github.com/example/session-roster/internal/metrics"
	"github.com/example/session-roster/internal/notify"
	"github.com/example/session-roster/internal/persistence"
	"github.com/example/session-roster/internal/persistence/memory"
	"github.com/example/session-roster/internal/persistence/sqlite"
	"github.com/example/session-roster/internal/persistence/sqlite/migration"
	"github.com/example/session-roster/internal/recurrence"
	"github.com/example/session-roster/internal/sheets"
)

// app owns the wired service graph of the daemon.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	handler http.Handler

	sessions   *application.SessionService
	dispatcher *notify.Dispatcher
	presence   *notify.PresenceListener

	closers   []func() error
	closeOnce sync.Once
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, reg *prometheus.Registry) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	store, health, err := openStore(ctx, cfg, logger)
	if err != nil {
		return a, err
	}
	a.closers = append(a.closers, store.Close)

	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.New(reg, "roster")
	if err != nil {
		return a, err
	}

	calendar, err := recurrence.NewCalendar(cfg.TrainingDays, cfg.SessionStartTime, cfg.TimeZone)
	if err != nil {
		return a, fmt.Errorf("training calendar: %w", err)
	}

	// Services publish through the dispatcher, whose sinks in turn read from
	// the services; the indirection breaks the construction cycle.
	publisher := application.EventPublisherFunc(func(ctx context.Context, event application.Event) error {
		if a.dispatcher == nil {
			return notify.ErrClosed
		}
		return a.dispatcher.Publish(ctx, event)
	})

	locks := application.NewSessionLocks()
	settings := application.NewSettingsServiceWithLogger(store, application.Policy{
		DefaultCapacity:          cfg.DefaultCapacity,
		MaxGroupSize:             cfg.MaxGroupSize,
		GroupRegistrationEnabled: cfg.GroupRegistrationEnabled,
	}, time.Now, logger)
	people := application.NewPeopleServiceWithLogger(store, uuid.NewString, time.Now, logger)
	roster := application.NewRosterService(application.RosterServiceDeps{
		Store:        store,
		Policy:       settings,
		Publisher:    publisher,
		Metrics:      collector,
		Locks:        locks,
		StoreTimeout: cfg.StoreTimeout,
		IDGenerator:  uuid.NewString,
		Now:          time.Now,
		Logger:       logger,
	})
	a.sessions = application.NewSessionService(application.SessionServiceDeps{
		Store:        store,
		Timetable:    calendar,
		Policy:       settings,
		Publisher:    publisher,
		Locks:        locks,
		Retention:    cfg.PastSessionRetention,
		StoreTimeout: cfg.StoreTimeout,
		IDGenerator:  uuid.NewString,
		Now:          time.Now,
		Logger:       logger,
	})
	attendance := application.NewAttendanceService(application.AttendanceServiceDeps{
		Store:     store,
		Roster:    roster,
		Publisher: publisher,
		Locks:     locks,
		Now:       time.Now,
		Logger:    logger,
	})

	sinks, err := a.buildSinks(ctx, people, roster, attendance)
	if err != nil {
		return a, err
	}
	opts := notify.DefaultOptions()
	opts.Workers = cfg.NotifyWorkers
	opts.MaxAttempts = cfg.NotifyMaxAttempts
	opts.Metrics = collector
	opts.Logger = logger
	a.dispatcher = notify.NewDispatcher(opts, sinks...)

	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Sessions:   httptransport.NewSessionHandler(a.sessions, cfg.TimeZone, logger),
		Roster:     httptransport.NewRosterHandler(roster, logger),
		Attendance: httptransport.NewAttendanceHandler(attendance, logger),
		People:     httptransport.NewPeopleHandler(people, logger),
		Settings:   httptransport.NewSettingsHandler(settings, logger),
		Metrics:    reg,
		Health:     health,
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.Recoverer(logger),
		},
	})
	return a, nil
}

// buildSinks always logs events and adds every delivery channel the
// configuration enables.
func (a *app) buildSinks(ctx context.Context, people *application.PeopleService, roster *application.RosterService, attendance *application.AttendanceService) ([]notify.Sink, error) {
	sinks := []notify.Sink{notify.NewLogSink(a.logger)}

	if a.cfg.TelegramToken != "" {
		bot, err := notify.NewBotAPI(a.cfg.TelegramToken)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, notify.NewTelegramSink(bot, people, people.Unsubscribe, a.logger))
		a.presence = notify.NewPresenceListener(bot, people, attendance, a.logger)
	}

	if a.cfg.NATSURL != "" {
		conn, err := notify.ConnectNATS(a.cfg.NATSURL, "rosterd", a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { return conn.Drain() })
		sinks = append(sinks, notify.NewNATSSink(conn, a.cfg.NATSSubject))
	}

	if a.cfg.SheetsSpreadsheetID != "" {
		client, err := sheets.New(ctx, a.cfg.SheetsCredentialsFile)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sheets.NewMirror(client, roster, a.cfg.SheetsSpreadsheetID))
	}
	return sinks, nil
}

// openStore returns the configured store and a health check for it.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (persistence.Store, func(context.Context) error, error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store; rosters are lost on restart")
		return memory.New(cfg.TimeZone), nil, nil
	case "sqlite", "":
		store, err := sqlite.Open(sqlite.Options{
			Config:   migration.DefaultSQLiteConfig(cfg.SQLiteDSN),
			Location: cfg.TimeZone,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open storage: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
		return store, store.Ping, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func (a *app) Handler() http.Handler {
	return a.handler
}

// RunBackground runs the maintenance loop and, when Telegram is enabled, the
// presence listener until ctx is done.
func (a *app) RunBackground(ctx context.Context) {
	var wg sync.WaitGroup
	if a.presence != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.presence.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("presence listener stopped", "error", err)
			}
		}()
	}

	a.maintain(ctx)
	if a.cfg.MaintenanceInterval > 0 {
		ticker := time.NewTicker(a.cfg.MaintenanceInterval)
		defer ticker.Stop()
		for done := false; !done; {
			select {
			case <-ctx.Done():
				done = true
			case <-ticker.C:
				a.maintain(ctx)
			}
		}
	}
	wg.Wait()
}

// maintain expires started sessions and makes sure the next one is open.
// Failures are logged by the services and retried on the next tick.
func (a *app) maintain(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, _ = a.sessions.ExpirePastSessions(ctx)
	_, _ = a.sessions.CreateNextSession(ctx)
}

// Close drains pending notifications and releases the store and connections.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		if a.dispatcher != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := a.dispatcher.Close(ctx); err != nil {
				a.logger.Warn("notifications not fully delivered", "error", err)
			}
			cancel()
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.logger.Error("failed to close resource", "error", err)
			}
		}
	})
}
