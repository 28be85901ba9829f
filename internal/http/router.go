package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	Sessions   *SessionHandler
	Roster     *RosterHandler
	Attendance *AttendanceHandler
	People     *PeopleHandler
	Settings   *SettingsHandler
	// Metrics, when set, is served on /metrics.
	Metrics prometheus.Gatherer
	// Health, when set, backs /healthz; a nil Health always reports ok.
	Health     func(ctx context.Context) error
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		if cfg.Health != nil {
			if err := cfg.Health(r.Context()); err != nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}

	if cfg.People != nil {
		mux.HandleFunc("/people", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.People.List(w, r)
			case http.MethodPost:
				cfg.People.Register(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost)
			}
		})
		mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.People.Statistics(w, r)
		})
		mux.HandleFunc("/people/", func(w http.ResponseWriter, r *http.Request) {
			externalID, action, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/people/"), "/")
			if externalID == "" || action != "subscription" {
				http.NotFound(w, r)
				return
			}
			if r.Method != http.MethodPut {
				methodNotAllowed(w, http.MethodPut)
				return
			}
			cfg.People.SetSubscription(w, r, externalID)
		})
	}

	if cfg.Sessions != nil {
		mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Sessions.List(w, r)
			case http.MethodPost:
				cfg.Sessions.Create(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost)
			}
		})
		mux.HandleFunc("/maintenance/expire", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			cfg.Sessions.Expire(w, r)
		})
	}

	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		id, action, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/")
		if id == "" || strings.Contains(action, "/") {
			http.NotFound(w, r)
			return
		}
		if id == "next" && action == "" && cfg.Sessions != nil {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			cfg.Sessions.CreateNext(w, r)
			return
		}

		r = r.WithContext(ContextWithSessionID(r.Context(), id))
		if !routeSession(cfg, w, r, action) {
			http.NotFound(w, r)
		}
	})

	if cfg.Settings != nil {
		mux.HandleFunc("/settings", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Settings.Get(w, r)
			case http.MethodPut:
				cfg.Settings.Update(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPut)
			}
		})
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}

// routeSession dispatches /sessions/{id}[/{action}]. It reports false when no
// configured handler owns the path.
func routeSession(cfg RouterConfig, w http.ResponseWriter, r *http.Request, action string) bool {
	type route struct {
		method  string
		handler func(http.ResponseWriter, *http.Request)
	}

	var routes []route
	switch {
	case action == "" && cfg.Sessions != nil:
		routes = []route{{http.MethodGet, cfg.Sessions.Get}, {http.MethodDelete, cfg.Sessions.Cancel}}
	case action == "roster" && cfg.Roster != nil:
		routes = []route{{http.MethodGet, cfg.Roster.Roster}}
	case action == "join" && cfg.Roster != nil:
		routes = []route{{http.MethodPost, cfg.Roster.Join}}
	case action == "leave" && cfg.Roster != nil:
		routes = []route{{http.MethodPost, cfg.Roster.Leave}}
	case action == "reduce" && cfg.Roster != nil:
		routes = []route{{http.MethodPost, cfg.Roster.Reduce}}
	case action == "capacity" && cfg.Roster != nil:
		routes = []route{{http.MethodPut, cfg.Roster.SetCapacity}}
	case action == "presence" && cfg.Attendance != nil:
		routes = []route{{http.MethodPost, cfg.Attendance.ConfirmPresence}}
	case action == "reminders" && cfg.Attendance != nil:
		routes = []route{{http.MethodPost, cfg.Attendance.SendReminders}}
	case action == "auto-leave" && cfg.Attendance != nil:
		routes = []route{{http.MethodPost, cfg.Attendance.AutoLeave}}
	default:
		return false
	}

	allowed := make([]string, 0, len(routes))
	for _, rt := range routes {
		if r.Method == rt.method {
			rt.handler(w, r)
			return true
		}
		allowed = append(allowed, rt.method)
	}
	methodNotAllowed(w, allowed...)
	return true
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
