// Package server is the relay's REST + WebSocket transport: session
// lifecycle CRUD, history replay, and the session-scoped duplex
// WebSocket endpoint that streams journal entries and forwards client
// commands to the channel supervisor.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/forgerelay/relay/internal/environment"
	"github.com/forgerelay/relay/internal/event"
	"github.com/forgerelay/relay/internal/journal"
	"github.com/forgerelay/relay/internal/logging"
	"github.com/forgerelay/relay/internal/sandboxmgr"
	"github.com/forgerelay/relay/internal/secrets"
	"github.com/forgerelay/relay/internal/session"
)

// Config holds server-level HTTP settings.
type Config struct {
	Host         string
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sane HTTP defaults. WriteTimeout is zero: the
// WebSocket endpoint and REST history reads are both potentially
// long-lived or large and manage their own deadlines.
func DefaultConfig() Config {
	return Config{
		Host:        "127.0.0.1",
		Port:        8080,
		EnableCORS:  true,
		ReadTimeout: 30 * time.Second,
	}
}

// Version is stamped at build time via -ldflags; "dev" otherwise.
var Version = "dev"

// Server is the relay's HTTP/WebSocket server.
type Server struct {
	cfg      Config
	router   *chi.Mux
	httpSrv  *http.Server
	sessions *session.Service
	sandbox  *sandboxmgr.Manager
	journal  *journal.Journal
	secrets  *secrets.Store
	envs     *environment.Store
	runtimes *runtimeRegistry
	events   *event.Bus
}

// New constructs a Server wired to the core components.
func New(cfg Config, sessions *session.Service, sandbox *sandboxmgr.Manager, j *journal.Journal, secretsStore *secrets.Store, envs *environment.Store, now func() string) *Server {
	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		sessions: sessions,
		sandbox:  sandbox,
		journal:  j,
		secrets:  secretsStore,
		envs:     envs,
		runtimes: newRuntimeRegistry(j, sandbox, sessions, now),
		events:   event.New(),
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(loggingMiddleware)
	if cfg.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			AllowedHeaders: []string{"Content-Type"},
		}))
	}
	s.setupRoutes()
	return s
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

// Handler returns the router, usable for tests via httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Events returns the session lifecycle bus, letting callers outside the
// HTTP layer (e.g. the CLI's logging setup) subscribe to notifications.
func (s *Server) Events() *event.Bus { return s.events }

// ListenAndServe starts the HTTP server and blocks until it exits.
func (s *Server) ListenAndServe(addr string) error {
	s.httpSrv = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.cfg.ReadTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	_ = s.events.Close()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(context.Background())
}
