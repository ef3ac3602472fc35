package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/courier/internal/activation"
	"github.com/mattjoyce/courier/internal/auth"
	"github.com/mattjoyce/courier/internal/background"
	"github.com/mattjoyce/courier/internal/command"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/journal"
	"github.com/mattjoyce/courier/internal/protocol"
)

// DefaultMaxMessageBytes bounds a /message body.
const DefaultMaxMessageBytes = 1 << 20

// MessageHandler runs one inbound message activation.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg protocol.Message, d activation.Deferral) (protocol.Message, error)
}

// TokenSource issues completion tokens for activations.
type TokenSource interface {
	Acquire() (activation.Deferral, error)
}

// EventFirer delivers named host events to event-triggered units.
type EventFirer interface {
	FireEvent(ctx context.Context, event string) (int, error)
}

// GrantAdmin is the approval surface of the authorization provider.
type GrantAdmin interface {
	GetScopes(ctx context.Context, identity string) ([]string, error)
	Pending() []auth.PendingRequest
	PendingByID(id string) (auth.PendingRequest, bool)
	ApproveRequest(ctx context.Context, req auth.PendingRequest) error
	DenyRequest(ctx context.Context, req auth.PendingRequest) error
	RemoveScopes(ctx context.Context, identity string, scopes []string) error
}

// UnitAdmin exposes background unit state.
type UnitAdmin interface {
	Statuses() []background.Status
	Reconcile(ctx context.Context) (background.ReconcileResult, error)
}

// ActivationLog lists recent activations.
type ActivationLog interface {
	List(ctx context.Context, limit int) ([]journal.Entry, error)
}

// CommandCatalog describes the commands the host accepts.
type CommandCatalog interface {
	Descriptions() []command.Description
}

// EventSource is the consumer side of the event hub.
type EventSource interface {
	SnapshotSince(lastID int64) []events.Event
	Subscribe() (<-chan events.Event, func())
}

// Config holds API server configuration
type Config struct {
	Listen          string
	Tokens          []auth.TokenConfig
	MaxMessageBytes int64
}

// Deps are the components the server fronts. Any may be nil except Messages
// and Tokens; routes whose dependency is missing answer 501.
type Deps struct {
	Messages    MessageHandler
	Tokens      TokenSource
	Events      EventFirer
	Grants      GrantAdmin
	Units       UnitAdmin
	Activations ActivationLog
	Commands    CommandCatalog
	Stream      EventSource
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if config.MaxMessageBytes <= 0 {
		config.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Any authenticated caller may send messages; commands enforce their
		// own scopes against the grant store.
		r.Post("/message", s.handleMessage)

		r.With(s.requireScopes(auth.ScopeUnitsRW)).Post("/trigger/{event}", s.handleTrigger)

		r.With(s.requireScopes(auth.ScopeGrantsRO)).Get("/grants/pending", s.handleListPending)
		r.With(s.requireScopes(auth.ScopeGrantsRW)).Post("/grants/pending/{id}/approve", s.handleApprove)
		r.With(s.requireScopes(auth.ScopeGrantsRW)).Post("/grants/pending/{id}/deny", s.handleDeny)
		r.With(s.requireScopes(auth.ScopeGrantsRO)).Get("/grants/{identity}", s.handleGetGrants)
		r.With(s.requireScopes(auth.ScopeGrantsRW)).Post("/grants/{identity}/revoke", s.handleRevoke)

		r.With(s.requireScopes(auth.ScopeUnitsRO)).Get("/units", s.handleListUnits)
		r.With(s.requireScopes(auth.ScopeUnitsRW)).Post("/units/reconcile", s.handleReconcile)
		r.With(s.requireScopes(auth.ScopeUnitsRO)).Get("/activations", s.handleListActivations)

		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
