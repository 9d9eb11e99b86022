// Package server wires the router, middleware chain, and endpoint set into
// one HTTP server with graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tenantstack/tenantstack/internal/audit"
	"github.com/tenantstack/tenantstack/internal/auth"
	"github.com/tenantstack/tenantstack/internal/handler"
	"github.com/tenantstack/tenantstack/internal/model"
	"github.com/tenantstack/tenantstack/internal/server/middleware"
	"github.com/tenantstack/tenantstack/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	LoginRatePerMin int
	Development     bool
	KeyExpiryCap    time.Duration
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		LoginRatePerMin: 20,
	}
}

// Server is the top-level HTTP server. It owns the Chi router, the durable
// store, the token issuer, and the audit recorder.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	tokens     *auth.TokenIssuer
	recorder   *audit.Recorder
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server, wires up all routes and middleware, and returns it
// ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, tokens *auth.TokenIssuer, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		tokens:   tokens,
		recorder: audit.NewRecorder(st, logger),
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	authn := middleware.NewAuthenticator(s.tokens, s.store, s.recorder, s.logger)
	h := handler.New(s.store, s.tokens, s.recorder, s.logger, handler.Options{
		Development:  s.cfg.Development,
		KeyExpiryCap: s.cfg.KeyExpiryCap,
	})

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api", func(r chi.Router) {

		// Credential endpoints: public, rate-limited per client IP.
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.CredentialRateLimit(s.cfg.LoginRatePerMin))
				r.Post("/register", h.Register)
				r.Post("/login", h.Login)
			})
			r.Post("/logout", h.Logout)
		})

		// Project endpoints accept either a bearer token or an API key.
		// Writes additionally require ADMIN or MANAGER for user principals;
		// machine keys pass the role gate.
		r.Route("/projects", func(r chi.Router) {
			r.Use(authn.RequireFlexible())
			r.Use(middleware.AttachTenant)

			r.Get("/", h.ListProjects)
			r.Get("/{projectId}", h.GetProject)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRolesOrAPIKey(model.RoleAdmin, model.RoleManager))
				r.Post("/", h.CreateProject)
				r.Put("/{projectId}", h.UpdateProject)
				r.Delete("/{projectId}", h.DeleteProject)
			})
		})

		// Key management: interactive admins only. Machine keys cannot mint
		// or revoke other keys.
		r.Route("/manage-keys", func(r chi.Router) {
			r.Use(authn.RequireBearer())
			r.Use(middleware.AdminOnly())
			r.Use(middleware.AttachTenant)

			r.Post("/", h.CreateAPIKey)
			r.Get("/", h.ListAPIKeys)
			r.Put("/{keyId}/revoke", h.RevokeAPIKey)
			r.Put("/{keyId}/rotate", h.RotateAPIKey)
			r.Delete("/{keyId}", h.DeleteAPIKey)
		})

		// Member management: interactive admins only.
		r.Route("/manage/users", func(r chi.Router) {
			r.Use(authn.RequireBearer())
			r.Use(middleware.AdminOnly())
			r.Use(middleware.AttachTenant)

			r.Get("/", h.ListOrganizationUsers)
			r.Patch("/{userId}/role", h.ChangeUserRole)
			r.Delete("/{userId}", h.DeleteUser)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store is
// reachable, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded","checks":{"store":"error"}}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","checks":{"store":"ok"}}`))
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests and pending audit writes before closing the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Let in-flight audit writes land before the store closes.
	s.recorder.Drain()
	s.store.Close()
	s.logger.Info("server stopped")
	return nil
}

// Recorder returns the audit recorder, useful for draining in tests.
func (s *Server) Recorder() *audit.Recorder {
	return s.recorder
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
