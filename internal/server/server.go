// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects stores, services,
// handlers and middleware, and decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.Config and passes it to New, which creates:
//
//	sqldb.DB ──────────────┬─→ AuthService ──→ AuthHandler, AccountHandler
//	(redisstore.Store) ────┴─→ SessionService ─→ LoadPrincipal, AuthHandler
//	                                   └─→ SessionPruner
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/mineshare/internal/auth"
	"github.com/sakif/mineshare/internal/config"
	"github.com/sakif/mineshare/internal/handler"
	"github.com/sakif/mineshare/internal/mail"
	"github.com/sakif/mineshare/internal/middleware"
	"github.com/sakif/mineshare/internal/repository"
	"github.com/sakif/mineshare/internal/repository/redisstore"
	"github.com/sakif/mineshare/internal/repository/sqldb"
	"github.com/sakif/mineshare/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database pool, the optional Redis client and the
// session pruner goroutine. Start releases all three on shutdown; tests that
// never call Start use Close.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger

	db     *sqldb.DB
	redis  *redis.Client // nil unless session.store is "redis"
	pruner *service.SessionPruner

	authService    *service.AuthService
	sessionService *service.SessionService
	cookies        *auth.SessionCookies
	google         *auth.GoogleProvider // nil unless Google login is configured
}

// New creates a Server from cfg.
//
// mailer may be nil, in which case it is chosen from the config: SMTP when
// smtp.host is set, otherwise a mailer that only logs the link.
func New(cfg *config.Config, logger *slog.Logger, mailer mail.Mailer) (*Server, error) {
	// === CREATE DATABASE ===
	db, err := sqldb.New(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
		db:     db,
	}

	// === SESSION STORE ===
	var sessions repository.SessionRepository = db
	if cfg.Session.Store == config.SessionStoreRedis {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		sessions = redisstore.New(s.redis)
	}

	// === MAIL ===
	if mailer == nil {
		if cfg.SMTPEnabled() {
			mailer = mail.NewSMTPMailer(mail.SMTPConfig{
				Host:     cfg.SMTP.Host,
				Port:     cfg.SMTP.Port,
				Username: cfg.SMTP.Username,
				Password: cfg.SMTP.Password,
				From:     cfg.SMTP.From,
			})
		} else {
			logger.Warn("smtp.host not set, confirmation links are only logged")
			mailer = mail.NewLogMailer(logger)
		}
	}

	// === AUTH ===
	signer, err := auth.NewCookieSigner(cfg.Session.Secret)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating cookie signer: %w", err)
	}
	s.cookies = auth.NewSessionCookies(signer, cfg.Session.CookieSecure)

	if cfg.GoogleEnabled() {
		s.google = auth.NewGoogleProvider(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.CallbackURL)
	}

	// === SERVICES ===
	s.authService = service.NewAuthService(db, auth.NewPasswordService(), mailer, cfg.BaseURL, logger)
	s.sessionService = service.NewSessionService(sessions, db, cfg.Session.TTL, logger)
	s.pruner = service.NewSessionPruner(s.sessionService, cfg.Session.PruneInterval, logger)

	s.setupRoutes()

	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /                            → Landing data (JSON)
// GET    /healthz                     → Store health check
// POST   /register                    → Create account
// POST   /register/resend             → Re-send confirmation mail
// POST   /login                       → Email/password login
// GET    /logout                      → End session
// GET    /auth/google                 → Google consent redirect   [if configured]
// GET    /auth/google/callback        → Google login completion   [if configured]
// GET    /account/confirm/{token}     → Redeem confirmation link  (no login needed)
// GET    /account                     → Account data              [auth]
// POST   /account/username-change     → Set display name          [auth]
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns a unique ID to each request (for tracing)
// 2. RealIP: extracts the real client IP from proxy headers
// 3. Logger: logs each request with timing info and the request ID
// 4. Recoverer: catches panics and returns 500 instead of crashing
// 5. LoadPrincipal: resolves the session cookie into a user
func (s *Server) setupRoutes() {
	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(auth.LoadPrincipal(s.cookies, s.sessionService, s.logger))

	// Handlers see the services only through their interfaces.
	var google handler.OAuthProvider
	if s.google != nil {
		google = s.google
	}
	authHandler := handler.NewAuthHandler(s.authService, s.sessionService, s.cookies, google, s.logger)
	accountHandler := handler.NewAccountHandler(s.authService, s.logger)

	// === Public Routes ===
	s.router.Get("/", handler.HandleLanding)
	s.router.Get("/healthz", s.handleHealth)

	s.router.Post("/register", authHandler.HandleRegister)
	s.router.Post("/register/resend", authHandler.HandleResend)
	s.router.Post("/login", authHandler.HandleLogin)
	s.router.Get("/logout", authHandler.HandleLogout)

	if google != nil {
		s.router.Get("/auth/google", authHandler.HandleGoogleLogin)
		s.router.Get("/auth/google/callback", authHandler.HandleGoogleCallback)
	}

	// === Account Routes ===
	// The confirmation link is opened from a mail client, usually without a
	// session, so it sits outside the guarded group.
	s.router.Get("/account/confirm/{token}", authHandler.HandleConfirm)

	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Get("/account", accountHandler.HandleAccount)
		r.Post("/account/username-change", accountHandler.HandleUsernameChange)
	})
}

// Handler returns the fully wired router. Tests drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth pings every store the server depends on.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.logger.Error("health check: database", slog.String("error", err.Error()))
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.logger.Error("health check: redis", slog.String("error", err.Error()))
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Stop the session pruner
// 4. Close Redis and the database pool
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.pruner.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Port),
			slog.String("url", s.cfg.BaseURL),
			slog.String("env", s.cfg.Env),
			slog.String("db_driver", s.cfg.DB.Driver),
			slog.String("session_store", s.cfg.Session.Store),
			slog.Bool("google_login", s.google != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// Close stops the pruner and releases the stores. Safe to call more than
// once.
func (s *Server) Close() error {
	if s.pruner != nil {
		s.pruner.Stop()
	}

	var errs []error
	if s.redis != nil {
		if err := s.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, fmt.Errorf("closing redis: %w", err))
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	return errors.Join(errs...)
}
