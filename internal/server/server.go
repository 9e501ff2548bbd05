// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware, and
// routes, and decides:
//   - Which URL patterns map to which handler functions
//   - What middleware runs on which routes
//   - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  sqlite.DB ─┬→ UserService ──┐
//	  Uploader  ─┘                ├→ UserHandler → routes
//	  sqlite.DB ──→ ChannelService┘
//	  TokenService → auth.RequireAuth middleware
//
// This is the "composition root" pattern: every dependency is built in one
// place (New/setupRoutes) instead of being scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/sakif/videotube/internal/auth"
	"github.com/sakif/videotube/internal/config"
	"github.com/sakif/videotube/internal/handler"
	"github.com/sakif/videotube/internal/media"
	"github.com/sakif/videotube/internal/middleware"
	sqliteRepo "github.com/sakif/videotube/internal/repository/sqlite"
	"github.com/sakif/videotube/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection. Start closes it during graceful
// shutdown; callers that never Start (tests, CLI commands) call Close.
type Server struct {
	router    *chi.Mux
	config    *config.Config
	logger    *slog.Logger
	db        *sqliteRepo.DB
	uploader  media.Uploader
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	// staticDir is served under staticPath when media is stored locally.
	staticDir  string
	staticPath string
}

// Option customises New. Tests use them to swap the media backend.
type Option func(*Server)

// WithUploader replaces the media backend chosen by the config.
func WithUploader(u media.Uploader) Option {
	return func(s *Server) { s.uploader = u }
}

// WithPasswordCost sets the bcrypt cost. Tests lower it to keep hashing fast.
func WithPasswordCost(cost int) Option {
	return func(s *Server) { s.passwords = auth.NewPasswordServiceWithCost(cost) }
}

// New creates a Server from cfg.
//
// IMPORT ALIAS:
// repository/sqlite is imported as `sqliteRepo` to avoid confusion with the
// sqlite driver package.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  cfg.Auth.AccessSecret,
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshSecret: cfg.Auth.RefreshSecret,
		RefreshTTL:    cfg.Auth.RefreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	// === CREATE DATABASE ===
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		logger:    logger,
		db:        db,
		tokens:    tokens,
		passwords: auth.NewPasswordService(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.uploader == nil {
		if err := s.setupMedia(); err != nil {
			db.Close() // Clean up DB if media setup fails
			return nil, err
		}
	}

	s.setupRoutes()
	return s, nil
}

// setupMedia builds the configured media backend.
func (s *Server) setupMedia() error {
	switch s.config.Media.Backend {
	case config.MediaS3:
		c := s.config.Media.S3
		store, err := media.NewS3Store(context.Background(), media.S3Config{
			Bucket:    c.Bucket,
			Region:    c.Region,
			Endpoint:  c.Endpoint,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
			PublicURL: c.PublicURL,
		})
		if err != nil {
			return fmt.Errorf("creating s3 media store: %w", err)
		}
		s.uploader = store

	default:
		store, err := media.NewLocalStore(s.config.Media.Dir, s.config.Media.BaseURL)
		if err != nil {
			return fmt.Errorf("creating local media store: %w", err)
		}
		s.uploader = store
		s.staticDir = store.Dir()
		s.staticPath = mountPath(s.config.Media.BaseURL)
	}
	return nil
}

// mountPath extracts the path part of a media base URL ("/static" for
// "http://localhost:8000/static").
func mountPath(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || strings.Trim(u.Path, "/") == "" {
		return "/static"
	}
	return "/" + strings.Trim(u.Path, "/")
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET  /healthz                        → database ping
//	GET  /test/error                     → always 500 (envelope check)
//	GET  /static/*                       → uploaded media (local backend only)
//	POST /api/v1/user/register           → multipart registration
//	POST /api/v1/user/login              → credentials → cookies + tokens
//	POST /api/v1/user/refresh-token      → rotate token pair
//	POST /api/v1/user/logout             → [auth] revoke session
//	POST /api/v1/user/change-password    → [auth]
//	GET  /api/v1/user/c/{username}       → [auth] channel profile
//	GET  /api/v1/user/history            → [auth] watch history
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: assigns a unique ID to each request (logged by Logger)
//  2. RealIP: extracts the client IP from proxy headers
//  3. Recoverer: turns panics into 500 instead of crashing
//  4. Logger: one line per request
//  5. CORS: credentials allowed, so origins must be explicit
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(cors.New(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler)

	s.router.NotFound(handler.NotFound)
	s.router.MethodNotAllowed(handler.MethodNotAllowed)

	healthHandler := handler.NewHealthHandler(s.db, s.logger)
	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Get("/test/error", healthHandler.HandleTestError)

	// === Static Files ===
	// GET /static/abc.png → serves {Media.Dir}/abc.png
	if s.staticDir != "" {
		fileServer := http.FileServer(http.Dir(s.staticDir))
		s.router.Handle(s.staticPath+"/*", http.StripPrefix(s.staticPath+"/", fileServer))
	}

	// === API Routes ===
	// DEPENDENCY CHAIN:
	//   s.db implements both repository.UserRepository and ChannelRepository
	//   the services receive the interfaces, the handler receives the services
	userService := service.NewUserService(s.db, s.tokens, s.passwords, s.uploader, s.logger)
	channelService := service.NewChannelService(s.db)
	userHandler := handler.NewUserHandler(userService, channelService, handler.CookieOptions{
		Secure:     s.config.CookieSecure,
		AccessTTL:  s.config.Auth.AccessTTL,
		RefreshTTL: s.config.Auth.RefreshTTL,
	}, s.config.MaxUploadBytes, s.logger)

	s.router.Route("/api/v1/user", func(r chi.Router) {
		r.Post("/register", userHandler.HandleRegister)
		r.Post("/login", userHandler.HandleLogin)
		r.Post("/refresh-token", userHandler.HandleRefreshToken)

		// Secured routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(s.tokens, s.db))
			r.Post("/logout", userHandler.HandleLogout)
			r.Post("/change-password", userHandler.HandleChangePassword)
			r.Get("/c/{username}", userHandler.HandleChannelProfile)
			r.Get("/history", userHandler.HandleWatchHistory)
		})
	})
}

// Handler exposes the router, e.g. for httptest.NewServer.
func (s *Server) Handler() http.Handler {
	return s.router
}

// DB exposes the database for commands that run next to the server.
func (s *Server) DB() *sqliteRepo.DB {
	return s.db
}

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start starts the HTTP server and handles graceful shutdown:
//  1. Stop accepting new connections on SIGINT/SIGTERM
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the database (flushes WAL, releases the file lock)
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.String("media", s.config.Media.Backend),
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
