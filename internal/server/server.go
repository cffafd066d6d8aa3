package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/trialkey-service/internal/config"
	"github.com/trialkey-service/internal/handler"
	"github.com/trialkey-service/internal/handler/admin"
	"github.com/trialkey-service/internal/metrics"
	"github.com/trialkey-service/internal/middleware"
	"github.com/trialkey-service/internal/service"
)

const adminAuthWindow = 5 * time.Minute

// Server owns the router and the HTTP listener.
type Server struct {
	cfg        *config.Config
	keys       *service.KeyService
	sweeper    admin.Sweeper
	metrics    *metrics.Metrics
	router     chi.Router
	httpServer *http.Server
}

// New wires every route and middleware. m may be nil, in which case
// /metrics is not mounted.
func New(cfg *config.Config, keys *service.KeyService, sw admin.Sweeper, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		keys:    keys,
		sweeper: sw,
		metrics: m,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if s.cfg.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))
	r.Use(middleware.FloodGuard(s.cfg.GlobalRateLimit))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, http.StatusNotFound, "not_found", "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	r.Method(http.MethodGet, "/health", handler.NewHealthHandler(s.keys))
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	generateLimiter := middleware.NewRateLimiter("generate", s.cfg.GenerateRateLimit, s.cfg.GenerateRateWindow)
	validateLimiter := middleware.NewRateLimiter("validate", s.cfg.ValidateRateLimit, s.cfg.ValidateRateWindow)
	authLimiter := middleware.NewAuthAttemptLimiter(s.cfg.AdminMaxAuthFailures, adminAuthWindow, 0)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/info", handler.NewInfoHandler(s.cfg.KeyPrefix, s.cfg.RequiredTasks, s.cfg.KeyValidity, s.cfg.TaskRecencyWindow))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireJSON)

			r.With(generateLimiter.Middleware("Too many key requests from this address, try again later")).
				Method(http.MethodPost, "/generate-key", handler.NewGenerateKeyHandler(s.keys))
			r.With(validateLimiter.Middleware("Too many validation requests from this address, try again later")).
				Method(http.MethodPost, "/validate-key", handler.NewValidateKeyHandler(s.keys))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminTokenAuth(s.cfg.AdminToken, authLimiter))

			r.Method(http.MethodGet, "/keys", admin.NewListKeysHandler(s.keys))
			if s.sweeper != nil {
				r.Method(http.MethodPost, "/sweep", admin.NewSweepHandler(s.sweeper))
			}
		})
	})

	s.router = r
}

// ListenAndServe serves until ctx is cancelled and then drains in-flight
// requests within the configured shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
