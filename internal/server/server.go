// Package server provides the HTTP API: asset inventories, raw series
// reads, aggregated statistics, risk profiles, and fetch triggers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/riskwatch/riskwatch/internal/analysis/risk"
	"github.com/riskwatch/riskwatch/internal/config"
	"github.com/riskwatch/riskwatch/internal/database"
	"github.com/riskwatch/riskwatch/internal/domain"
	"github.com/riskwatch/riskwatch/internal/ingest"
	"github.com/riskwatch/riskwatch/internal/storage"
)

// Config holds server configuration
type Config struct {
	Log      zerolog.Logger
	DB       *database.DB
	Config   *config.Config
	Spot     *storage.SpotRepository
	Futures  *storage.FuturesRepository
	Lending  *storage.LendingRepository
	Backfill *storage.BackfillRepository
	Risk     *risk.Engine
	Ingest   *ingest.Service
	Jobs     *ingest.JobRegistry
	Port     int
	DevMode  bool
}

// Server represents the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	db       *database.DB
	cfg      *config.Config
	spot     *storage.SpotRepository
	futures  *storage.FuturesRepository
	lending  *storage.LendingRepository
	backfill *storage.BackfillRepository
	risk     *risk.Engine
	ingest   *ingest.Service
	jobs     *ingest.JobRegistry
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      cfg.Log.With().Str("component", "server").Logger(),
		db:       cfg.DB,
		cfg:      cfg.Config,
		spot:     cfg.Spot,
		futures:  cfg.Futures,
		lending:  cfg.Lending,
		backfill: cfg.Backfill,
		risk:     cfg.Risk,
		ingest:   cfg.Ingest,
		jobs:     cfg.Jobs,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-KEY"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/assets", s.handleAssets)
		r.Get("/ohlcv/{asset}", s.handleOHLCV)

		r.Route("/futures", func(r chi.Router) {
			r.Get("/assets", s.handleFuturesAssets)
			r.Get("/funding-rates/{asset}", s.handleFundingRates)
			r.Get("/mark-price/{asset}", s.handleMarkPrice)
			r.Get("/index-price/{asset}", s.handleIndexPrice)
			r.Get("/open-interest/{asset}", s.handleOpenInterest)
		})

		r.Route("/lending", func(r chi.Router) {
			r.Get("/assets", s.handleLendingAssets)
			r.Get("/{asset}", s.handleLendingHistory)
		})

		r.Route("/aggregated-stats", func(r chi.Router) {
			r.Get("/multi", s.handleMultiAssetStats)
			r.Get("/{asset}", s.handleAssetStats)
		})

		r.Post("/analysis/risk-profile", s.handleRiskProfile)

		r.Route("/fetch", func(r chi.Router) {
			r.Use(s.apiKeyMiddleware)
			r.Post("/trigger", s.handleFetchTrigger)
			r.Get("/status/{jobID}", s.handleFetchStatus)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the route tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// apiKeyMiddleware guards the fetch endpoints with the static API key.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-KEY")
		if s.cfg.APIKey == "" || key != s.cfg.APIKey {
			s.writeError(w, http.StatusUnauthorized, "Invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

// writeDomainError maps the error taxonomy to HTTP statuses. The
// wrapped message carries the user-facing detail.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrProviderTransient), errors.Is(err, domain.ErrStorage):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrProviderPermanent):
		status = http.StatusBadGateway
	}
	if status >= 500 {
		s.log.Error().Err(err).Msg("Request failed")
	}
	s.writeError(w, status, trimErrorPrefix(err))
}

// trimErrorPrefix strips the taxonomy sentinel from the message so
// clients see only the per-request detail.
func trimErrorPrefix(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{
		domain.ErrValidation, domain.ErrNotFound,
		domain.ErrProviderTransient, domain.ErrProviderPermanent, domain.ErrStorage,
	} {
		prefix := sentinel.Error() + ": "
		if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return msg[len(prefix):]
		}
	}
	return msg
}
