// Package api serves the scoring endpoints, zone administration and the
// operational views over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"safeguard/internal/alerts"
	"safeguard/internal/config"
	"safeguard/internal/engine"
	"safeguard/internal/geofence"
	"safeguard/internal/metrics"
	"safeguard/internal/model"
	"safeguard/internal/registry"
)

// ZoneStore persists administered zones. Nil when storage is disabled.
type ZoneStore interface {
	ReplaceZones(ctx context.Context, zones []model.RiskZone) error
}

// ZoneReplacer publishes an administered zone set so later refreshes keep
// it. Nil falls back to replacing the evaluator directly.
type ZoneReplacer interface {
	Replace(zones []model.RiskZone) error
}

type Server struct {
	cfg      *config.Manager
	registry *registry.Registry
	engine   *engine.Engine
	zones    *geofence.Evaluator
	admin    ZoneReplacer
	store    ZoneStore
	metrics  *metrics.Store
	alerts   *alerts.Store
	logger   *slog.Logger
	version  string
}

type Options struct {
	Config    *config.Manager
	Registry  *registry.Registry
	Engine    *engine.Engine
	Zones     *geofence.Evaluator
	ZoneAdmin ZoneReplacer
	Store     ZoneStore
	Metrics   *metrics.Store
	Alerts    *alerts.Store
	Logger    *slog.Logger
	Version   string
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var admin ZoneReplacer = opts.Zones
	if opts.ZoneAdmin != nil {
		admin = opts.ZoneAdmin
	}
	return &Server{
		cfg:      opts.Config,
		registry: opts.Registry,
		engine:   opts.Engine,
		zones:    opts.Zones,
		admin:    admin,
		store:    opts.Store,
		metrics:  opts.Metrics,
		alerts:   opts.Alerts,
		logger:   logger,
		version:  opts.Version,
	}
}

func (s *Server) Routes() http.Handler {
	current := s.cfg.Get().API
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics/prometheus", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if current.RateLimitRequests > 0 {
			r.Use(httprate.Limit(
				current.RateLimitRequests,
				current.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
				}),
			))
		}
		r.Post("/predict/anomaly", s.handlePredictAnomaly)
		r.Post("/predict/risk", s.handlePredictRisk)
		r.Post("/analyze/safety-score", s.handleSafetyScore)
		r.Post("/telemetry", s.handleTelemetry)
		r.Post("/geofence/check", s.handleGeofenceCheck)
	})

	r.Get("/zones", s.handleListZones)
	r.Put("/zones", s.handleReplaceZones)
	r.Get("/zones/nearby", s.handleNearbyZones)

	r.Get("/status", s.handleStatus)
	r.Get("/alerts", s.handleAlerts)
	r.Get("/devices", s.handleDevices)
	r.Get("/devices/{id}", s.handleDevice)
	r.Post("/admin/clear", s.handleClear)
	r.Post("/admin/reload-models", s.handleReloadModels)
	return r
}

func Start(ctx context.Context, s *Server) *http.Server {
	current := s.cfg.Get().API
	if !current.Enabled {
		s.logger.Info("api disabled")
		return nil
	}
	s.logger.Info("api enabled", "addr", current.Addr)
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
		}
	}()
	return httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
		"models_loaded": s.registry.Loaded(),
	})
}
