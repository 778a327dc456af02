package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fuelsync/fuelsync/internal/audit"
	"github.com/fuelsync/fuelsync/internal/fuelprices"
	"github.com/fuelsync/fuelsync/internal/observability"
	"github.com/fuelsync/fuelsync/internal/platform/httpx"
	"github.com/fuelsync/fuelsync/internal/readings"
	"github.com/fuelsync/fuelsync/internal/reconciliation"
	"github.com/fuelsync/fuelsync/jobs"
)

// Pinger reports whether a backing service is reachable. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger                *slog.Logger
	Config                *Config
	PriceHandler          *fuelprices.Handler
	ReadingHandler        *readings.Handler
	ReconciliationHandler *reconciliation.Handler
	AuditHandler          *audit.Handler
	JobHandler            *jobs.Handler
	Metrics               *observability.Metrics
	Database              Pinger
	// Cache is optional; a failing cache degrades readiness without failing it.
	Cache Pinger
}

// NewRouter constructs the chi.Router with FuelSync defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if params.Database != nil {
			if err := params.Database.Ping(ctx); err != nil {
				logger.Warn("readiness check", slog.String("dependency", "postgres"), slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Not Ready", "database unreachable")
				return
			}
		}
		status := map[string]string{"status": "ready", "cache": "disabled"}
		if params.Cache != nil {
			status["cache"] = "ok"
			if err := params.Cache.Ping(ctx); err != nil {
				logger.Warn("readiness check", slog.String("dependency", "redis"), slog.Any("error", err))
				status["cache"] = "degraded"
			}
		}
		httpx.JSON(w, http.StatusOK, status)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(TenantMiddleware(logger))
		if params.PriceHandler != nil {
			params.PriceHandler.MountRoutes(r)
		}
		if params.ReadingHandler != nil {
			params.ReadingHandler.MountRoutes(r)
		}
		if params.ReconciliationHandler != nil {
			params.ReconciliationHandler.MountRoutes(r)
		}
		if params.AuditHandler != nil {
			params.AuditHandler.MountRoutes(r)
		}
	})

	return r
}
