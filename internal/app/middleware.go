package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/fuelsync/fuelsync/internal/observability"
	"github.com/fuelsync/fuelsync/internal/platform/httpx"
	"github.com/fuelsync/fuelsync/internal/shared"
)

// Request headers carrying the caller identity, set by the upstream gateway.
const (
	TenantHeader = "X-Tenant-ID"
	ActorHeader  = "X-Actor-ID"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the FuelSync middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	rateLimit := 600
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		rateLimit = cfg.Config.RateLimitPerMinute
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(rateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	return middlewares
}

// TenantMiddleware resolves the tenant and actor headers into the request context.
// Requests without a positive tenant id are rejected; the actor defaults to zero (system).
func TenantMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, err := strconv.ParseInt(r.Header.Get(TenantHeader), 10, 64)
			if err != nil || tenantID <= 0 {
				httpx.RespondError(w, shared.NewValidationError("tenant", "missing or invalid "+TenantHeader+" header"))
				return
			}
			var actorID int64
			if raw := r.Header.Get(ActorHeader); raw != "" {
				actorID, err = strconv.ParseInt(raw, 10, 64)
				if err != nil || actorID < 0 {
					httpx.RespondError(w, shared.NewValidationError("actor", "invalid "+ActorHeader+" header"))
					return
				}
			}
			ctx := shared.ContextWithTenant(r.Context(), tenantID)
			ctx = shared.ContextWithActor(ctx, actorID)
			if logger != nil {
				logger.Debug("request identity",
					slog.Int64("tenant_id", tenantID),
					slog.Int64("actor_id", actorID),
					slog.String("request_id", middleware.GetReqID(ctx)))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
