package audit

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/fuelsync/fuelsync/internal/platform/httpx"
	"github.com/fuelsync/fuelsync/internal/shared"
)

const (
	exportRateLimit  = 10
	exportRateWindow = time.Minute
)

type timelineService interface {
	Timeline(ctx context.Context, filters TimelineFilters) (Result, error)
	Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error)
}

// Handler exposes the audit trail.
type Handler struct {
	logger  *slog.Logger
	service timelineService
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service timelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the timeline and its CSV export.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/audit-logs", h.timeline)
	r.Group(func(gr chi.Router) {
		gr.Use(httprate.Limit(exportRateLimit, exportRateWindow,
			httprate.WithKeyFuncs(exportRateKey),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "export rate limit reached")
			}),
		))
		gr.Get("/audit-logs/export.csv", h.export)
	})
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logFailure("audit timeline", filters, err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.logFailure("audit export", filters, err)
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-logs.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := writeCSV(w, rows); err != nil {
		h.logger.Warn("write audit csv", slog.Any("error", err))
	}
}

func writeCSV(w io.Writer, rows []TimelineRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"event_id", "at", "actor_id", "action", "entity", "entity_id", "meta"}); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.EventID.String(),
			row.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(row.ActorID, 10),
			row.Action,
			row.Entity,
			row.EntityID,
			string(row.Meta),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseFilters(r *http.Request) (TimelineFilters, error) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		return TimelineFilters{}, shared.NewValidationError("tenant", "is required")
	}
	q := r.URL.Query()
	filters := TimelineFilters{
		TenantID: tenantID,
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		Action:   q.Get("action"),
	}
	var err error
	if filters.From, err = httpx.QueryTime(r, "from", time.Time{}); err != nil {
		return filters, err
	}
	if filters.To, err = httpx.QueryTime(r, "to", time.Time{}); err != nil {
		return filters, err
	}
	if filters.ActorID, err = queryInt64(r, "actor_id"); err != nil {
		return filters, err
	}
	page, err := queryInt64(r, "page")
	if err != nil {
		return filters, err
	}
	size, err := queryInt64(r, "page_size")
	if err != nil {
		return filters, err
	}
	filters.Page, filters.PageSize = int(page), int(size)
	return filters, nil
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, shared.NewValidationError(name, "must be a non-negative integer")
	}
	return v, nil
}

func exportRateKey(r *http.Request) (string, error) {
	if tenantID, ok := shared.TenantFromContext(r.Context()); ok {
		return "tenant:" + strconv.FormatInt(tenantID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func (h *Handler) logFailure(op string, f TimelineFilters, err error) {
	if httpx.StatusOf(err) < http.StatusInternalServerError {
		h.logger.Info(op+" rejected", slog.Int64("tenant_id", f.TenantID), slog.String("code", string(shared.CodeOf(err))))
		return
	}
	h.logger.Error(op+" failed", slog.Int64("tenant_id", f.TenantID), slog.Any("error", err))
}
