package reconciliation

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fuelsync/fuelsync/internal/platform/httpx"
	"github.com/fuelsync/fuelsync/internal/shared"
)

type dayService interface {
	GetDay(ctx context.Context, key DayKey) (Day, error)
	FinalizeDay(ctx context.Context, in FinalizeInput) (Day, error)
}

// Handler exposes day status and finalization.
type Handler struct {
	logger  *slog.Logger
	service dayService
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service dayService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers day routes below /stations/{stationID}/days.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stations/{stationID}/days/{date}", h.show)
	r.Post("/stations/{stationID}/days/{date}/finalize", h.finalize)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	key, err := dayKeyFromRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	day, err := h.service.GetDay(r.Context(), key)
	if err != nil {
		h.logger.Error("load day", slog.String("day", key.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, day)
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	key, err := dayKeyFromRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	day, err := h.service.FinalizeDay(r.Context(), FinalizeInput{Key: key, ActorID: shared.ActorFromContext(r.Context())})
	if err != nil {
		h.logger.Warn("finalize day", slog.String("day", key.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, day)
}

func dayKeyFromRequest(r *http.Request) (DayKey, error) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		return DayKey{}, shared.NewValidationError("tenant", "is required")
	}
	stationID, err := httpx.URLParamInt64(r, "stationID")
	if err != nil {
		return DayKey{}, err
	}
	date, err := httpx.URLParamDate(r, "date")
	if err != nil {
		return DayKey{}, err
	}
	return NewDayKey(tenantID, stationID, date), nil
}
