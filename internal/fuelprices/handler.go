package fuelprices

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fuelsync/fuelsync/internal/platform/httpx"
	"github.com/fuelsync/fuelsync/internal/shared"
)

type priceService interface {
	CreateFuelPrice(ctx context.Context, in CreatePriceInput) (Interval, error)
	CachedEffectivePrice(ctx context.Context, key Key, at time.Time) (Interval, error)
	ListIntervals(ctx context.Context, key Key) ([]Interval, error)
}

// Handler exposes price timelines over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   priceService
	validator *validator.Validate
	now       func() time.Time
}

// NewHandler constructs the price handler.
func NewHandler(logger *slog.Logger, service priceService) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), now: time.Now}
}

// MountRoutes registers price routes below /stations/{stationID}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stations/{stationID}/prices", h.create)
	r.Get("/stations/{stationID}/prices", h.list)
	r.Get("/stations/{stationID}/prices/effective", h.effective)
}

type createPriceRequest struct {
	FuelType      string           `json:"fuel_type" validate:"required,max=32"`
	Price         *decimal.Decimal `json:"price" validate:"required"`
	EffectiveFrom time.Time        `json:"effective_from" validate:"required"`
}

type effectivePriceResponse struct {
	FuelType   string          `json:"fuel_type"`
	At         time.Time       `json:"at"`
	Price      decimal.Decimal `json:"price"`
	IntervalID int64           `json:"interval_id"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	key, err := h.stationKey(r, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createPriceRequest
	if err := httpx.Decode(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	key.FuelType = req.FuelType
	interval, err := h.service.CreateFuelPrice(r.Context(), CreatePriceInput{
		Key:           key,
		Price:         *req.Price,
		EffectiveFrom: req.EffectiveFrom,
		ActorID:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logFailure("create fuel price", key, err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, interval)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	key, err := h.stationKey(r, r.URL.Query().Get("fuel_type"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	intervals, err := h.service.ListIntervals(r.Context(), key)
	if err != nil {
		h.logFailure("list fuel prices", key, err)
		httpx.RespondError(w, err)
		return
	}
	if intervals == nil {
		intervals = []Interval{}
	}
	httpx.JSON(w, http.StatusOK, intervals)
}

func (h *Handler) effective(w http.ResponseWriter, r *http.Request) {
	key, err := h.stationKey(r, r.URL.Query().Get("fuel_type"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	at, err := httpx.QueryTime(r, "at", h.now())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	interval, err := h.service.CachedEffectivePrice(r.Context(), key, at)
	if err != nil {
		h.logFailure("effective fuel price", key, err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, effectivePriceResponse{
		FuelType:   interval.FuelType,
		At:         at,
		Price:      interval.Price,
		IntervalID: interval.ID,
	})
}

func (h *Handler) stationKey(r *http.Request, fuelType string) (Key, error) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		return Key{}, shared.NewValidationError("tenant", "is required")
	}
	stationID, err := httpx.URLParamInt64(r, "stationID")
	if err != nil {
		return Key{}, err
	}
	return Key{TenantID: tenantID, StationID: stationID, FuelType: fuelType}, nil
}

func (h *Handler) logFailure(op string, key Key, err error) {
	if httpx.StatusOf(err) < http.StatusInternalServerError {
		h.logger.Info(op+" rejected", slog.String("key", key.String()), slog.String("code", string(shared.CodeOf(err))))
		return
	}
	h.logger.Error(op+" failed", slog.String("key", key.String()), slog.Any("error", err))
}
