package readings

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fuelsync/fuelsync/internal/platform/httpx"
	"github.com/fuelsync/fuelsync/internal/shared"
)

// IdempotencyHeader lets clients retry reading submissions safely.
const IdempotencyHeader = "Idempotency-Key"

const idempotencyModule = "readings.create"

type readingService interface {
	CreateReading(ctx context.Context, in CreateReadingInput) (Result, error)
	VoidReading(ctx context.Context, in VoidReadingInput) (Reading, error)
	ListReadings(ctx context.Context, tenantID, nozzleID int64, limit int) ([]Reading, error)
}

// IdempotencyStore remembers processed request keys.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, tenantID int64, key, module string) error
	Delete(ctx context.Context, tenantID int64, key, module string) error
}

// Handler exposes reading ingestion over HTTP.
type Handler struct {
	logger      *slog.Logger
	service     readingService
	idempotency IdempotencyStore
	validator   *validator.Validate
}

// NewHandler constructs the handler; idempotency may be nil.
func NewHandler(logger *slog.Logger, service readingService, idempotency IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, idempotency: idempotency, validator: validator.New()}
}

// MountRoutes registers reading routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/readings", h.create)
	r.Post("/readings/{readingID}/void", h.void)
	r.Get("/nozzles/{nozzleID}/readings", h.list)
}

type createReadingRequest struct {
	NozzleID      int64            `json:"nozzle_id" validate:"required,gt=0"`
	Reading       *decimal.Decimal `json:"reading" validate:"required"`
	RecordedAt    time.Time        `json:"recorded_at" validate:"required"`
	PaymentMethod string           `json:"payment_method" validate:"required,max=16"`
	CreditorID    *int64           `json:"creditor_id,omitempty" validate:"omitempty,gt=0"`
}

type voidReadingRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

// create records a reading. A replayed Idempotency-Key whose first attempt succeeded gets
// 409 DUPLICATE_REQUEST rather than the original body; failed attempts release the key.
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := shared.TenantFromContext(ctx)
	if !ok {
		httpx.RespondError(w, shared.NewValidationError("tenant", "is required"))
		return
	}
	var req createReadingRequest
	if err := httpx.Decode(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	key := r.Header.Get(IdempotencyHeader)
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(ctx, tenantID, key, idempotencyModule); err != nil {
			if !errors.Is(err, shared.ErrIdempotencyConflict) {
				h.logger.Error("idempotency check", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
	}

	result, err := h.service.CreateReading(ctx, CreateReadingInput{
		TenantID:      tenantID,
		NozzleID:      req.NozzleID,
		Value:         *req.Reading,
		RecordedAt:    req.RecordedAt,
		PaymentMethod: req.PaymentMethod,
		CreditorID:    req.CreditorID,
		ActorID:       shared.ActorFromContext(ctx),
	})
	if err != nil {
		if key != "" && h.idempotency != nil {
			// Nothing was persisted, so the client may retry with the same key.
			if delErr := h.idempotency.Delete(context.WithoutCancel(ctx), tenantID, key, idempotencyModule); delErr != nil {
				h.logger.Error("release idempotency key", slog.Any("error", delErr))
			}
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) void(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.NewValidationError("tenant", "is required"))
		return
	}
	readingID, err := httpx.URLParamInt64(r, "readingID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req voidReadingRequest
	if err := httpx.Decode(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	reading, err := h.service.VoidReading(r.Context(), VoidReadingInput{
		TenantID:  tenantID,
		ReadingID: readingID,
		ActorID:   shared.ActorFromContext(r.Context()),
		Reason:    req.Reason,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, reading)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.NewValidationError("tenant", "is required"))
		return
	}
	nozzleID, err := httpx.URLParamInt64(r, "nozzleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			httpx.RespondError(w, shared.NewValidationError("limit", "must be an integer"))
			return
		}
	}
	readings, err := h.service.ListReadings(r.Context(), tenantID, nozzleID, limit)
	if err != nil {
		if httpx.StatusOf(err) >= http.StatusInternalServerError {
			h.logger.Error("list readings", slog.Int64("nozzle_id", nozzleID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	if readings == nil {
		readings = []Reading{}
	}
	httpx.JSON(w, http.StatusOK, readings)
}
