// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/fuelsync/fuelsync/internal/shared"
)

// RetryAfterSeconds is advertised on retryable conflicts.
const RetryAfterSeconds = "1"

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	code := shared.CodeOf(err)
	switch code {
	case shared.CodeValidation:
		ProblemWithCode(w, http.StatusUnprocessableEntity, "Validation Failed", string(code), err.Error())
	case shared.CodeInvalidPrice:
		ProblemWithCode(w, http.StatusUnprocessableEntity, "Invalid Price", string(code), err.Error())
	case shared.CodeNoPriceDefined:
		ProblemWithCode(w, http.StatusUnprocessableEntity, "No Price Defined", string(code), err.Error())
	case shared.CodeOverlappingPriceRange:
		ProblemWithCode(w, http.StatusConflict, "Overlapping Price Range", string(code), err.Error())
	case shared.CodeDayFinalized:
		ProblemWithCode(w, http.StatusConflict, "Day Finalized", string(code), err.Error())
	case shared.CodeConcurrencyConflict:
		w.Header().Set("Retry-After", RetryAfterSeconds)
		ProblemWithCode(w, http.StatusServiceUnavailable, "Concurrency Conflict", string(code), "concurrent update in progress, retry the request")
	case shared.CodeNotFound:
		ProblemWithCode(w, http.StatusNotFound, "Not Found", string(code), err.Error())
	default:
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			ProblemWithCode(w, http.StatusConflict, "Duplicate Request", "DUPLICATE_REQUEST", err.Error())
			return
		}
		ProblemWithCode(w, http.StatusInternalServerError, "Internal Error", string(shared.CodeInternal), "")
	}
}

// StatusOf returns the HTTP status RespondError would write for err.
func StatusOf(err error) int {
	switch shared.CodeOf(err) {
	case shared.CodeValidation, shared.CodeInvalidPrice, shared.CodeNoPriceDefined:
		return http.StatusUnprocessableEntity
	case shared.CodeOverlappingPriceRange, shared.CodeDayFinalized:
		return http.StatusConflict
	case shared.CodeConcurrencyConflict:
		return http.StatusServiceUnavailable
	case shared.CodeNotFound:
		return http.StatusNotFound
	}
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
