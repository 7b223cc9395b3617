package handlers

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"

	"leadledger/internal/ledger"
)

func jsonResponse(ctx *fasthttp.RequestCtx, status int, data any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(data)
	ctx.SetBody(body)
}

// errResponse maps ledger error kinds onto HTTP statuses and emits a small
// JSON error object.
func errResponse(ctx *fasthttp.RequestCtx, err error) {
	status := fasthttp.StatusInternalServerError
	kind := "internal"
	switch {
	case errors.Is(err, ledger.ErrLeadNotFound):
		status, kind = fasthttp.StatusNotFound, "lead_not_found"
	case errors.Is(err, ledger.ErrAlertNotFound):
		status, kind = fasthttp.StatusNotFound, "alert_not_found"
	case errors.Is(err, ledger.ErrEventNotFound):
		status, kind = fasthttp.StatusNotFound, "event_not_found"
	case errors.Is(err, ledger.ErrConflictingTerminalOutcome):
		status, kind = fasthttp.StatusConflict, "conflicting_terminal_outcome"
	case errors.Is(err, ledger.ErrFutureOccurredAt):
		status, kind = fasthttp.StatusUnprocessableEntity, "future_occurred_at"
	case errors.Is(err, ledger.ErrInvalidOutcomeType):
		status, kind = fasthttp.StatusUnprocessableEntity, "invalid_outcome_type"
	case errors.Is(err, ledger.ErrValidationFailed):
		status, kind = fasthttp.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, ledger.ErrStorageUnavailable):
		status, kind = fasthttp.StatusServiceUnavailable, "storage_unavailable"
	}
	jsonResponse(ctx, status, map[string]any{
		"error":  kind,
		"detail": err.Error(),
	})
}

func badRequest(ctx *fasthttp.RequestCtx, msg string) {
	jsonResponse(ctx, fasthttp.StatusBadRequest, map[string]any{
		"error":  "bad_request",
		"detail": msg,
	})
}
