package handlers

import (
	"github.com/valyala/fasthttp"

	"leadledger/internal/ledger"
)

// OutcomeEventDetail returns a single event from the log by id, including its
// frozen attribution snapshot and any correction metadata.
func OutcomeEventDetail(store *ledger.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		tenant, ok := MustTenant(ctx)
		if !ok {
			return
		}

		eventID, _ := ctx.UserValue("event_id").(string)
		event, err := store.OutcomeEventByID(ctx, tenant.ID, eventID)
		if err != nil {
			errResponse(ctx, err)
			return
		}

		view := outcomeEventView{
			ID:          event.ID,
			OutcomeType: event.OutcomeType,
			Stage:       event.Stage,
			OccurredAt:  event.OccurredAt,
			RecordedBy:  event.RecordedBy,
			Notes:       event.Notes,
			Metadata:    event.Metadata,
			CreatedAt:   event.CreatedAt,
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{
			"event":   view,
			"lead_id": event.LeadID,
		})
	}
}
