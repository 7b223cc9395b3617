package handlers

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"

	"leadledger/internal/ledger"
)

type alertView struct {
	ID        string         `json:"id"`
	Category  string         `json:"category"`
	Code      string         `json:"code"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Evidence  map[string]any `json:"evidence,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListAlerts serves the tenant's undismissed alerts, newest first.
func ListAlerts(store *ledger.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		tenant, ok := MustTenant(ctx)
		if !ok {
			return
		}

		alerts, err := store.ListAlerts(ctx, tenant.ID)
		if err != nil {
			errResponse(ctx, err)
			return
		}

		views := make([]alertView, 0, len(alerts))
		for _, a := range alerts {
			views = append(views, alertView{
				ID:        a.ID,
				Category:  a.Category,
				Code:      a.Code,
				Severity:  a.Severity,
				Message:   a.Message,
				Evidence:  a.Evidence,
				CreatedAt: a.CreatedAt,
			})
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"alerts": views})
	}
}

type dismissRequest struct {
	DismissedBy string `json:"dismissed_by"`
}

// DismissAlert marks an alert handled by the given operator.
func DismissAlert(store *ledger.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		tenant, ok := MustTenant(ctx)
		if !ok {
			return
		}

		alertID, _ := ctx.UserValue("id").(string)

		var req dismissRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			badRequest(ctx, "invalid JSON body")
			return
		}

		if err := store.DismissAlert(ctx, tenant.ID, alertID, recorderIdentity(ctx, req.DismissedBy)); err != nil {
			errResponse(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"status": "dismissed"})
	}
}
