package handlers

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"

	dbpkg "leadledger/internal/db"
	"leadledger/internal/ledger"
)

type leadRequest struct {
	SourceKey      string         `json:"source_key"`
	GeoKey         string         `json:"geo_key"`
	IntentType     string         `json:"intent_type"`
	TimelineBucket string         `json:"timeline_bucket,omitempty"`
	PriceBand      string         `json:"price_band,omitempty"`
	AssignedTo     string         `json:"assigned_to,omitempty"`
	Tier           string         `json:"tier,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type leadView struct {
	ID             string         `json:"id"`
	SourceKey      string         `json:"source_key"`
	GeoKey         string         `json:"geo_key"`
	IntentType     string         `json:"intent_type"`
	TimelineBucket string         `json:"timeline_bucket,omitempty"`
	PriceBand      string         `json:"price_band,omitempty"`
	AssignedTo     string         `json:"assigned_to,omitempty"`
	Tier           string         `json:"tier,omitempty"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// CreateLead registers a new lead from the upstream capture form.
func CreateLead(store *ledger.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		tenant, ok := MustTenant(ctx)
		if !ok {
			return
		}

		var req leadRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			badRequest(ctx, "invalid JSON body")
			return
		}

		lead, err := store.CreateLead(ctx, tenant.ID, ledger.LeadInput{
			SourceKey:      req.SourceKey,
			GeoKey:         req.GeoKey,
			IntentType:     req.IntentType,
			TimelineBucket: req.TimelineBucket,
			PriceBand:      req.PriceBand,
			AssignedTo:     req.AssignedTo,
			Tier:           req.Tier,
			Metadata:       req.Metadata,
		})
		if err != nil {
			errResponse(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusCreated, leadToView(lead))
	}
}

type leadUpdateRequest struct {
	SourceKey      *string        `json:"source_key,omitempty"`
	GeoKey         *string        `json:"geo_key,omitempty"`
	IntentType     *string        `json:"intent_type,omitempty"`
	TimelineBucket *string        `json:"timeline_bucket,omitempty"`
	PriceBand      *string        `json:"price_band,omitempty"`
	AssignedTo     *string        `json:"assigned_to,omitempty"`
	Tier           *string        `json:"tier,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// UpdateLead applies a partial update to a lead's attributes.
func UpdateLead(store *ledger.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		tenant, ok := MustTenant(ctx)
		if !ok {
			return
		}

		leadID, _ := ctx.UserValue("id").(string)

		var req leadUpdateRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			badRequest(ctx, "invalid JSON body")
			return
		}

		lead, err := store.UpdateLead(ctx, tenant.ID, leadID, ledger.LeadUpdate{
			SourceKey:      req.SourceKey,
			GeoKey:         req.GeoKey,
			IntentType:     req.IntentType,
			TimelineBucket: req.TimelineBucket,
			PriceBand:      req.PriceBand,
			AssignedTo:     req.AssignedTo,
			Tier:           req.Tier,
			Metadata:       req.Metadata,
		})
		if err != nil {
			errResponse(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, leadToView(lead))
	}
}

func leadToView(lead dbpkg.Lead) leadView {
	return leadView{
		ID:             lead.ID,
		SourceKey:      lead.SourceKey,
		GeoKey:         lead.GeoKey,
		IntentType:     lead.IntentType,
		TimelineBucket: lead.TimelineBucket,
		PriceBand:      lead.PriceBand,
		AssignedTo:     lead.AssignedTo,
		Tier:           lead.Tier,
		LastActivityAt: lead.LastActivityAt,
		Metadata:       lead.Metadata,
		CreatedAt:      lead.CreatedAt,
		UpdatedAt:      lead.UpdatedAt,
	}
}
