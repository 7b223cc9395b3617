package handlers

import (
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"

	"leadledger/internal/ledger"
)

var (
	outcomesRecordedTotal *prometheus.CounterVec
	sequenceWarningsTotal *prometheus.CounterVec
)

func InitPrometheusMetrics() {
	outcomesRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadledger",
			Name:      "outcomes_recorded_total",
			Help:      "Total number of accepted outcome events.",
		},
		[]string{"tenant", "outcome_type"},
	)
	sequenceWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadledger",
			Name:      "sequence_warnings_total",
			Help:      "Total number of sequence warnings attached to accepted writes.",
		},
		[]string{"tenant"},
	)
	prometheus.MustRegister(outcomesRecordedTotal, sequenceWarningsTotal)
}

func countRecorded(tenantID, outcomeType string, warnings int) {
	if outcomesRecordedTotal != nil {
		outcomesRecordedTotal.WithLabelValues(tenantID, outcomeType).Inc()
	}
	if sequenceWarningsTotal != nil && warnings > 0 {
		sequenceWarningsTotal.WithLabelValues(tenantID).Add(float64(warnings))
	}
}

type recordOutcomeRequest struct {
	LeadID      string     `json:"lead_id"`
	OutcomeType string     `json:"outcome_type"`
	OccurredAt  *time.Time `json:"occurred_at,omitempty"`
	RecordedBy  string     `json:"recorded_by,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	ValueBand   string     `json:"value_band,omitempty"`
	ReasonCode  string     `json:"reason_code,omitempty"`
}

// RecordOutcome appends one outcome event for a lead.
func RecordOutcome(store *ledger.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		tenant, ok := MustTenant(ctx)
		if !ok {
			return
		}

		var req recordOutcomeRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			badRequest(ctx, "invalid JSON body")
			return
		}

		result, err := store.RecordOutcome(ctx, tenant.ID, ledger.RecordOutcomeInput{
			LeadID:      req.LeadID,
			OutcomeType: req.OutcomeType,
			OccurredAt:  req.OccurredAt,
			RecordedBy:  recorderIdentity(ctx, req.RecordedBy),
			Notes:       req.Notes,
			ValueBand:   req.ValueBand,
			ReasonCode:  req.ReasonCode,
		})
		if err != nil {
			errResponse(ctx, err)
			return
		}

		countRecorded(tenant.ID, req.OutcomeType, len(result.Warnings))
		jsonResponse(ctx, fasthttp.StatusCreated, result)
	}
}

type bulkOutcomeRequest struct {
	LeadIDs     []string   `json:"lead_ids"`
	OutcomeType string     `json:"outcome_type"`
	OccurredAt  *time.Time `json:"occurred_at,omitempty"`
	RecordedBy  string     `json:"recorded_by,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// BulkRecordOutcome applies the single-outcome path independently per lead.
// Successes stand even when other leads in the batch fail.
func BulkRecordOutcome(store *ledger.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		tenant, ok := MustTenant(ctx)
		if !ok {
			return
		}

		var req bulkOutcomeRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			badRequest(ctx, "invalid JSON body")
			return
		}
		if len(req.LeadIDs) == 0 {
			badRequest(ctx, "no lead_ids provided")
			return
		}

		results := store.BulkRecordOutcome(ctx, tenant.ID, req.LeadIDs, ledger.RecordOutcomeInput{
			OutcomeType: req.OutcomeType,
			OccurredAt:  req.OccurredAt,
			RecordedBy:  recorderIdentity(ctx, req.RecordedBy),
			Notes:       req.Notes,
		})
		for _, res := range results {
			if res.Error == "" {
				countRecorded(tenant.ID, req.OutcomeType, len(res.Warnings))
			}
		}
		jsonResponse(ctx, fasthttp.StatusMultiStatus, map[string]any{"results": results})
	}
}

type correctionRequest struct {
	LeadID      string `json:"lead_id"`
	OutcomeType string `json:"outcome_type"`
	Reason      string `json:"reason"`
	RecordedBy  string `json:"recorded_by,omitempty"`
}

// CorrectOutcome is the audited override for a wrongly-recorded terminal
// outcome.
func CorrectOutcome(store *ledger.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		tenant, ok := MustTenant(ctx)
		if !ok {
			return
		}

		var req correctionRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			badRequest(ctx, "invalid JSON body")
			return
		}

		result, err := store.CorrectTerminalOutcome(ctx, tenant.ID, ledger.CorrectionInput{
			LeadID:      req.LeadID,
			OutcomeType: req.OutcomeType,
			Reason:      req.Reason,
			RecordedBy:  recorderIdentity(ctx, req.RecordedBy),
		})
		if err != nil {
			errResponse(ctx, err)
			return
		}

		countRecorded(tenant.ID, req.OutcomeType, 0)
		jsonResponse(ctx, fasthttp.StatusCreated, result)
	}
}

type outcomeEventView struct {
	ID          string         `json:"id"`
	OutcomeType string         `json:"outcome_type"`
	Stage       string         `json:"stage"`
	OccurredAt  time.Time      `json:"occurred_at"`
	RecordedBy  string         `json:"recorded_by"`
	Notes       string         `json:"notes,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// OutcomeHistory returns a lead's events ordered oldest to newest.
func OutcomeHistory(store *ledger.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		tenant, ok := MustTenant(ctx)
		if !ok {
			return
		}

		leadID, _ := ctx.UserValue("id").(string)
		events, err := store.OutcomeHistory(ctx, tenant.ID, leadID)
		if err != nil {
			errResponse(ctx, err)
			return
		}

		views := make([]outcomeEventView, 0, len(events))
		for _, ev := range events {
			views = append(views, outcomeEventView{
				ID:          ev.ID,
				OutcomeType: ev.OutcomeType,
				Stage:       ev.Stage,
				OccurredAt:  ev.OccurredAt,
				RecordedBy:  ev.RecordedBy,
				Notes:       ev.Notes,
				Metadata:    ev.Metadata,
				CreatedAt:   ev.CreatedAt,
			})
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"events": views})
	}
}
