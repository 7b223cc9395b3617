package handlers

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "leadledger/internal/db"
	httpctx "leadledger/internal/http/ctx"
	"leadledger/internal/ledger"
)

var testNow = time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "handlers.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := dbpkg.Setup(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := ledger.NewStore(gdb)
	store.Now = func() time.Time { return testNow }
	return store
}

func seedTenantAndLead(t *testing.T, store *ledger.Store) (*dbpkg.Tenant, dbpkg.Lead) {
	t.Helper()
	tenant := dbpkg.Tenant{ID: dbpkg.NewID(), Name: "td-realty", Active: true}
	if err := store.DB.Create(&tenant).Error; err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	lead, err := store.CreateLead(context.Background(), tenant.ID, ledger.LeadInput{
		SourceKey:  "facebook_ads",
		GeoKey:     "43215",
		IntentType: "seller",
		Tier:       "A",
	})
	if err != nil {
		t.Fatalf("seed lead: %v", err)
	}
	return &tenant, lead
}

func authedRequest(tenant *dbpkg.Tenant, method, uri string, body []byte) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != nil {
		req.SetBody(body)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	httpctx.SetTenant(ctx, tenant)
	return ctx
}

func TestRecordOutcomeHandler(t *testing.T) {
	store := newTestStore(t)
	tenant, lead := seedTenantAndLead(t, store)

	body, _ := json.Marshal(map[string]any{
		"lead_id":      lead.ID,
		"outcome_type": "contacted",
		"recorded_by":  "agent-1",
	})
	ctx := authedRequest(tenant, fasthttp.MethodPost, "/v1/outcomes", body)
	RecordOutcome(store)(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusCreated {
		t.Fatalf("status = %d, body %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	var resp struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(ctx.Response.Body(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.EventID == "" {
		t.Fatalf("want event_id in response, body %s", ctx.Response.Body())
	}
}

func TestRecordOutcomeHandlerErrorMapping(t *testing.T) {
	store := newTestStore(t)
	tenant, lead := seedTenantAndLead(t, store)

	post := func(body map[string]any) *fasthttp.RequestCtx {
		raw, _ := json.Marshal(body)
		ctx := authedRequest(tenant, fasthttp.MethodPost, "/v1/outcomes", raw)
		RecordOutcome(store)(ctx)
		return ctx
	}

	if ctx := post(map[string]any{"lead_id": dbpkg.NewID(), "outcome_type": "contacted", "recorded_by": "a"}); ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("unknown lead: status = %d", ctx.Response.StatusCode())
	}
	if ctx := post(map[string]any{"lead_id": lead.ID, "outcome_type": "promoted", "recorded_by": "a"}); ctx.Response.StatusCode() != fasthttp.StatusUnprocessableEntity {
		t.Fatalf("bad outcome type: status = %d", ctx.Response.StatusCode())
	}

	future := testNow.Add(time.Hour)
	if ctx := post(map[string]any{"lead_id": lead.ID, "outcome_type": "contacted", "recorded_by": "a", "occurred_at": future}); ctx.Response.StatusCode() != fasthttp.StatusUnprocessableEntity {
		t.Fatalf("future occurred_at: status = %d", ctx.Response.StatusCode())
	}

	// Terminal conflict maps to 409.
	if ctx := post(map[string]any{"lead_id": lead.ID, "outcome_type": "closed_won", "recorded_by": "a"}); ctx.Response.StatusCode() != fasthttp.StatusCreated {
		t.Fatalf("closed_won: status = %d", ctx.Response.StatusCode())
	}
	if ctx := post(map[string]any{"lead_id": lead.ID, "outcome_type": "closed_lost", "recorded_by": "a"}); ctx.Response.StatusCode() != fasthttp.StatusConflict {
		t.Fatalf("conflict: status = %d", ctx.Response.StatusCode())
	}
}

func TestRecordOutcomeHandlerRejectsBadJSON(t *testing.T) {
	store := newTestStore(t)
	tenant, _ := seedTenantAndLead(t, store)

	ctx := authedRequest(tenant, fasthttp.MethodPost, "/v1/outcomes", []byte("{not json"))
	RecordOutcome(store)(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("status = %d", ctx.Response.StatusCode())
	}
}

func TestHandlersRequireTenant(t *testing.T) {
	store := newTestStore(t)

	var req fasthttp.Request
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI("/v1/outcomes")
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	RecordOutcome(store)(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", ctx.Response.StatusCode())
	}
}

func TestOutcomeEventDetailHandler(t *testing.T) {
	store := newTestStore(t)
	tenant, lead := seedTenantAndLead(t, store)

	res, err := store.RecordOutcome(context.Background(), tenant.ID, ledger.RecordOutcomeInput{
		LeadID:      lead.ID,
		OutcomeType: "contacted",
		RecordedBy:  "agent-1",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	ctx := authedRequest(tenant, fasthttp.MethodGet, "/v1/outcomes/"+res.EventID, nil)
	ctx.SetUserValue("event_id", res.EventID)
	OutcomeEventDetail(store)(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d, body %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}

	var resp struct {
		LeadID string `json:"lead_id"`
		Event  struct {
			OutcomeType string `json:"outcome_type"`
			Stage       string `json:"stage"`
		} `json:"event"`
	}
	if err := json.Unmarshal(ctx.Response.Body(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.LeadID != lead.ID || resp.Event.OutcomeType != "contacted" || resp.Event.Stage != "top_of_funnel" {
		t.Fatalf("unexpected detail: %+v", resp)
	}

	missing := authedRequest(tenant, fasthttp.MethodGet, "/v1/outcomes/nope", nil)
	missing.SetUserValue("event_id", dbpkg.NewID())
	OutcomeEventDetail(store)(missing)
	if missing.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("missing event: status = %d", missing.Response.StatusCode())
	}
}
