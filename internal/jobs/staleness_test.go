package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadledger/internal/db"
	"leadledger/internal/ledger"
)

// ageLead backdates a lead's activity marker, as if nothing had touched it.
func ageLead(t *testing.T, runner *Runner, tenantID, leadID string, days int) {
	t.Helper()
	err := runner.DB.Model(&db.Lead{}).
		Where("tenant_id = ? AND id = ?", tenantID, leadID).
		Update("last_activity_at", testNow.AddDate(0, 0, -days)).Error
	if err != nil {
		t.Fatalf("age lead: %v", err)
	}
}

func tenantAlerts(t *testing.T, runner *Runner, tenantID string) []db.Alert {
	t.Helper()
	var alerts []db.Alert
	err := runner.DB.Where("tenant_id = ? AND dismissed_at IS NULL", tenantID).Find(&alerts).Error
	if err != nil {
		t.Fatalf("load alerts: %v", err)
	}
	return alerts
}

func TestStalenessFlagsHighTierLeadWithoutProgress(t *testing.T) {
	runner, store := newTestRunner(t)
	tenant := seedTenant(t, runner.DB, "td-realty")

	lead := seedLead(t, store, tenant, "facebook_ads", "43215", "seller", "A")
	record(t, store, tenant, lead.ID, ledger.OutcomeContacted, testNow.AddDate(0, 0, -10))
	ageLead(t, runner, tenant, lead.ID, 10)

	if err := runner.RunStalenessOnce(testNow); err != nil {
		t.Fatalf("staleness: %v", err)
	}

	alerts := tenantAlerts(t, runner, tenant)
	if len(alerts) != 1 {
		t.Fatalf("want 1 alert, got %d", len(alerts))
	}
	alert := alerts[0]
	if alert.Code != AlertCodeOutcomeMissing || alert.Severity != AlertSeverityWarning {
		t.Fatalf("alert = %+v", alert)
	}
	ids, ok := alert.Evidence["lead_ids"].([]any)
	if !ok || len(ids) != 1 || ids[0] != lead.ID {
		t.Fatalf("evidence lead_ids = %v, want [%s]", alert.Evidence["lead_ids"], lead.ID)
	}
}

func TestStalenessRerunDoesNotDuplicate(t *testing.T) {
	runner, store := newTestRunner(t)
	tenant := seedTenant(t, runner.DB, "td-realty")

	lead := seedLead(t, store, tenant, "referral", "43230", "buyer", "B")
	ageLead(t, runner, tenant, lead.ID, 9)

	if err := runner.RunStalenessOnce(testNow.AddDate(0, 0, -1)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := runner.RunStalenessOnce(testNow); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if alerts := tenantAlerts(t, runner, tenant); len(alerts) != 1 {
		t.Fatalf("re-scan of the same stale set must not re-file, have %d alerts", len(alerts))
	}
}

func TestStalenessRefilesAfterDismissal(t *testing.T) {
	runner, store := newTestRunner(t)
	tenant := seedTenant(t, runner.DB, "td-realty")

	lead := seedLead(t, store, tenant, "referral", "43230", "seller", "A")
	ageLead(t, runner, tenant, lead.ID, 14)

	if err := runner.RunStalenessOnce(testNow.AddDate(0, 0, -1)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	alerts := tenantAlerts(t, runner, tenant)
	if len(alerts) != 1 {
		t.Fatalf("want 1 alert, got %d", len(alerts))
	}
	if err := store.DismissAlert(context.Background(), tenant, alerts[0].ID, "ops"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	// The lead is still stale, so the next scan raises it again.
	if err := runner.RunStalenessOnce(testNow); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if alerts := tenantAlerts(t, runner, tenant); len(alerts) != 1 {
		t.Fatalf("dismissed set should be re-flagged, have %d undismissed alerts", len(alerts))
	}
}

func TestStalenessSkipsProgressedAndLowTierLeads(t *testing.T) {
	runner, store := newTestRunner(t)
	tenant := seedTenant(t, runner.DB, "td-realty")

	// Tier C is below the watch threshold regardless of age.
	lowTier := seedLead(t, store, tenant, "zillow", "43215", "buyer", "C")
	ageLead(t, runner, tenant, lowTier.ID, 30)

	// Tier A but progressed to mid-funnel.
	progressed := seedLead(t, store, tenant, "zillow", "43215", "seller", "A")
	record(t, store, tenant, progressed.ID, ledger.OutcomeAppointmentSet, testNow.AddDate(0, 0, -12))
	ageLead(t, runner, tenant, progressed.ID, 12)

	// Tier A, recent activity.
	fresh := seedLead(t, store, tenant, "zillow", "43215", "seller", "A")
	ageLead(t, runner, tenant, fresh.ID, 2)

	if err := runner.RunStalenessOnce(testNow); err != nil {
		t.Fatalf("staleness: %v", err)
	}
	if alerts := tenantAlerts(t, runner, tenant); len(alerts) != 0 {
		t.Fatalf("want no alerts, got %d: %+v", len(alerts), alerts)
	}
}

func TestStalenessNewStaleSetGetsNewAlert(t *testing.T) {
	runner, store := newTestRunner(t)
	tenant := seedTenant(t, runner.DB, "td-realty")

	first := seedLead(t, store, tenant, "referral", "43230", "seller", "A")
	ageLead(t, runner, tenant, first.ID, 10)
	if err := runner.RunStalenessOnce(testNow.AddDate(0, 0, -1)); err != nil {
		t.Fatalf("first run: %v", err)
	}

	second := seedLead(t, store, tenant, "referral", "43230", "seller", "A")
	ageLead(t, runner, tenant, second.ID, 10)
	if err := runner.RunStalenessOnce(testNow); err != nil {
		t.Fatalf("second run: %v", err)
	}

	alerts := tenantAlerts(t, runner, tenant)
	if len(alerts) != 2 {
		t.Fatalf("a changed stale set is a new alert, want 2, got %d", len(alerts))
	}
	if alerts[0].Fingerprint == alerts[1].Fingerprint {
		t.Fatalf("distinct sets must have distinct fingerprints")
	}
}

func TestStalenessSamePeriodRefusedWhileRunning(t *testing.T) {
	runner, _ := newTestRunner(t)

	stuck := db.JobRun{
		JobName:   JobStaleLeads,
		Period:    testNow.Format("2006-01-02"),
		Status:    StatusRunning,
		StartedAt: testNow.Add(-time.Hour),
	}
	if err := runner.DB.Create(&stuck).Error; err != nil {
		t.Fatalf("seed running job: %v", err)
	}

	if err := runner.RunStalenessOnce(testNow); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("want ErrRunInProgress, got %v", err)
	}
}
