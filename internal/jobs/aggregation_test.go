package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"leadledger/internal/db"
	"leadledger/internal/ledger"
)

var testNow = time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

func newTestRunner(t *testing.T) (*Runner, *ledger.Store) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "jobs.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Setup(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := ledger.NewStore(gdb)
	store.Now = func() time.Time { return testNow }

	runner := &Runner{
		DB:             gdb,
		Log:            store.Log,
		Now:            func() time.Time { return testNow },
		StaleAfterDays: 7,
	}
	return runner, store
}

func seedTenant(t *testing.T, gdb *gorm.DB, name string) string {
	t.Helper()
	tenant := db.Tenant{ID: db.NewID(), Name: name, Active: true}
	if err := gdb.Create(&tenant).Error; err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	return tenant.ID
}

func seedLead(t *testing.T, store *ledger.Store, tenantID, source, geo, intent, tier string) db.Lead {
	t.Helper()
	lead, err := store.CreateLead(context.Background(), tenantID, ledger.LeadInput{
		SourceKey:  source,
		GeoKey:     geo,
		IntentType: intent,
		Tier:       tier,
	})
	if err != nil {
		t.Fatalf("seed lead: %v", err)
	}
	return lead
}

func record(t *testing.T, store *ledger.Store, tenantID, leadID, outcomeType string, occurredAt time.Time) {
	t.Helper()
	_, err := store.RecordOutcome(context.Background(), tenantID, ledger.RecordOutcomeInput{
		LeadID:      leadID,
		OutcomeType: outcomeType,
		OccurredAt:  &occurredAt,
		RecordedBy:  "tester",
	})
	if err != nil {
		t.Fatalf("record %s: %v", outcomeType, err)
	}
}

func TestAggregationWorkedExample(t *testing.T) {
	runner, store := newTestRunner(t)
	tenant := seedTenant(t, runner.DB, "td-realty")
	lead := seedLead(t, store, tenant, "facebook_ads", "43215", "seller", "A")

	day := func(n int) time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC).AddDate(0, 0, n-1) }
	record(t, store, tenant, lead.ID, ledger.OutcomeContacted, day(1))      // Mon Mar 2
	record(t, store, tenant, lead.ID, ledger.OutcomeAppointmentSet, day(3)) // Wed Mar 4
	record(t, store, tenant, lead.ID, ledger.OutcomeClosedWon, day(10))     // Wed Mar 11

	wonWeek := ledger.WeekStart(day(10)) // Mon Mar 9
	if err := runner.RunAggregationOnce(wonWeek); err != nil {
		t.Fatalf("aggregation: %v", err)
	}

	var row db.WeeklySourceStat
	err := runner.DB.Where("tenant_id = ? AND week_start = ? AND source_key = ? AND intent_type = ?",
		tenant, wonWeek, "facebook_ads", "seller").First(&row).Error
	if err != nil {
		t.Fatalf("load source row: %v", err)
	}
	if row.LeadsEntered != 1 || row.Won != 1 || row.Lost != 0 {
		t.Fatalf("row = %+v, want entered=1 won=1 lost=0", row)
	}
	if row.WinRate == nil || *row.WinRate != 1.0 {
		t.Fatalf("win rate = %v, want 1.0", row.WinRate)
	}

	var geoRow db.WeeklyGeoStat
	err = runner.DB.Where("tenant_id = ? AND week_start = ? AND geo_key = ? AND intent_type = ?",
		tenant, wonWeek, "43215", "seller").First(&geoRow).Error
	if err != nil {
		t.Fatalf("load geo row: %v", err)
	}
	if geoRow.Won != 1 || geoRow.WinRate == nil || *geoRow.WinRate != 1.0 {
		t.Fatalf("geo row = %+v, want won=1 rate=1.0", geoRow)
	}

	// The earlier week counts the appointment but has no terminal outcome,
	// so its win rate is null.
	firstWeek := ledger.WeekStart(day(1))
	if err := runner.RunAggregationOnce(firstWeek); err != nil {
		t.Fatalf("aggregation (first week): %v", err)
	}
	var firstRow db.WeeklySourceStat
	err = runner.DB.Where("tenant_id = ? AND week_start = ?", tenant, firstWeek).First(&firstRow).Error
	if err != nil {
		t.Fatalf("load first week row: %v", err)
	}
	if firstRow.LeadsEntered != 1 || firstRow.LeadsWithAppointment != 1 || firstRow.Won != 0 {
		t.Fatalf("first week row = %+v", firstRow)
	}
	if firstRow.WinRate != nil {
		t.Fatalf("win rate with zero denominator must be null, got %v", *firstRow.WinRate)
	}
}

func TestAggregationIsIdempotent(t *testing.T) {
	runner, store := newTestRunner(t)
	tenant := seedTenant(t, runner.DB, "td-realty")
	week := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	winner := seedLead(t, store, tenant, "referral", "43230", "buyer", "B")
	loser := seedLead(t, store, tenant, "referral", "43230", "buyer", "B")
	record(t, store, tenant, winner.ID, ledger.OutcomeClosedWon, week.Add(24*time.Hour))
	record(t, store, tenant, loser.ID, ledger.OutcomeClosedLost, week.Add(48*time.Hour))

	for i := 0; i < 2; i++ {
		if err := runner.RunAggregationOnce(week); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}

	var rows []db.WeeklySourceStat
	if err := runner.DB.Where("tenant_id = ?", tenant).Find(&rows).Error; err != nil {
		t.Fatalf("load rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("re-running the same week must not duplicate rows, have %d", len(rows))
	}
	row := rows[0]
	if row.LeadsEntered != 2 || row.Won != 1 || row.Lost != 1 {
		t.Fatalf("row = %+v, want entered=2 won=1 lost=1", row)
	}
	if row.WinRate == nil || *row.WinRate != 0.5 {
		t.Fatalf("win rate = %v, want 0.5", row.WinRate)
	}

	// Both runs leave finished audit rows.
	var runs []db.JobRun
	if err := runner.DB.Where("job_name = ?", JobWeeklyWinRates).Find(&runs).Error; err != nil {
		t.Fatalf("load job runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("want 2 job runs, got %d", len(runs))
	}
	for _, run := range runs {
		if run.Status != StatusSuccess || run.FinishedAt == nil {
			t.Fatalf("job run not finalized: %+v", run)
		}
	}
}

func TestAggregationGroupsOnFrozenAttribution(t *testing.T) {
	runner, store := newTestRunner(t)
	tenant := seedTenant(t, runner.DB, "td-realty")
	week := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	lead := seedLead(t, store, tenant, "zillow", "43215", "seller", "A")
	record(t, store, tenant, lead.ID, ledger.OutcomeClosedWon, week.Add(24*time.Hour))

	// Changing the lead's source afterwards must not move historical events.
	newSource := "google_ads"
	if _, err := store.UpdateLead(context.Background(), tenant, lead.ID, ledger.LeadUpdate{SourceKey: &newSource}); err != nil {
		t.Fatalf("update lead: %v", err)
	}

	if err := runner.RunAggregationOnce(week); err != nil {
		t.Fatalf("aggregation: %v", err)
	}

	var row db.WeeklySourceStat
	err := runner.DB.Where("tenant_id = ? AND week_start = ?", tenant, week).First(&row).Error
	if err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.SourceKey != "zillow" {
		t.Fatalf("aggregation grouped on %q, want the frozen snapshot source %q", row.SourceKey, "zillow")
	}
}

func TestAggregationKeepsTenantsApart(t *testing.T) {
	runner, store := newTestRunner(t)
	tenantA := seedTenant(t, runner.DB, "tenant-a")
	tenantB := seedTenant(t, runner.DB, "tenant-b")
	week := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	leadA := seedLead(t, store, tenantA, "referral", "43215", "seller", "A")
	leadB := seedLead(t, store, tenantB, "referral", "43215", "seller", "A")
	record(t, store, tenantA, leadA.ID, ledger.OutcomeClosedWon, week.Add(24*time.Hour))
	record(t, store, tenantB, leadB.ID, ledger.OutcomeClosedLost, week.Add(24*time.Hour))

	if err := runner.RunAggregationOnce(week); err != nil {
		t.Fatalf("aggregation: %v", err)
	}

	var rowA, rowB db.WeeklySourceStat
	if err := runner.DB.Where("tenant_id = ?", tenantA).First(&rowA).Error; err != nil {
		t.Fatalf("tenant A row: %v", err)
	}
	if err := runner.DB.Where("tenant_id = ?", tenantB).First(&rowB).Error; err != nil {
		t.Fatalf("tenant B row: %v", err)
	}
	if rowA.Won != 1 || rowA.Lost != 0 || rowB.Won != 0 || rowB.Lost != 1 {
		t.Fatalf("tenants mixed: A=%+v B=%+v", rowA, rowB)
	}
}

func TestRunGuardRefusesOverlap(t *testing.T) {
	runner, _ := newTestRunner(t)
	week := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	stuck := db.JobRun{
		JobName:   JobWeeklyWinRates,
		Period:    week.Format("2006-01-02"),
		Status:    StatusRunning,
		StartedAt: testNow.Add(-time.Hour),
	}
	if err := runner.DB.Create(&stuck).Error; err != nil {
		t.Fatalf("seed running job: %v", err)
	}

	if err := runner.RunAggregationOnce(week); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("want ErrRunInProgress, got %v", err)
	}

	// A different period is unaffected.
	if err := runner.RunAggregationOnce(week.AddDate(0, 0, -7)); err != nil {
		t.Fatalf("other period should run: %v", err)
	}
}
