package jobs

import (
	"context"
	"time"

	"gorm.io/gorm"

	"leadledger/internal/db"
	"leadledger/internal/ledger"
)

// JobWeeklyWinRates is the job name recorded for aggregation runs.
const JobWeeklyWinRates = "weekly_win_rates"

// RunAggregationOnce recomputes the weekly win-rate aggregates for the week
// containing weekStart, for every active tenant independently. Rows are
// upserted keyed by (tenant, week, key, intent), so re-running the same week
// overwrites rather than duplicates.
func (r *Runner) RunAggregationOnce(weekStart time.Time) error {
	weekStart = ledger.WeekStart(weekStart)
	period := weekStart.Format("2006-01-02")

	run, err := r.begin(JobWeeklyWinRates, period)
	if err != nil {
		return err
	}

	processed, err := r.aggregateWeek(weekStart)
	r.finish(run, processed, err)
	return err
}

func (r *Runner) aggregateWeek(weekStart time.Time) (int64, error) {
	// Jobs iterate tenants themselves; every query below carries an explicit
	// tenant filter.
	ctx := db.WithoutTenantScope(context.Background())
	weekEnd := weekStart.AddDate(0, 0, 7)

	var tenants []db.Tenant
	if err := r.DB.WithContext(ctx).Where("active = ?", true).Find(&tenants).Error; err != nil {
		return 0, err
	}

	var processed int64
	for _, tenant := range tenants {
		n, err := r.aggregateTenantWeek(ctx, tenant.ID, weekStart, weekEnd)
		if err != nil {
			return processed, err
		}
		processed += n
	}
	return processed, nil
}

// groupCounts accumulates distinct-lead sets for one (key, intent) group.
type groupCounts struct {
	entered     map[string]bool
	appointment map[string]bool
	won         map[string]bool
	lost        map[string]bool
}

func newGroupCounts() *groupCounts {
	return &groupCounts{
		entered:     make(map[string]bool),
		appointment: make(map[string]bool),
		won:         make(map[string]bool),
		lost:        make(map[string]bool),
	}
}

func (g *groupCounts) add(leadID, outcomeType string) {
	g.entered[leadID] = true
	switch outcomeType {
	case ledger.OutcomeAppointmentSet:
		g.appointment[leadID] = true
	case ledger.OutcomeClosedWon:
		g.won[leadID] = true
	case ledger.OutcomeClosedLost:
		g.lost[leadID] = true
	}
}

// winRate is won/(won+lost), nil when the denominator is zero.
func (g *groupCounts) winRate() *float64 {
	won := float64(len(g.won))
	lost := float64(len(g.lost))
	if won+lost == 0 {
		return nil
	}
	rate := won / (won + lost)
	return &rate
}

type groupKey struct {
	Key        string
	IntentType string
}

func (r *Runner) aggregateTenantWeek(ctx context.Context, tenantID string, weekStart, weekEnd time.Time) (int64, error) {
	// Leads with any outcome in the window, then their full event history so
	// corrections recorded outside the window still apply.
	var leadIDs []string
	if err := r.DB.WithContext(ctx).Model(&db.OutcomeEvent{}).
		Where("tenant_id = ? AND occurred_at >= ? AND occurred_at < ?", tenantID, weekStart, weekEnd).
		Distinct().Pluck("lead_id", &leadIDs).Error; err != nil {
		return 0, err
	}
	if len(leadIDs) == 0 {
		return 0, r.pruneWeek(ctx, tenantID, weekStart, nil, nil)
	}

	var events []db.OutcomeEvent
	if err := r.DB.WithContext(ctx).
		Where("tenant_id = ? AND lead_id IN ?", tenantID, leadIDs).
		Order("occurred_at asc, created_at asc").
		Find(&events).Error; err != nil {
		return 0, err
	}

	byLead := make(map[string][]db.OutcomeEvent)
	for _, ev := range events {
		byLead[ev.LeadID] = append(byLead[ev.LeadID], ev)
	}

	sourceGroups := make(map[groupKey]*groupCounts)
	geoGroups := make(map[groupKey]*groupCounts)
	var processed int64

	for leadID, leadEvents := range byLead {
		for _, ev := range ledger.EffectiveEvents(leadEvents) {
			if ev.OccurredAt.Before(weekStart) || !ev.OccurredAt.Before(weekEnd) {
				continue
			}
			processed++

			snap := ledger.SnapshotFromEvent(ev)

			sk := groupKey{Key: snap.SourceKey, IntentType: snap.IntentType}
			if sourceGroups[sk] == nil {
				sourceGroups[sk] = newGroupCounts()
			}
			sourceGroups[sk].add(leadID, ev.OutcomeType)

			gk := groupKey{Key: snap.GeoKey, IntentType: snap.IntentType}
			if geoGroups[gk] == nil {
				geoGroups[gk] = newGroupCounts()
			}
			geoGroups[gk].add(leadID, ev.OutcomeType)
		}
	}

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for k, g := range sourceGroups {
			row := db.WeeklySourceStat{
				TenantID:             tenantID,
				WeekStart:            weekStart,
				SourceKey:            k.Key,
				IntentType:           k.IntentType,
				LeadsEntered:         int64(len(g.entered)),
				LeadsWithAppointment: int64(len(g.appointment)),
				Won:                  int64(len(g.won)),
				Lost:                 int64(len(g.lost)),
				WinRate:              g.winRate(),
			}
			if err := upsertSourceStat(tx, row); err != nil {
				return err
			}
		}
		for k, g := range geoGroups {
			row := db.WeeklyGeoStat{
				TenantID:             tenantID,
				WeekStart:            weekStart,
				GeoKey:               k.Key,
				IntentType:           k.IntentType,
				LeadsEntered:         int64(len(g.entered)),
				LeadsWithAppointment: int64(len(g.appointment)),
				Won:                  int64(len(g.won)),
				Lost:                 int64(len(g.lost)),
				WinRate:              g.winRate(),
			}
			if err := upsertGeoStat(tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return processed, err
	}

	return processed, r.pruneWeek(ctx, tenantID, weekStart, sourceGroups, geoGroups)
}

func upsertSourceStat(tx *gorm.DB, row db.WeeklySourceStat) error {
	var existing db.WeeklySourceStat
	err := tx.Where("tenant_id = ? AND week_start = ? AND source_key = ? AND intent_type = ?",
		row.TenantID, row.WeekStart, row.SourceKey, row.IntentType).
		Limit(1).Find(&existing).Error
	if err != nil {
		return err
	}
	if existing.ID == 0 {
		return tx.Create(&row).Error
	}
	return tx.Model(&existing).Updates(map[string]interface{}{
		"leads_entered":          row.LeadsEntered,
		"leads_with_appointment": row.LeadsWithAppointment,
		"won":                    row.Won,
		"lost":                   row.Lost,
		"win_rate":               row.WinRate,
	}).Error
}

func upsertGeoStat(tx *gorm.DB, row db.WeeklyGeoStat) error {
	var existing db.WeeklyGeoStat
	err := tx.Where("tenant_id = ? AND week_start = ? AND geo_key = ? AND intent_type = ?",
		row.TenantID, row.WeekStart, row.GeoKey, row.IntentType).
		Limit(1).Find(&existing).Error
	if err != nil {
		return err
	}
	if existing.ID == 0 {
		return tx.Create(&row).Error
	}
	return tx.Model(&existing).Updates(map[string]interface{}{
		"leads_entered":          row.LeadsEntered,
		"leads_with_appointment": row.LeadsWithAppointment,
		"won":                    row.Won,
		"lost":                   row.Lost,
		"win_rate":               row.WinRate,
	}).Error
}

// pruneWeek deletes aggregate rows for groups that no longer exist in the
// recomputed week (e.g. after a correction), keeping reruns exactly
// reproducible.
func (r *Runner) pruneWeek(ctx context.Context, tenantID string, weekStart time.Time, sourceGroups, geoGroups map[groupKey]*groupCounts) error {
	var sourceRows []db.WeeklySourceStat
	if err := r.DB.WithContext(ctx).
		Where("tenant_id = ? AND week_start = ?", tenantID, weekStart).
		Find(&sourceRows).Error; err != nil {
		return err
	}
	for _, row := range sourceRows {
		if sourceGroups[groupKey{Key: row.SourceKey, IntentType: row.IntentType}] == nil {
			if err := r.DB.WithContext(ctx).Delete(&db.WeeklySourceStat{}, row.ID).Error; err != nil {
				return err
			}
		}
	}

	var geoRows []db.WeeklyGeoStat
	if err := r.DB.WithContext(ctx).
		Where("tenant_id = ? AND week_start = ?", tenantID, weekStart).
		Find(&geoRows).Error; err != nil {
		return err
	}
	for _, row := range geoRows {
		if geoGroups[groupKey{Key: row.GeoKey, IntentType: row.IntentType}] == nil {
			if err := r.DB.WithContext(ctx).Delete(&db.WeeklyGeoStat{}, row.ID).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
