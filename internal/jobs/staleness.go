package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"

	"leadledger/internal/db"
	"leadledger/internal/ledger"
)

// JobStaleLeads is the job name recorded for staleness scans.
const JobStaleLeads = "stale_leads"

// Alert constants for the staleness monitor.
const (
	AlertCategoryOps        = "ops"
	AlertCodeOutcomeMissing = "OUTCOME_MISSING"
	AlertSeverityWarning    = "warning"
)

// staleTiers are the top two lead quality classes the monitor watches.
var staleTiers = []string{"A", "B"}

// RunStalenessOnce flags high-tier leads that have had no outcome progress
// recently and files one alert per tenant per distinct stale-lead set.
// Re-running before any lead changes state files nothing new.
func (r *Runner) RunStalenessOnce(day time.Time) error {
	period := day.UTC().Format("2006-01-02")

	run, err := r.begin(JobStaleLeads, period)
	if err != nil {
		return err
	}

	processed, err := r.scanStaleLeads()
	r.finish(run, processed, err)
	return err
}

func (r *Runner) scanStaleLeads() (int64, error) {
	ctx := db.WithoutTenantScope(context.Background())
	cutoff := r.now().AddDate(0, 0, -r.StaleAfterDays)

	var tenants []db.Tenant
	if err := r.DB.WithContext(ctx).Where("active = ?", true).Find(&tenants).Error; err != nil {
		return 0, err
	}

	var processed int64
	for _, tenant := range tenants {
		n, err := r.scanTenant(ctx, tenant.ID, cutoff)
		if err != nil {
			return processed, err
		}
		processed += n
	}
	return processed, nil
}

func (r *Runner) scanTenant(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	var leads []db.Lead
	if err := r.DB.WithContext(ctx).
		Where("tenant_id = ? AND tier IN ? AND last_activity_at < ?", tenantID, staleTiers, cutoff).
		Find(&leads).Error; err != nil {
		return 0, err
	}
	if len(leads) == 0 {
		return 0, nil
	}

	leadIDs := make([]string, 0, len(leads))
	for _, l := range leads {
		leadIDs = append(leadIDs, l.ID)
	}

	var states []db.LeadState
	if err := r.DB.WithContext(ctx).
		Where("tenant_id = ? AND lead_id IN ?", tenantID, leadIDs).
		Find(&states).Error; err != nil {
		return 0, err
	}
	stageByLead := make(map[string]string, len(states))
	for _, st := range states {
		stageByLead[st.LeadID] = st.Stage
	}

	// Stale = no funnel progress past top_of_funnel. A lead with no state
	// row has no outcome at all and counts too.
	var stale []string
	for _, id := range leadIDs {
		if ledger.StageAtMost(stageByLead[id], ledger.StageTopOfFunnel) {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	sort.Strings(stale)

	fingerprint := staleFingerprint(stale)

	var existing int64
	if err := r.DB.WithContext(ctx).Model(&db.Alert{}).
		Where("tenant_id = ? AND code = ? AND fingerprint = ? AND dismissed_at IS NULL",
			tenantID, AlertCodeOutcomeMissing, fingerprint).
		Count(&existing).Error; err != nil {
		return 0, err
	}
	if existing > 0 {
		// Same stale-lead set already flagged; one alert per run, no dupes.
		return 0, nil
	}

	leadIDsAny := make([]any, 0, len(stale))
	for _, id := range stale {
		leadIDsAny = append(leadIDsAny, id)
	}
	alert := db.Alert{
		ID:        db.NewID(),
		TenantID:  tenantID,
		CreatedAt: r.now(),
		Category:  AlertCategoryOps,
		Code:      AlertCodeOutcomeMissing,
		Severity:  AlertSeverityWarning,
		Message: fmt.Sprintf("%d high-tier lead(s) have had no outcome progress for more than %d days",
			len(stale), r.StaleAfterDays),
		Evidence: datatypes.JSONMap{
			"lead_ids": leadIDsAny,
			"count":    len(stale),
		},
		Fingerprint: fingerprint,
	}
	if err := r.DB.WithContext(ctx).Create(&alert).Error; err != nil {
		return 0, err
	}

	return int64(len(stale)), nil
}

// staleFingerprint identifies an exact stale-lead set. Input must be sorted.
func staleFingerprint(leadIDs []string) string {
	sum := sha256.Sum256([]byte(strings.Join(leadIDs, ",")))
	return hex.EncodeToString(sum[:])
}
