package ledger

import (
	"context"
	"fmt"
	"time"

	"leadledger/internal/db"
)

// OutcomeHistory returns a lead's events ordered oldest to newest. The full
// log is returned, corrections included; callers that want the effective view
// can pass the result through EffectiveEvents.
func (s *Store) OutcomeHistory(ctx context.Context, tenantID, leadID string) ([]db.OutcomeEvent, error) {
	ctx = db.WithTenant(ctx, tenantID)

	var count int64
	if err := s.DB.WithContext(ctx).Model(&db.Lead{}).
		Where("tenant_id = ? AND id = ?", tenantID, leadID).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrLeadNotFound
	}

	return priorEvents(ctx, s.DB.WithContext(ctx), tenantID, leadID)
}

// OutcomeEventByID loads a single event from the log.
func (s *Store) OutcomeEventByID(ctx context.Context, tenantID, eventID string) (*db.OutcomeEvent, error) {
	ctx = db.WithTenant(ctx, tenantID)
	var event db.OutcomeEvent
	err := s.DB.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, eventID).
		Limit(1).Find(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == "" {
		return nil, ErrEventNotFound
	}
	return &event, nil
}

// Win-rate query dimensions.
const (
	DimensionSource = "source"
	DimensionGeo    = "geo"
)

// WinRateQuery selects weekly aggregate rows.
type WinRateQuery struct {
	FromWeek  time.Time
	ToWeek    time.Time
	Dimension string // source or geo
	// IntentType filters to buyer or seller rows when set.
	IntentType string
	// MinDenominator drops rows where won+lost is below the threshold,
	// hiding win rates too thin to mean anything.
	MinDenominator int
}

// WinRateRow is one aggregate row, independent of dimension.
type WinRateRow struct {
	WeekStart            time.Time `json:"week_start"`
	Key                  string    `json:"key"`
	IntentType           string    `json:"intent_type"`
	LeadsEntered         int64     `json:"leads_entered"`
	LeadsWithAppointment int64     `json:"leads_with_appointment"`
	Won                  int64     `json:"won"`
	Lost                 int64     `json:"lost"`
	WinRate              *float64  `json:"win_rate"`
}

// WinRates reads rows from the weekly aggregate table for the requested
// dimension. Ranges wider than the configured cap are rejected to bound
// query cost.
func (s *Store) WinRates(ctx context.Context, tenantID string, q WinRateQuery) ([]WinRateRow, error) {
	from := WeekStart(q.FromWeek)
	to := WeekStart(q.ToWeek)
	if to.Before(from) {
		return nil, fmt.Errorf("%w: to_week before from_week", ErrValidationFailed)
	}
	capWeeks := s.WinRateRangeCapWeeks
	if capWeeks <= 0 {
		capWeeks = 26
	}
	if weeks := int(to.Sub(from).Hours()/(24*7)) + 1; weeks > capWeeks {
		return nil, fmt.Errorf("%w: range of %d weeks exceeds cap of %d", ErrValidationFailed, weeks, capWeeks)
	}

	ctx = db.WithTenant(ctx, tenantID)
	end := to.AddDate(0, 0, 7)

	var rows []WinRateRow
	switch q.Dimension {
	case DimensionSource:
		var stats []db.WeeklySourceStat
		query := s.DB.WithContext(ctx).
			Where("tenant_id = ? AND week_start >= ? AND week_start < ?", tenantID, from, end)
		if q.IntentType != "" {
			query = query.Where("intent_type = ?", q.IntentType)
		}
		if err := query.Order("week_start asc, source_key asc, intent_type asc").Find(&stats).Error; err != nil {
			return nil, err
		}
		for _, st := range stats {
			rows = append(rows, WinRateRow{
				WeekStart:            st.WeekStart,
				Key:                  st.SourceKey,
				IntentType:           st.IntentType,
				LeadsEntered:         st.LeadsEntered,
				LeadsWithAppointment: st.LeadsWithAppointment,
				Won:                  st.Won,
				Lost:                 st.Lost,
				WinRate:              st.WinRate,
			})
		}
	case DimensionGeo:
		var stats []db.WeeklyGeoStat
		query := s.DB.WithContext(ctx).
			Where("tenant_id = ? AND week_start >= ? AND week_start < ?", tenantID, from, end)
		if q.IntentType != "" {
			query = query.Where("intent_type = ?", q.IntentType)
		}
		if err := query.Order("week_start asc, geo_key asc, intent_type asc").Find(&stats).Error; err != nil {
			return nil, err
		}
		for _, st := range stats {
			rows = append(rows, WinRateRow{
				WeekStart:            st.WeekStart,
				Key:                  st.GeoKey,
				IntentType:           st.IntentType,
				LeadsEntered:         st.LeadsEntered,
				LeadsWithAppointment: st.LeadsWithAppointment,
				Won:                  st.Won,
				Lost:                 st.Lost,
				WinRate:              st.WinRate,
			})
		}
	default:
		return nil, fmt.Errorf("%w: dimension must be %q or %q", ErrValidationFailed, DimensionSource, DimensionGeo)
	}

	if q.MinDenominator > 0 {
		kept := rows[:0]
		for _, r := range rows {
			if r.Won+r.Lost >= int64(q.MinDenominator) {
				kept = append(kept, r)
			}
		}
		rows = kept
	}
	return rows, nil
}

// ListAlerts returns the tenant's undismissed alerts, newest first.
func (s *Store) ListAlerts(ctx context.Context, tenantID string) ([]db.Alert, error) {
	ctx = db.WithTenant(ctx, tenantID)
	var alerts []db.Alert
	err := s.DB.WithContext(ctx).
		Where("tenant_id = ? AND dismissed_at IS NULL", tenantID).
		Order("created_at desc").
		Find(&alerts).Error
	return alerts, err
}

// DismissAlert marks an alert dismissed by the given operator. Dismissing an
// already-dismissed or foreign alert reports ErrAlertNotFound.
func (s *Store) DismissAlert(ctx context.Context, tenantID, alertID, dismissedBy string) error {
	if dismissedBy == "" {
		return fmt.Errorf("%w: dismissed_by is required", ErrValidationFailed)
	}
	ctx = db.WithTenant(ctx, tenantID)
	now := s.now()
	res := s.DB.WithContext(ctx).Model(&db.Alert{}).
		Where("tenant_id = ? AND id = ? AND dismissed_at IS NULL", tenantID, alertID).
		Updates(map[string]interface{}{
			"dismissed_at": now,
			"dismissed_by": dismissedBy,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}
