package ledger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"leadledger/internal/db"
)

// LeadInput is the intake contract for the upstream lead-capture form.
// Leads are created and updated through here; they are never deleted.
type LeadInput struct {
	SourceKey      string `validate:"required"`
	GeoKey         string `validate:"required"`
	IntentType     string `validate:"required,oneof=buyer seller"`
	TimelineBucket string
	PriceBand      string
	AssignedTo     string
	Tier           string `validate:"omitempty,oneof=A B C D"`
	Metadata       map[string]any
}

// CreateLead registers a new lead for the tenant.
func (s *Store) CreateLead(ctx context.Context, tenantID string, in LeadInput) (db.Lead, error) {
	if err := validate.Struct(in); err != nil {
		return db.Lead{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	now := s.now()
	lead := db.Lead{
		ID:             db.NewID(),
		TenantID:       tenantID,
		CreatedAt:      now,
		UpdatedAt:      now,
		SourceKey:      in.SourceKey,
		GeoKey:         in.GeoKey,
		IntentType:     in.IntentType,
		TimelineBucket: in.TimelineBucket,
		PriceBand:      in.PriceBand,
		AssignedTo:     in.AssignedTo,
		Tier:           in.Tier,
		LastActivityAt: now,
		Metadata:       datatypes.JSONMap(in.Metadata),
	}

	ctx = db.WithTenant(ctx, tenantID)
	if err := s.DB.WithContext(ctx).Create(&lead).Error; err != nil {
		return db.Lead{}, err
	}
	return lead, nil
}

// LeadUpdate carries partial attribute updates; nil fields are untouched.
type LeadUpdate struct {
	SourceKey      *string
	GeoKey         *string
	IntentType     *string `validate:"omitempty,oneof=buyer seller"`
	TimelineBucket *string
	PriceBand      *string
	AssignedTo     *string
	Tier           *string `validate:"omitempty,oneof=A B C D"`
	Metadata       map[string]any
}

// UpdateLead applies a partial update to a lead's mutable attributes and
// refreshes its activity timestamp. Snapshots embedded in already-recorded
// events are unaffected.
func (s *Store) UpdateLead(ctx context.Context, tenantID, leadID string, in LeadUpdate) (db.Lead, error) {
	if err := validate.Struct(in); err != nil {
		return db.Lead{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	ctx = db.WithTenant(ctx, tenantID)
	now := s.now()

	var lead db.Lead
	if err := s.DB.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, leadID).Limit(1).Find(&lead).Error; err != nil {
		return db.Lead{}, err
	}
	if lead.ID == "" {
		return db.Lead{}, ErrLeadNotFound
	}

	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&lead.SourceKey, in.SourceKey)
	set(&lead.GeoKey, in.GeoKey)
	set(&lead.IntentType, in.IntentType)
	set(&lead.TimelineBucket, in.TimelineBucket)
	set(&lead.PriceBand, in.PriceBand)
	set(&lead.AssignedTo, in.AssignedTo)
	set(&lead.Tier, in.Tier)
	if in.Metadata != nil {
		if lead.Metadata == nil {
			lead.Metadata = datatypes.JSONMap{}
		}
		for k, v := range in.Metadata {
			lead.Metadata[k] = v
		}
	}
	lead.UpdatedAt = now
	lead.LastActivityAt = now

	if err := s.DB.WithContext(ctx).Save(&lead).Error; err != nil {
		return db.Lead{}, err
	}
	return lead, nil
}

// TouchLeadActivity bumps last_activity_at without changing attributes, for
// collaborators that report non-outcome activity (calls, notes).
func (s *Store) TouchLeadActivity(ctx context.Context, tenantID, leadID string, at time.Time) error {
	ctx = db.WithTenant(ctx, tenantID)
	res := s.DB.WithContext(ctx).Model(&db.Lead{}).
		Where("tenant_id = ? AND id = ?", tenantID, leadID).
		Update("last_activity_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeadNotFound
	}
	return nil
}
