package ledger

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"leadledger/internal/db"
)

// CorrectionInput describes an audited correction of a wrongly-recorded
// terminal outcome. This is the only path around the terminal hard block,
// and it leaves a full trail: the original event stays in the log, the
// correction event names it and carries the operator's reason.
type CorrectionInput struct {
	LeadID      string `validate:"required"`
	OutcomeType string `validate:"required"`
	Reason      string `validate:"required"`
	RecordedBy  string `validate:"required"`
}

// CorrectTerminalOutcome retracts the lead's standing terminal outcome and
// records OutcomeType in its place. The lead's state is rebuilt from scratch
// by replaying the effective event list, so the monotonic terminal flags can
// legitimately change here and nowhere else.
func (s *Store) CorrectTerminalOutcome(ctx context.Context, tenantID string, in CorrectionInput) (RecordResult, error) {
	if err := validate.Struct(in); err != nil {
		return RecordResult{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	stage, err := StageFor(in.OutcomeType)
	if err != nil {
		return RecordResult{}, err
	}

	now := s.now()
	ctx = db.WithTenant(ctx, tenantID)

	var result RecordResult
	err = s.withRetry(func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			lead, err := s.lockLead(ctx, tx, tenantID, in.LeadID)
			if err != nil {
				return err
			}

			prior, err := priorEvents(ctx, tx, tenantID, lead.ID)
			if err != nil {
				return err
			}

			// Find the terminal outcome that currently stands.
			var target *db.OutcomeEvent
			effective := EffectiveEvents(prior)
			for i := len(effective) - 1; i >= 0; i-- {
				if IsTerminal(effective[i].OutcomeType) {
					target = &effective[i]
					break
				}
			}
			if target == nil {
				return fmt.Errorf("%w: lead has no terminal outcome to correct", ErrValidationFailed)
			}
			if target.OutcomeType == in.OutcomeType {
				return fmt.Errorf("%w: lead already has outcome %q", ErrValidationFailed, in.OutcomeType)
			}

			event := db.OutcomeEvent{
				ID:          db.NewID(),
				TenantID:    tenantID,
				LeadID:      lead.ID,
				CreatedAt:   now,
				OutcomeType: in.OutcomeType,
				Stage:       stage,
				OccurredAt:  now,
				RecordedBy:  in.RecordedBy,
				Metadata: datatypes.JSONMap{
					"attribution": snapshotMap(Snapshot(lead)),
					"correction":  true,
					"corrects":    target.ID,
					"reason":      in.Reason,
				},
			}
			if err := tx.Create(&event).Error; err != nil {
				return err
			}

			state := ReplayState(tenantID, lead.ID, append(prior, event), now)
			if err := upsertState(tx, state); err != nil {
				return err
			}

			result = RecordResult{EventID: event.ID}
			return nil
		})
	})
	if err != nil {
		return RecordResult{}, err
	}

	s.Log.WithFields(logrus.Fields{
		"tenant":   tenantID,
		"lead":     in.LeadID,
		"outcome":  in.OutcomeType,
		"event_id": result.EventID,
		"reason":   in.Reason,
	}).Warn("terminal outcome corrected")

	return result, nil
}
