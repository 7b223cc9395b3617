package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"leadledger/internal/config"
	"leadledger/internal/db"
)

const (
	writeAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

var validate = validator.New()

// Store is the tenant-scoped write/read facade over the outcome event log.
// Every public method takes the tenant id as its first argument and every
// underlying query filters on it (belt) while the tenant guard plugin injects
// the same filter from context (suspenders).
type Store struct {
	DB  *gorm.DB
	Log *logrus.Logger
	Now func() time.Time

	// WinRateRangeCapWeeks bounds WinRates query spans.
	WinRateRangeCapWeeks int
}

// NewStore returns a Store with production defaults.
func NewStore(gdb *gorm.DB) *Store {
	return &Store{
		DB:                   gdb,
		Log:                  config.Logger(),
		Now:                  time.Now,
		WinRateRangeCapWeeks: 26,
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// RecordOutcomeInput is the write contract for a single outcome.
type RecordOutcomeInput struct {
	LeadID      string `validate:"required"`
	OutcomeType string `validate:"required"`
	// OccurredAt defaults to the current time when nil.
	OccurredAt *time.Time
	RecordedBy string `validate:"required"`
	Notes      string
	ValueBand  string
	ReasonCode string
}

// RecordResult reports a stored event id plus any sequence warnings that were
// attached to the write.
type RecordResult struct {
	EventID  string   `json:"event_id"`
	Warnings []string `json:"warnings,omitempty"`
}

// RecordOutcome appends one outcome event for a lead and synchronously
// updates the lead's derived state. The event append and the state update are
// coupled in a single transaction; a caller never observes one without the
// other. Writes for the same lead serialize on the lead row lock, so the
// validator always sees the complete prior event list.
func (s *Store) RecordOutcome(ctx context.Context, tenantID string, in RecordOutcomeInput) (RecordResult, error) {
	if err := validate.Struct(in); err != nil {
		return RecordResult{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	stage, err := StageFor(in.OutcomeType)
	if err != nil {
		return RecordResult{}, err
	}

	now := s.now()
	occurredAt := now
	if in.OccurredAt != nil {
		occurredAt = *in.OccurredAt
	}

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

			decision := Validate(EffectiveEvents(prior), Candidate{
				OutcomeType: in.OutcomeType,
				OccurredAt:  occurredAt,
			}, now)
			if decision.Err != nil {
				return decision.Err
			}

			meta := datatypes.JSONMap{
				"attribution": snapshotMap(Snapshot(lead)),
			}
			if len(decision.Warnings) > 0 {
				warnings := make([]any, 0, len(decision.Warnings))
				for _, w := range decision.Warnings {
					warnings = append(warnings, w)
				}
				meta["warnings"] = warnings
			}
			if in.ValueBand != "" {
				meta["value_band"] = in.ValueBand
			}
			if in.ReasonCode != "" {
				meta["reason_code"] = in.ReasonCode
			}

			event := db.OutcomeEvent{
				ID:          db.NewID(),
				TenantID:    tenantID,
				LeadID:      lead.ID,
				CreatedAt:   now,
				OutcomeType: in.OutcomeType,
				Stage:       stage,
				OccurredAt:  occurredAt,
				RecordedBy:  in.RecordedBy,
				Notes:       in.Notes,
				Metadata:    meta,
			}
			if err := tx.Create(&event).Error; err != nil {
				return err
			}

			if err := s.projectEvent(ctx, tx, tenantID, lead.ID, event, now); err != nil {
				return err
			}

			// Recording an outcome counts as activity for staleness purposes.
			if err := tx.Model(&db.Lead{}).
				Where("tenant_id = ? AND id = ?", tenantID, lead.ID).
				Update("last_activity_at", now).Error; err != nil {
				return err
			}

			result = RecordResult{EventID: event.ID, Warnings: decision.Warnings}
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
		"warnings": len(result.Warnings),
	}).Info("outcome recorded")

	return result, nil
}

// BulkOutcomeResult is the per-lead result of a bulk write.
type BulkOutcomeResult struct {
	LeadID   string   `json:"lead_id"`
	EventID  string   `json:"event_id,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// BulkRecordOutcome applies the single-outcome path independently per lead.
// Partial failure is allowed: successes are not rolled back and every lead
// gets its own result row.
func (s *Store) BulkRecordOutcome(ctx context.Context, tenantID string, leadIDs []string, in RecordOutcomeInput) []BulkOutcomeResult {
	results := make([]BulkOutcomeResult, 0, len(leadIDs))
	for _, leadID := range leadIDs {
		one := in
		one.LeadID = leadID
		res, err := s.RecordOutcome(ctx, tenantID, one)
		out := BulkOutcomeResult{LeadID: leadID}
		if err != nil {
			out.Error = err.Error()
		} else {
			out.EventID = res.EventID
			out.Warnings = res.Warnings
		}
		results = append(results, out)
	}
	return results
}

// lockLead loads the lead row under a row lock so concurrent writes for the
// same lead serialize. Absence and cross-tenant access are indistinguishable.
func (s *Store) lockLead(ctx context.Context, tx *gorm.DB, tenantID, leadID string) (db.Lead, error) {
	q := tx.Where("tenant_id = ? AND id = ?", tenantID, leadID)
	// SQLite (tests) serializes writers at the database level and rejects
	// FOR UPDATE, so the row lock is postgres-only.
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var lead db.Lead
	if err := q.Limit(1).Find(&lead).Error; err != nil {
		return db.Lead{}, err
	}
	if lead.ID == "" {
		return db.Lead{}, ErrLeadNotFound
	}
	return lead, nil
}

// priorEvents returns the lead's full event list, oldest first.
func priorEvents(ctx context.Context, tx *gorm.DB, tenantID, leadID string) ([]db.OutcomeEvent, error) {
	var events []db.OutcomeEvent
	err := tx.Where("tenant_id = ? AND lead_id = ?", tenantID, leadID).
		Order("occurred_at asc, created_at asc").
		Find(&events).Error
	return events, err
}

// projectEvent upserts the lead_state row from one newly accepted event.
func (s *Store) projectEvent(ctx context.Context, tx *gorm.DB, tenantID, leadID string, event db.OutcomeEvent, now time.Time) error {
	var state db.LeadState
	if err := tx.Where("tenant_id = ? AND lead_id = ?", tenantID, leadID).Limit(1).Find(&state).Error; err != nil {
		return err
	}
	if state.ID == 0 {
		state.TenantID = tenantID
		state.LeadID = leadID
	}
	applyEvent(&state, event)
	state.UpdatedAt = now
	return tx.Save(&state).Error
}

// upsertState replaces the lead_state row wholesale (used by the correction
// path after a full replay).
func upsertState(tx *gorm.DB, state db.LeadState) error {
	var existing db.LeadState
	if err := tx.Where("tenant_id = ? AND lead_id = ?", state.TenantID, state.LeadID).Limit(1).Find(&existing).Error; err != nil {
		return err
	}
	state.ID = existing.ID
	return tx.Save(&state).Error
}

// withRetry retries fn a bounded number of times on transient storage errors.
// Caller/input errors pass through untouched; after the attempts are spent a
// transient failure surfaces as ErrStorageUnavailable.
func (s *Store) withRetry(fn func() error) error {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt < writeAttempts {
			delay := time.Duration(attempt) * retryBaseDelay
			delay += time.Duration(rand.Int63n(int64(retryBaseDelay)))
			s.Log.WithFields(logrus.Fields{
				"attempt": attempt,
				"error":   err.Error(),
			}).Warn("transient storage error, retrying")
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

// isTransient separates retryable storage failures from caller errors.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, ErrLeadNotFound),
		errors.Is(err, ErrConflictingTerminalOutcome),
		errors.Is(err, ErrFutureOccurredAt),
		errors.Is(err, ErrInvalidOutcomeType),
		errors.Is(err, ErrValidationFailed),
		errors.Is(err, ErrAlertNotFound),
		errors.Is(err, ErrEventNotFound),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, gorm.ErrDuplicatedKey):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
