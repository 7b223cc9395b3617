package ledger

import (
	"time"

	"leadledger/internal/db"
)

// applyEvent folds one accepted event into a lead's denormalized state.
// Stage tracks the newest event; the terminal flags are monotonic once set,
// reinforcing the validator's hard block at the projection layer.
func applyEvent(state *db.LeadState, ev db.OutcomeEvent) {
	state.Stage = ev.Stage
	state.LastOutcomeType = ev.OutcomeType
	state.LastOutcomeAt = ev.OccurredAt

	switch ev.Stage {
	case StageWon:
		state.WonFlag = true
	case StageLost:
		state.LostFlag = true
	case StageInvalid:
		state.InvalidFlag = true
	}
}

// ReplayState recomputes a lead's state from scratch as a fold over its
// effective event list. The event log is ground truth; the stored state row
// is only a read optimization and must always equal this fold.
func ReplayState(tenantID, leadID string, events []db.OutcomeEvent, now time.Time) db.LeadState {
	state := db.LeadState{
		TenantID:  tenantID,
		LeadID:    leadID,
		UpdatedAt: now,
	}
	for _, ev := range EffectiveEvents(events) {
		applyEvent(&state, ev)
	}
	return state
}

// IsCorrection reports whether ev is an audited correction of a prior
// terminal outcome.
func IsCorrection(ev db.OutcomeEvent) bool {
	v, _ := ev.Metadata["correction"].(bool)
	return v
}

// CorrectedEventID returns the id of the event a correction retracts.
func CorrectedEventID(ev db.OutcomeEvent) string {
	v, _ := ev.Metadata["corrects"].(string)
	return v
}

// EffectiveEvents filters out events that have been retracted by a later
// correction. Corrections themselves remain in the effective list; they carry
// the outcome that now stands. Input order is preserved.
func EffectiveEvents(events []db.OutcomeEvent) []db.OutcomeEvent {
	corrected := make(map[string]bool)
	for _, ev := range events {
		if id := CorrectedEventID(ev); id != "" {
			corrected[id] = true
		}
	}
	if len(corrected) == 0 {
		return events
	}
	kept := make([]db.OutcomeEvent, 0, len(events))
	for _, ev := range events {
		if corrected[ev.ID] {
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}
