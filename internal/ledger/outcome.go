package ledger

import (
	"fmt"
	"time"
)

// Outcome types. The enumeration and its stage mapping are fixed, not
// configurable per tenant.
const (
	OutcomeContacted      = "contacted"
	OutcomeAppointmentSet = "appointment_set"
	OutcomeListingSigned  = "listing_signed"
	OutcomeBuyerAgreement = "buyer_agreement"
	OutcomeClosedWon      = "closed_won"
	OutcomeClosedLost     = "closed_lost"
	OutcomeInvalid        = "invalid"
)

// Funnel stages derived from outcome types.
const (
	StageTopOfFunnel = "top_of_funnel"
	StageMidFunnel   = "mid_funnel"
	StageWon         = "won"
	StageLost        = "lost"
	StageInvalid     = "invalid"
)

var stageByOutcome = map[string]string{
	OutcomeContacted:      StageTopOfFunnel,
	OutcomeAppointmentSet: StageMidFunnel,
	OutcomeListingSigned:  StageMidFunnel,
	OutcomeBuyerAgreement: StageMidFunnel,
	OutcomeClosedWon:      StageWon,
	OutcomeClosedLost:     StageLost,
	OutcomeInvalid:        StageInvalid,
}

// stageRank orders stages by funnel depth, for "at most top_of_funnel"
// style comparisons. A lead with no recorded outcome ranks below all stages.
var stageRank = map[string]int{
	StageTopOfFunnel: 1,
	StageMidFunnel:   2,
	StageWon:         3,
	StageLost:        3,
	StageInvalid:     3,
}

// StageFor maps an outcome type to its funnel stage.
func StageFor(outcomeType string) (string, error) {
	stage, ok := stageByOutcome[outcomeType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidOutcomeType, outcomeType)
	}
	return stage, nil
}

// IsTerminal reports whether the outcome type ends the funnel one way or
// the other.
func IsTerminal(outcomeType string) bool {
	return outcomeType == OutcomeClosedWon || outcomeType == OutcomeClosedLost
}

// StageAtMost reports whether stage is no deeper than limit. An empty stage
// (no outcome yet) is treated as the shallowest possible.
func StageAtMost(stage, limit string) bool {
	return stageRank[stage] <= stageRank[limit]
}

// WeekStart truncates t to the start of its ISO week (Monday 00:00 UTC).
// Weekly aggregate rows are keyed on this.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday belongs to the week that started the prior Monday
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -(weekday - 1))
}
