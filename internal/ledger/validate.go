package ledger

import (
	"time"

	"leadledger/internal/db"
)

// Sequence warnings attached to otherwise-successful writes. Warnings are
// informational annotations, never errors.
const (
	WarnAppointmentBeforeContacted = "sequence_warning: appointment_set before contacted"
	WarnOutcomeAfterInvalid        = "sequence_warning: outcome recorded after invalid"
)

// Candidate is a proposed new outcome for a lead.
type Candidate struct {
	OutcomeType string
	OccurredAt  time.Time
}

// Decision is the result of validating a candidate against a lead's prior
// outcome history.
type Decision struct {
	Accept   bool
	Warnings []string
	Err      error
}

// Validate inspects a lead's prior outcomes (ordered oldest to newest) and a
// candidate new outcome. Pure: no clock reads, no storage access; "now" is an
// argument.
//
// Out-of-order arrival of non-terminal outcomes (e.g. two "contacted" events)
// is always accepted; the only hard ordering constraint is that the two
// terminal outcomes are mutually exclusive.
func Validate(prior []db.OutcomeEvent, candidate Candidate, now time.Time) Decision {
	// Hard block: one terminal state cannot follow the other.
	if IsTerminal(candidate.OutcomeType) {
		for _, ev := range prior {
			if IsTerminal(ev.OutcomeType) && ev.OutcomeType != candidate.OutcomeType {
				return Decision{Err: ErrConflictingTerminalOutcome}
			}
		}
	}

	var warnings []string

	if candidate.OutcomeType == OutcomeAppointmentSet {
		contacted := false
		for _, ev := range prior {
			if ev.OutcomeType == OutcomeContacted {
				contacted = true
				break
			}
		}
		if !contacted {
			warnings = append(warnings, WarnAppointmentBeforeContacted)
		}
	}

	if candidate.OutcomeType != OutcomeInvalid {
		for _, ev := range prior {
			if ev.OutcomeType == OutcomeInvalid {
				warnings = append(warnings, WarnOutcomeAfterInvalid)
				break
			}
		}
	}

	if candidate.OccurredAt.After(now) {
		return Decision{Err: ErrFutureOccurredAt}
	}

	return Decision{Accept: true, Warnings: warnings}
}
