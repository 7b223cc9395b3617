package ledger

import "errors"

// Caller-facing error kinds. All of these describe caller/input problems and
// are never retried; handlers map them to HTTP statuses with errors.Is.
var (
	// ErrLeadNotFound covers both true absence and cross-tenant access.
	// The two must never be distinguishable to the caller.
	ErrLeadNotFound = errors.New("lead not found")

	// ErrConflictingTerminalOutcome is the hard sequence block: a lead that
	// has reached one terminal state cannot reach the other.
	ErrConflictingTerminalOutcome = errors.New("conflicting terminal outcome")

	ErrFutureOccurredAt   = errors.New("occurred_at is in the future")
	ErrInvalidOutcomeType = errors.New("invalid outcome type")
	ErrValidationFailed   = errors.New("validation failed")

	ErrAlertNotFound = errors.New("alert not found")
	ErrEventNotFound = errors.New("outcome event not found")

	// ErrStorageUnavailable is surfaced after the write path has exhausted
	// its bounded retries against a transient storage failure.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
