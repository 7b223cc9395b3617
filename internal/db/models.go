package db

import (
	"time"

	"gorm.io/datatypes"
)

// Tenant is the isolation boundary. Every other tenant-owned row carries
// TenantID and is scoped by the tenant guard plugin. Tenants are created at
// onboarding and deactivated rather than deleted.
type Tenant struct {
	ID        string `gorm:"primaryKey;size:36"`
	CreatedAt time.Time

	Name   string `gorm:"size:128;not null"`
	Active bool   `gorm:"default:true"`
}

// APIKey authenticates a caller as a tenant. The presented token is
// "<key-id>.<secret>"; only a bcrypt hash of the secret is stored.
type APIKey struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	TenantID string `gorm:"size:36;index;not null"`

	// KeyID is the public lookup half of the token.
	KeyID      string `gorm:"uniqueIndex;size:64;not null"`
	SecretHash string `gorm:"size:255;not null"`

	// Name is a user-friendly identifier for this key (e.g. "crm-sync").
	// It doubles as the default recorder identity for writes made with it.
	Name string `gorm:"size:128;not null"`

	Active bool `gorm:"default:true"`

	Tenant Tenant `gorm:"foreignKey:TenantID"`
}

// Lead is a prospective customer supplied by the upstream capture form.
// Attributes are mutable over time; leads are never deleted.
type Lead struct {
	ID       string `gorm:"primaryKey;size:36"`
	TenantID string `gorm:"size:36;index;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// SourceKey is the normalized campaign/referrer this lead came from.
	SourceKey string `gorm:"size:64;index"`
	// GeoKey is the normalized geography (e.g. zip or market area).
	GeoKey string `gorm:"size:64;index"`

	// IntentType is "buyer" or "seller".
	IntentType     string `gorm:"size:16;index"`
	TimelineBucket string `gorm:"size:32"`
	PriceBand      string `gorm:"size:32"`

	AssignedTo string `gorm:"size:128"`

	// Tier is the ranked quality class ("A" best, then "B", "C", "D").
	Tier string `gorm:"size:8;index"`

	LastActivityAt time.Time `gorm:"index"`

	// Metadata holds arbitrary key/value pairs so upstream intake can attach
	// campaign-specific fields without schema changes.
	Metadata datatypes.JSONMap `gorm:"type:json"`
}

// OutcomeEvent is an immutable fact about a lead. Once written it is never
// edited or deleted; the event log is the single source of truth and every
// other aggregate is derived from it.
type OutcomeEvent struct {
	ID       string `gorm:"primaryKey;size:36"`
	TenantID string `gorm:"size:36;index;not null"`
	LeadID   string `gorm:"size:36;index;not null"`

	CreatedAt time.Time

	OutcomeType string `gorm:"size:32;not null"`
	// Stage is derived from OutcomeType at write time (fixed mapping).
	Stage string `gorm:"size:32;not null"`

	// OccurredAt is when the outcome actually happened (caller-supplied,
	// never in the future). Aggregation buckets on this, not CreatedAt.
	OccurredAt time.Time `gorm:"index;not null"`

	RecordedBy string `gorm:"size:128"`
	Notes      string

	// Metadata carries the attribution snapshot frozen at record time, any
	// sequence warnings, and optional value_band / reason_code. Correction
	// events additionally carry correction=true, corrects and reason.
	Metadata datatypes.JSONMap `gorm:"type:json"`
}

// LeadState is the denormalized current state of a lead, recomputed after
// every accepted event. The event log can rebuild it from scratch at any time.
type LeadState struct {
	ID uint `gorm:"primaryKey"`

	TenantID string `gorm:"size:36;uniqueIndex:idx_lead_state_unique,priority:1;not null"`
	LeadID   string `gorm:"size:36;uniqueIndex:idx_lead_state_unique,priority:2;not null"`

	Stage           string `gorm:"size:32;not null"`
	LastOutcomeType string `gorm:"size:32;not null"`
	LastOutcomeAt   time.Time

	// Won and Lost are mutually exclusive and monotonic once set; only the
	// audited correction path may rewrite them (via a full replay).
	WonFlag     bool `gorm:"default:false"`
	LostFlag    bool `gorm:"default:false"`
	InvalidFlag bool `gorm:"default:false"`

	UpdatedAt time.Time
}

// WeeklySourceStat stores pre-aggregated weekly win-rate rows per
// (tenant, week, source, intent). Filled by the aggregation worker; upserted
// idempotently so re-running a week overwrites rather than duplicates.
type WeeklySourceStat struct {
	ID uint `gorm:"primaryKey"`

	TenantID   string    `gorm:"size:36;uniqueIndex:idx_weekly_source_unique,priority:1;not null"`
	WeekStart  time.Time `gorm:"uniqueIndex:idx_weekly_source_unique,priority:2;not null"` // Monday 00:00 UTC
	SourceKey  string    `gorm:"size:64;uniqueIndex:idx_weekly_source_unique,priority:3;not null"`
	IntentType string    `gorm:"size:16;uniqueIndex:idx_weekly_source_unique,priority:4;not null"`

	LeadsEntered         int64 `gorm:"not null"`
	LeadsWithAppointment int64 `gorm:"not null"`
	Won                  int64 `gorm:"not null"`
	Lost                 int64 `gorm:"not null"`

	// WinRate is won/(won+lost); nil when the denominator is zero.
	WinRate *float64
}

// WeeklyGeoStat is the geography view of WeeklySourceStat.
type WeeklyGeoStat struct {
	ID uint `gorm:"primaryKey"`

	TenantID   string    `gorm:"size:36;uniqueIndex:idx_weekly_geo_unique,priority:1;not null"`
	WeekStart  time.Time `gorm:"uniqueIndex:idx_weekly_geo_unique,priority:2;not null"`
	GeoKey     string    `gorm:"size:64;uniqueIndex:idx_weekly_geo_unique,priority:3;not null"`
	IntentType string    `gorm:"size:16;uniqueIndex:idx_weekly_geo_unique,priority:4;not null"`

	LeadsEntered         int64 `gorm:"not null"`
	LeadsWithAppointment int64 `gorm:"not null"`
	Won                  int64 `gorm:"not null"`
	Lost                 int64 `gorm:"not null"`

	WinRate *float64
}

// Alert is an operator-facing notice filed by the staleness monitor.
// Dismissed only by explicit operator action.
type Alert struct {
	ID       string `gorm:"primaryKey;size:36"`
	TenantID string `gorm:"size:36;index;not null"`

	CreatedAt time.Time

	Category string `gorm:"size:32;not null"`
	Code     string `gorm:"size:64;not null"`
	Severity string `gorm:"size:16;not null"`
	Message  string `gorm:"not null"`

	// Evidence is the payload backing the alert (e.g. stale lead ids + count).
	Evidence datatypes.JSONMap `gorm:"type:json"`

	// Fingerprint identifies the exact condition that raised the alert so a
	// rerun over an unchanged lead set does not file a duplicate.
	Fingerprint string `gorm:"size:64;index"`

	DismissedAt *time.Time `gorm:"index"`
	DismissedBy string     `gorm:"size:128"`
}

// JobRun is the audit record of one scheduled job execution. It also backs
// the non-overlap guard: a new run for the same (job, period) is refused
// while one is still "running".
type JobRun struct {
	ID uint `gorm:"primaryKey"`

	JobName string `gorm:"size:64;index:idx_job_run_guard,priority:1;not null"`
	// Period identifies the slice of time the run covers (e.g. week start
	// for aggregation, calendar day for staleness).
	Period string `gorm:"size:32;index:idx_job_run_guard,priority:2;not null"`

	Status string `gorm:"size:16;index:idx_job_run_guard,priority:3;not null"` // running, success, failed

	StartedAt  time.Time `gorm:"not null"`
	FinishedAt *time.Time

	RecordsProcessed int64
	Error            string
}
