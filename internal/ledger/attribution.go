package ledger

import (
	"context"

	"gorm.io/gorm"

	"leadledger/internal/db"
)

// AttributionSnapshot is a frozen copy of a lead's marketing attributes at
// the moment an outcome is recorded. Aggregation groups on the snapshot, not
// on the lead's (mutable) current attributes.
type AttributionSnapshot struct {
	SourceKey       string `json:"source_key"`
	GeoKey          string `json:"geo_key"`
	IntentType      string `json:"intent_type"`
	TimelineBucket  string `json:"timeline_bucket"`
	PriceBand       string `json:"price_band"`
	AssignedHandler string `json:"assigned_handler"`
}

// Snapshot copies the attribution attributes out of a lead row.
func Snapshot(lead db.Lead) AttributionSnapshot {
	return AttributionSnapshot{
		SourceKey:       lead.SourceKey,
		GeoKey:          lead.GeoKey,
		IntentType:      lead.IntentType,
		TimelineBucket:  lead.TimelineBucket,
		PriceBand:       lead.PriceBand,
		AssignedHandler: lead.AssignedTo,
	}
}

// ResolveAttribution reads a lead's current attributes and freezes them into
// a snapshot. A lead that does not exist and a lead belonging to another
// tenant produce the identical ErrLeadNotFound.
func ResolveAttribution(ctx context.Context, gdb *gorm.DB, tenantID, leadID string) (AttributionSnapshot, error) {
	ctx = db.WithTenant(ctx, tenantID)

	var lead db.Lead
	res := gdb.WithContext(ctx).Where("id = ?", leadID).Limit(1).Find(&lead)
	if res.Error != nil {
		return AttributionSnapshot{}, res.Error
	}
	if lead.ID == "" {
		return AttributionSnapshot{}, ErrLeadNotFound
	}
	return Snapshot(lead), nil
}

// snapshotMap renders the snapshot for storage inside event metadata.
func snapshotMap(s AttributionSnapshot) map[string]any {
	return map[string]any{
		"source_key":       s.SourceKey,
		"geo_key":          s.GeoKey,
		"intent_type":      s.IntentType,
		"timeline_bucket":  s.TimelineBucket,
		"price_band":       s.PriceBand,
		"assigned_handler": s.AssignedHandler,
	}
}

// SnapshotFromEvent recovers the attribution snapshot embedded in an event's
// metadata. Missing or malformed fields come back empty rather than failing;
// aggregation groups such events under the empty key.
func SnapshotFromEvent(ev db.OutcomeEvent) AttributionSnapshot {
	raw, _ := ev.Metadata["attribution"].(map[string]any)
	str := func(k string) string {
		v, _ := raw[k].(string)
		return v
	}
	return AttributionSnapshot{
		SourceKey:       str("source_key"),
		GeoKey:          str("geo_key"),
		IntentType:      str("intent_type"),
		TimelineBucket:  str("timeline_bucket"),
		PriceBand:       str("price_band"),
		AssignedHandler: str("assigned_handler"),
	}
}
