package store

import "time"

// Fields tracked by the request audit trail.
const (
	HistoryFieldStatus              = "status"
	HistoryFieldAssignedTo          = "assigned_to"
	HistoryFieldClassification      = "classification"
	HistoryFieldClassificationScore = "classification_score"
	HistoryFieldSLABreached         = "sla_breached"
	HistoryFieldRespondedBy         = "responded_by"
)

// RequestHistory is one append-only diff entry for a tracked request field.
type RequestHistory struct {
	ID        int64
	RequestID string
	Field     string
	OldValue  *string
	NewValue  *string
	ChangedBy string
	Reason    string
	ChangedAt time.Time
}

// AuditContext attributes a request mutation. It is passed explicitly by the
// caller rather than smuggled through ambient state.
type AuditContext struct {
	ChangedBy string
	Reason    string
}

// SystemAudit is the attribution used by engine-internal mutations.
func SystemAudit(reason string) AuditContext {
	return AuditContext{ChangedBy: "system", Reason: reason}
}
