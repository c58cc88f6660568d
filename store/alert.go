package store

import "time"

// AlertType distinguishes early warnings from actual breaches.
type AlertType string

const (
	AlertTypeWarning AlertType = "warning"
	AlertTypeBreach  AlertType = "breach"
)

// Alert is one SLA event recorded for a request. The (RequestID, Level,
// AlertType) triple is unique: re-delivered timer jobs must not multiply
// alerts.
type Alert struct {
	ID              string // UUID
	RequestID       string
	AlertType       AlertType
	Level           int
	MinutesElapsed  int
	SentAt          time.Time
	Recipients      []string // snapshot of resolved recipient IDs
	ResolvedAction  *string
	ResolutionNotes *string
	AcknowledgedAt  *time.Time
	AcknowledgedBy  *string
}

type FindAlert struct {
	RequestID  *string
	AlertType  *AlertType
	Unresolved bool
	Limit      *int
}

type ResolveAlert struct {
	ID              string
	ResolvedAction  string
	ResolutionNotes *string
	AcknowledgedBy  string
}
