package store

import "time"

// Notification is an in-app notification row for the admin surface. The UI
// polls; there is no push channel.
type Notification struct {
	ID          int64
	RecipientID string // telegram ID or accountant UUID, as resolved
	Title       string
	Body        string
	RequestID   *string
	CreatedAt   time.Time
	ReadAt      *time.Time
}

type FindNotification struct {
	RecipientID *string
	UnreadOnly  bool
	Limit       *int
}
