package store

import "time"

// ChatMessage is the raw inbound message log kept for observability. Writing
// it is best-effort: a failed insert never aborts the ingress pipeline.
type ChatMessage struct {
	ID             int64 // auto-increment
	ChatID         int64
	MessageID      int
	SenderID       int64
	SenderUsername *string
	Text           string
	IsAccountant   bool
	RequestID      *string // resolved afterwards for responder messages
	SentAt         time.Time
}

type FindChatMessage struct {
	ChatID *int64
	Limit  *int
}
