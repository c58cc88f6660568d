package store

import "time"

// Classification is the label assigned by the message classifier.
type Classification string

const (
	ClassificationRequest       Classification = "REQUEST"
	ClassificationClarification Classification = "CLARIFICATION"
	ClassificationSpam          Classification = "SPAM"
	ClassificationGratitude     Classification = "GRATITUDE"
)

// Valid reports whether c is one of the four known labels.
func (c Classification) Valid() bool {
	switch c {
	case ClassificationRequest, ClassificationClarification, ClassificationSpam, ClassificationGratitude:
		return true
	}
	return false
}

// RequestStatus is the lifecycle state of a tracked request.
type RequestStatus string

const (
	StatusPending       RequestStatus = "pending"
	StatusInProgress    RequestStatus = "in_progress"
	StatusWaitingClient RequestStatus = "waiting_client"
	StatusTransferred   RequestStatus = "transferred"
	StatusAnswered      RequestStatus = "answered"
	StatusEscalated     RequestStatus = "escalated"
	StatusClosed        RequestStatus = "closed"
)

// Request is a tracked client question awaiting a responder reply.
type Request struct {
	ID                  string // UUID
	ChatID              int64
	MessageID           int
	MessageText         string
	ClientUsername      *string
	Classification      Classification
	ClassificationScore float64
	Status              RequestStatus
	ReceivedAt          time.Time
	ResponseAt          *time.Time
	ResponseMessageID   *int
	RespondedBy         *string // accountant UUID
	ResponseTimeMinutes *int    // working minutes between ReceivedAt and ResponseAt
	SLABreached         bool
	AssignedTo          *string
	ThreadID            *string

	// ChatTier is populated by ListActiveRequests (joined from the chat row)
	// for tier-aware operational sorting. Not persisted on the request.
	ChatTier *ClientTier
}

// RequestOrder selects the receive-time ordering of list queries.
type RequestOrder string

const (
	// OrderOldestFirst (FIFO) is used by operational listings.
	OrderOldestFirst RequestOrder = "asc"
	// OrderNewestFirst (LIFO) is used by responder matching: the most recent
	// question usually wins in real chat flows.
	OrderNewestFirst RequestOrder = "desc"
)

type FindRequest struct {
	ID        *string
	ChatID    *int64
	MessageID *int
	Statuses  []RequestStatus
	Order     RequestOrder
	Limit     *int
}

// UpdateRequest is a partial patch; nil fields are left untouched.
type UpdateRequest struct {
	ID                  string
	Status              *RequestStatus
	Classification      *Classification
	ClassificationScore *float64
	ResponseAt          *time.Time
	ResponseMessageID   *int
	RespondedBy         *string
	ResponseTimeMinutes *int
	SLABreached         *bool
	AssignedTo          *string
}

// ClaimRequest is the atomic conditional update that moves a request into a
// terminal answer state. The update applies only while the current status is
// in FromStatuses; the driver reports how many rows actually changed (0 or 1),
// which is what makes concurrent responder claims race-free.
type ClaimRequest struct {
	ID                  string
	FromStatuses        []RequestStatus
	Status              RequestStatus
	ResponseAt          *time.Time
	ResponseMessageID   *int
	RespondedBy         *string
	ResponseTimeMinutes *int
	SLABreached         *bool
}
