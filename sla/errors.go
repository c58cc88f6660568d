// Package sla implements the SLA engine: configuration resolution, responder
// identification, the request lifecycle state machine, breach timers, the
// escalation worker, and the message ingress pipeline.
package sla

import (
	"errors"
	"fmt"

	"github.com/replywatch/replywatch/store"
)

// ErrRaceLost reports that an atomic claim changed zero rows: a competing
// actor answered first. Callers swallow it and exit silently.
var ErrRaceLost = errors.New("request already claimed by a competing actor")

// ErrChatNotFound reports that the chat row is missing or soft-deleted.
var ErrChatNotFound = errors.New("chat not found")

// ErrRequestNotFound reports that the request row is missing.
var ErrRequestNotFound = errors.New("request not found")

// InvalidTransitionError rejects a status change not listed in the lifecycle
// matrix. No write occurs on rejection.
type InvalidTransitionError struct {
	From store.RequestStatus
	To   store.RequestStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
