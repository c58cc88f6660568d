package store

import "time"

// ChatKind mirrors the platform chat type.
type ChatKind string

const (
	ChatKindPrivate    ChatKind = "private"
	ChatKindGroup      ChatKind = "group"
	ChatKindSupergroup ChatKind = "supergroup"
)

// ClientTier classifies the chat's client for SLA defaults and sorting.
type ClientTier string

const (
	TierBasic    ClientTier = "basic"
	TierStandard ClientTier = "standard"
	TierVIP      ClientTier = "vip"
	TierPremium  ClientTier = "premium"
)

// TierRank orders tiers for operational listings: lower rank sorts first.
func TierRank(t ClientTier) int {
	switch t {
	case TierPremium:
		return 0
	case TierVIP:
		return 1
	case TierStandard:
		return 2
	case TierBasic:
		return 3
	default:
		return 4
	}
}

// Chat is a monitored group chat. Identity is the platform chat ID, a 64-bit
// signed integer (group IDs routinely exceed the 53-bit float-safe range).
type Chat struct {
	ID                   int64
	Title                *string
	Kind                 ChatKind
	MonitoringEnabled    bool
	SLAEnabled           bool
	NotifyInChatOnBreach bool
	Is24x7               bool
	SLAThresholdMinutes  *int
	ClientTier           *ClientTier

	// Responder identification, in order of trust: ID set, username set,
	// single legacy username.
	AccountantTelegramIDs []int64
	AccountantUsernames   []string
	AccountantUsername    *string

	AssignedAccountantID *string // accountant UUID
	ManagerTelegramIDs   []string

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time

	// AssignedAccountant is eager-loaded when requested via FindChat.
	AssignedAccountant *Accountant
}

// Deleted reports whether the chat has been soft-deleted. Deletion implicitly
// disables monitoring.
func (c *Chat) Deleted() bool {
	return c.DeletedAt != nil
}

// Accountant is a designated responder known to the admin surface.
type Accountant struct {
	ID               string // UUID
	DisplayName      string
	TelegramID       *int64
	TelegramUsername *string
	CreatedAt        time.Time
}

type FindChat struct {
	ID              *int64
	IncludeDeleted  bool
	WithAccountant  bool // eager-load the assigned accountant row
	MonitoringOnly  bool
	Limit           *int
}

type UpdateChat struct {
	ID                    int64
	Title                 *string
	MonitoringEnabled     *bool
	SLAEnabled            *bool
	NotifyInChatOnBreach  *bool
	Is24x7                *bool
	SLAThresholdMinutes   *int
	ClientTier            *ClientTier
	AccountantTelegramIDs *[]int64
	AccountantUsernames   *[]string
	AccountantUsername    *string
	AssignedAccountantID  *string
	ManagerTelegramIDs    *[]string
	DeletedAt             *time.Time
}
