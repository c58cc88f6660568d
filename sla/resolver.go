package sla

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/replywatch/replywatch/store"
	"github.com/replywatch/replywatch/workhours"
)

const settingsCacheKey = "global_settings"

// tierThresholds maps the client tier to its default SLA threshold in working
// minutes. Used when the chat row carries no explicit threshold.
var tierThresholds = map[store.ClientTier]int{
	store.TierBasic:    120,
	store.TierStandard: 60,
	store.TierVIP:      30,
	store.TierPremium:  15,
}

// RecipientTier reports which layer produced an alert's recipient list.
type RecipientTier string

const (
	RecipientTierAccountant RecipientTier = "accountant"
	RecipientTierManager    RecipientTier = "manager"
	RecipientTierBoth       RecipientTier = "both"
	RecipientTierFallback   RecipientTier = "fallback"
)

// Resolver merges chat-local settings, tier defaults, and the global settings
// row into the values the engine uses at runtime. The global row is cached for
// five minutes; reads serve stale data when the store is down.
type Resolver struct {
	store *store.Store
}

func NewResolver(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

// Settings returns the global settings row, cached. Never returns nil: a
// missing row and a failing store both degrade to the hard-coded fallbacks
// (stale cache first, when present).
func (r *Resolver) Settings(ctx context.Context) *store.GlobalSettings {
	cached, ok, fresh := r.store.SettingsCache.Get(settingsCacheKey)
	if ok && fresh {
		return cached.(*store.GlobalSettings)
	}

	loaded, err := r.store.GetGlobalSettings(ctx)
	if err != nil {
		slog.Warn("failed to load global settings, serving stale", "error", err)
		if ok {
			return cached.(*store.GlobalSettings)
		}
		return store.DefaultGlobalSettings()
	}
	if loaded == nil {
		return store.DefaultGlobalSettings()
	}

	r.store.SettingsCache.Set(settingsCacheKey, loaded)
	return loaded
}

// Invalidate clears the cached settings row. Called by admin mutations.
func (r *Resolver) Invalidate() {
	r.store.SettingsCache.Delete(settingsCacheKey)
}

// ThresholdFor resolves the SLA threshold for a chat: explicit chat setting,
// then tier default, then the global default.
func (r *Resolver) ThresholdFor(chat *store.Chat, settings *store.GlobalSettings) int {
	if chat.SLAThresholdMinutes != nil && *chat.SLAThresholdMinutes > 0 {
		return *chat.SLAThresholdMinutes
	}
	if chat.ClientTier != nil {
		if t, ok := tierThresholds[*chat.ClientTier]; ok {
			return t
		}
	}
	if settings.DefaultSLAThreshold > 0 {
		return settings.DefaultSLAThreshold
	}
	return store.FallbackSLAThreshold
}

// ScheduleFor resolves the working schedule for a chat: 24/7 mode wins, then
// active per-chat rows, then the global schedule. A global 00:00-23:59 window
// across all seven days is treated as around-the-clock by the workhours layer.
func (r *Resolver) ScheduleFor(ctx context.Context, chat *store.Chat, settings *store.GlobalSettings) *workhours.Schedule {
	if chat != nil && chat.Is24x7 {
		return workhours.Always24x7()
	}

	holidays := r.holidayDates(ctx)

	if chat != nil {
		rows, err := r.store.ListWorkSchedules(ctx, chat.ID)
		if err != nil {
			slog.Warn("failed to load chat schedule, using global", "chat_id", chat.ID, "error", err)
		} else if sched := scheduleFromRows(rows, holidays); sched != nil {
			return sched
		}
	}

	sched, err := workhours.New(settings.Timezone, settings.WorkingDays, settings.StartTime, settings.EndTime, holidays)
	if err != nil {
		slog.Error("invalid global schedule, using fallback", "error", err)
		sched, _ = workhours.New(store.FallbackTimezone, []int{1, 2, 3, 4, 5},
			store.FallbackStartTime, store.FallbackEndTime, nil)
	}
	return sched
}

// scheduleFromRows builds a schedule from active per-chat rows. The first
// active row fixes the window and timezone; remaining active rows contribute
// their weekdays. Returns nil when no row is active.
func scheduleFromRows(rows []*store.WorkSchedule, holidays []string) *workhours.Schedule {
	var days []int
	var first *store.WorkSchedule
	for _, row := range rows {
		if !row.IsActive {
			continue
		}
		if first == nil {
			first = row
		}
		days = append(days, row.DayOfWeek)
	}
	if first == nil {
		return nil
	}

	sched, err := workhours.New(first.Timezone, days, first.StartTime, first.EndTime, holidays)
	if err != nil {
		slog.Warn("invalid chat schedule rows, falling back to global",
			"chat_id", first.ChatID, "error", err)
		return nil
	}
	return sched
}

func (r *Resolver) holidayDates(ctx context.Context) []string {
	rows, err := r.store.ListHolidays(ctx)
	if err != nil {
		slog.Warn("failed to load holidays", "error", err)
		return nil
	}
	dates := make([]string, 0, len(rows))
	for _, h := range rows {
		dates = append(dates, h.Date)
	}
	return dates
}

// RecipientsForLevel resolves who receives an alert at the given escalation
// level. Level 1 prefers the chat's accountants, falling back to chat managers
// and then global managers; level 2 and above notify the union of managers and
// accountants.
func RecipientsForLevel(chat *store.Chat, settings *store.GlobalSettings, level int) ([]string, RecipientTier) {
	accountants := make([]string, 0, len(chat.AccountantTelegramIDs))
	for _, id := range chat.AccountantTelegramIDs {
		accountants = append(accountants, strconv.FormatInt(id, 10))
	}

	if level <= 1 {
		if len(accountants) > 0 {
			return accountants, RecipientTierAccountant
		}
		if len(chat.ManagerTelegramIDs) > 0 {
			return dedup(chat.ManagerTelegramIDs), RecipientTierManager
		}
		return dedup(settings.GlobalManagerIDs), RecipientTierFallback
	}

	union := make([]string, 0, len(chat.ManagerTelegramIDs)+len(accountants))
	union = append(union, chat.ManagerTelegramIDs...)
	union = append(union, accountants...)
	if len(union) == 0 {
		return dedup(settings.GlobalManagerIDs), RecipientTierFallback
	}
	return dedup(union), RecipientTierBoth
}

func dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
