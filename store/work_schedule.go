package store

// WorkSchedule is one per-chat working window row. A chat may carry several
// (one per weekday); active rows override the global schedule.
type WorkSchedule struct {
	ID        int64
	ChatID    int64
	DayOfWeek int    // ISO weekday, 1 = Monday .. 7 = Sunday
	StartTime string // HH:MM
	EndTime   string // HH:MM
	Timezone  string
	IsActive  bool
}

// Holiday is a calendar date excluded from working time, formatted 2006-01-02
// in the schedule's timezone.
type Holiday struct {
	Date string
	Name *string
}
