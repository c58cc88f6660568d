package store

// Hard-coded fallbacks used when the settings row is missing and the cache is
// empty. Values mirror the seeded defaults in the migration.
const (
	FallbackTimezone              = "Europe/Moscow"
	FallbackStartTime             = "09:00"
	FallbackEndTime               = "18:00"
	FallbackSLAThreshold          = 60
	FallbackMaxEscalations        = 3
	FallbackEscalationIntervalMin = 30
	FallbackSLAWarningPercent     = 80
	FallbackAIConfidence          = 0.6
)

// GlobalSettings is the singleton settings row.
type GlobalSettings struct {
	Timezone    string
	WorkingDays []int // ISO weekdays, 1 = Monday .. 7 = Sunday
	StartTime   string // HH:MM
	EndTime     string // HH:MM

	DefaultSLAThreshold   int
	MaxEscalations        int
	EscalationIntervalMin int
	SLAWarningPercent     int // 0..100; 0 disables warnings entirely

	GlobalManagerIDs []string

	AIConfidenceThreshold float64
}

// DefaultGlobalSettings returns the hard-coded fallback configuration.
func DefaultGlobalSettings() *GlobalSettings {
	return &GlobalSettings{
		Timezone:              FallbackTimezone,
		WorkingDays:           []int{1, 2, 3, 4, 5},
		StartTime:             FallbackStartTime,
		EndTime:               FallbackEndTime,
		DefaultSLAThreshold:   FallbackSLAThreshold,
		MaxEscalations:        FallbackMaxEscalations,
		EscalationIntervalMin: FallbackEscalationIntervalMin,
		SLAWarningPercent:     FallbackSLAWarningPercent,
		AIConfidenceThreshold: FallbackAIConfidence,
	}
}
