package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/replywatch/replywatch/store"
)

type settingsPayload struct {
	Timezone              string   `json:"timezone"`
	WorkingDays           []int    `json:"workingDays"`
	StartTime             string   `json:"startTime"`
	EndTime               string   `json:"endTime"`
	DefaultSLAThreshold   int      `json:"defaultSlaThreshold"`
	MaxEscalations        int      `json:"maxEscalations"`
	EscalationIntervalMin int      `json:"escalationIntervalMin"`
	SLAWarningPercent     int      `json:"slaWarningPercent"`
	GlobalManagerIDs      []string `json:"globalManagerIds"`
	AIConfidenceThreshold float64  `json:"aiConfidenceThreshold"`
}

func (s *Server) getSettingsHandler(c echo.Context) error {
	settings, err := s.store.GetGlobalSettings(c.Request().Context())
	if err != nil {
		return internalError(c, "failed to load settings", err)
	}
	if settings == nil {
		settings = store.DefaultGlobalSettings()
	}
	return c.JSON(http.StatusOK, settingsFromStore(settings))
}

func (s *Server) putSettingsHandler(c echo.Context) error {
	var req settingsPayload
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	if msg := validateSettings(&req); msg != "" {
		return echo.NewHTTPError(http.StatusBadRequest, msg)
	}

	err := s.store.UpsertGlobalSettings(c.Request().Context(), &store.GlobalSettings{
		Timezone:              req.Timezone,
		WorkingDays:           req.WorkingDays,
		StartTime:             req.StartTime,
		EndTime:               req.EndTime,
		DefaultSLAThreshold:   req.DefaultSLAThreshold,
		MaxEscalations:        req.MaxEscalations,
		EscalationIntervalMin: req.EscalationIntervalMin,
		SLAWarningPercent:     req.SLAWarningPercent,
		GlobalManagerIDs:      req.GlobalManagerIDs,
		AIConfidenceThreshold: req.AIConfidenceThreshold,
	})
	if err != nil {
		return internalError(c, "failed to store settings", err)
	}

	// New values take effect on the next resolver read instead of waiting out
	// the cache TTL.
	s.resolver.Invalidate()
	return c.NoContent(http.StatusNoContent)
}

func validateSettings(req *settingsPayload) string {
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return "unknown timezone"
	}
	if _, err := time.Parse("15:04", req.StartTime); err != nil {
		return "startTime must be HH:MM"
	}
	if _, err := time.Parse("15:04", req.EndTime); err != nil {
		return "endTime must be HH:MM"
	}
	if len(req.WorkingDays) == 0 {
		return "workingDays must not be empty"
	}
	for _, day := range req.WorkingDays {
		if day < 1 || day > 7 {
			return "workingDays entries must be ISO weekdays 1..7"
		}
	}
	if req.DefaultSLAThreshold <= 0 {
		return "defaultSlaThreshold must be positive"
	}
	if req.MaxEscalations < 1 {
		return "maxEscalations must be at least 1"
	}
	if req.EscalationIntervalMin <= 0 {
		return "escalationIntervalMin must be positive"
	}
	if req.SLAWarningPercent < 0 || req.SLAWarningPercent > 100 {
		return "slaWarningPercent must be within 0..100"
	}
	if req.AIConfidenceThreshold < 0 || req.AIConfidenceThreshold > 1 {
		return "aiConfidenceThreshold must be within 0..1"
	}
	return ""
}

func settingsFromStore(s *store.GlobalSettings) *settingsPayload {
	return &settingsPayload{
		Timezone:              s.Timezone,
		WorkingDays:           s.WorkingDays,
		StartTime:             s.StartTime,
		EndTime:               s.EndTime,
		DefaultSLAThreshold:   s.DefaultSLAThreshold,
		MaxEscalations:        s.MaxEscalations,
		EscalationIntervalMin: s.EscalationIntervalMin,
		SLAWarningPercent:     s.SLAWarningPercent,
		GlobalManagerIDs:      s.GlobalManagerIDs,
		AIConfidenceThreshold: s.AIConfidenceThreshold,
	}
}
