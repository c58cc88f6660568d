package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/replywatch/replywatch/store"
)

type resolveAlertRequest struct {
	Action         string  `json:"action"`
	Notes          *string `json:"notes"`
	AcknowledgedBy string  `json:"acknowledgedBy"`
}

func (s *Server) listAlertsHandler(c echo.Context) error {
	find := &store.FindAlert{Unresolved: c.QueryParam("unresolved") == "true"}
	if requestID := c.QueryParam("requestId"); requestID != "" {
		find.RequestID = &requestID
	}
	alerts, err := s.store.ListAlerts(c.Request().Context(), find)
	if err != nil {
		return internalError(c, "failed to list alerts", err)
	}
	return c.JSON(http.StatusOK, alerts)
}

func (s *Server) resolveAlertHandler(c echo.Context) error {
	var req resolveAlertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	if req.Action == "" || req.AcknowledgedBy == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "action and acknowledgedBy are required")
	}

	err := s.store.ResolveAlert(c.Request().Context(), &store.ResolveAlert{
		ID:              c.Param("id"),
		ResolvedAction:  req.Action,
		ResolutionNotes: req.Notes,
		AcknowledgedBy:  req.AcknowledgedBy,
	})
	if err != nil {
		return internalError(c, "failed to resolve alert", err)
	}
	return c.NoContent(http.StatusNoContent)
}
