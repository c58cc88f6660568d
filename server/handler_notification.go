package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/replywatch/replywatch/store"
)

func (s *Server) listNotificationsHandler(c echo.Context) error {
	find := &store.FindNotification{UnreadOnly: c.QueryParam("unread") == "true"}
	if recipient := c.QueryParam("recipientId"); recipient != "" {
		find.RecipientID = &recipient
	}
	notifications, err := s.store.ListNotifications(c.Request().Context(), find)
	if err != nil {
		return internalError(c, "failed to list notifications", err)
	}
	return c.JSON(http.StatusOK, notifications)
}

func (s *Server) markNotificationReadHandler(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "notification id must be an integer")
	}
	if err := s.store.MarkNotificationRead(c.Request().Context(), id); err != nil {
		return internalError(c, "failed to mark notification read", err)
	}
	return c.NoContent(http.StatusNoContent)
}
