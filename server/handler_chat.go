package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/replywatch/replywatch/store"
)

type createChatRequest struct {
	ID                    int64             `json:"id"`
	Title                 *string           `json:"title"`
	Kind                  store.ChatKind    `json:"kind"`
	MonitoringEnabled     bool              `json:"monitoringEnabled"`
	SLAEnabled            bool              `json:"slaEnabled"`
	NotifyInChatOnBreach  bool              `json:"notifyInChatOnBreach"`
	Is24x7                bool              `json:"is24x7"`
	SLAThresholdMinutes   *int              `json:"slaThresholdMinutes"`
	ClientTier            *store.ClientTier `json:"clientTier"`
	AccountantTelegramIDs []int64           `json:"accountantTelegramIds"`
	AccountantUsernames   []string          `json:"accountantUsernames"`
	AssignedAccountantID  *string           `json:"assignedAccountantId"`
	ManagerTelegramIDs    []string          `json:"managerTelegramIds"`
}

type updateChatRequest struct {
	Title                 *string           `json:"title"`
	MonitoringEnabled     *bool             `json:"monitoringEnabled"`
	SLAEnabled            *bool             `json:"slaEnabled"`
	NotifyInChatOnBreach  *bool             `json:"notifyInChatOnBreach"`
	Is24x7                *bool             `json:"is24x7"`
	SLAThresholdMinutes   *int              `json:"slaThresholdMinutes"`
	ClientTier            *store.ClientTier `json:"clientTier"`
	AccountantTelegramIDs *[]int64          `json:"accountantTelegramIds"`
	AccountantUsernames   *[]string         `json:"accountantUsernames"`
	AssignedAccountantID  *string           `json:"assignedAccountantId"`
	ManagerTelegramIDs    *[]string         `json:"managerTelegramIds"`
}

func (s *Server) listChatsHandler(c echo.Context) error {
	find := &store.FindChat{
		IncludeDeleted: c.QueryParam("includeDeleted") == "true",
		MonitoringOnly: c.QueryParam("monitoring") == "true",
	}
	chats, err := s.store.ListChats(c.Request().Context(), find)
	if err != nil {
		return internalError(c, "failed to list chats", err)
	}
	return c.JSON(http.StatusOK, chats)
}

func (s *Server) createChatHandler(c echo.Context) error {
	var req createChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	if req.ID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "chat id is required")
	}
	if req.ClientTier != nil && store.TierRank(*req.ClientTier) > store.TierRank(store.TierBasic) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown client tier")
	}

	chat, err := s.store.CreateChat(c.Request().Context(), &store.Chat{
		ID:                    req.ID,
		Title:                 req.Title,
		Kind:                  req.Kind,
		MonitoringEnabled:     req.MonitoringEnabled,
		SLAEnabled:            req.SLAEnabled,
		NotifyInChatOnBreach:  req.NotifyInChatOnBreach,
		Is24x7:                req.Is24x7,
		SLAThresholdMinutes:   req.SLAThresholdMinutes,
		ClientTier:            req.ClientTier,
		AccountantTelegramIDs: req.AccountantTelegramIDs,
		AccountantUsernames:   req.AccountantUsernames,
		AssignedAccountantID:  req.AssignedAccountantID,
		ManagerTelegramIDs:    req.ManagerTelegramIDs,
	})
	if err != nil {
		return internalError(c, "failed to create chat", err)
	}
	return c.JSON(http.StatusCreated, chat)
}

func (s *Server) updateChatHandler(c echo.Context) error {
	id, err := chatIDParam(c)
	if err != nil {
		return err
	}
	var req updateChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	if req.ClientTier != nil && store.TierRank(*req.ClientTier) > store.TierRank(store.TierBasic) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown client tier")
	}

	chat, err := s.store.UpdateChat(c.Request().Context(), &store.UpdateChat{
		ID:                    id,
		Title:                 req.Title,
		MonitoringEnabled:     req.MonitoringEnabled,
		SLAEnabled:            req.SLAEnabled,
		NotifyInChatOnBreach:  req.NotifyInChatOnBreach,
		Is24x7:                req.Is24x7,
		SLAThresholdMinutes:   req.SLAThresholdMinutes,
		ClientTier:            req.ClientTier,
		AccountantTelegramIDs: req.AccountantTelegramIDs,
		AccountantUsernames:   req.AccountantUsernames,
		AssignedAccountantID:  req.AssignedAccountantID,
		ManagerTelegramIDs:    req.ManagerTelegramIDs,
	})
	if err != nil {
		return internalError(c, "failed to update chat", err)
	}
	if chat == nil {
		return echo.NewHTTPError(http.StatusNotFound, "chat not found")
	}
	return c.JSON(http.StatusOK, chat)
}

// deleteChatHandler soft-deletes: monitoring stops, history stays queryable.
func (s *Server) deleteChatHandler(c echo.Context) error {
	id, err := chatIDParam(c)
	if err != nil {
		return err
	}
	now := time.Now()
	chat, err := s.store.UpdateChat(c.Request().Context(), &store.UpdateChat{ID: id, DeletedAt: &now})
	if err != nil {
		return internalError(c, "failed to delete chat", err)
	}
	if chat == nil {
		return echo.NewHTTPError(http.StatusNotFound, "chat not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func chatIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "chat id must be an integer")
	}
	return id, nil
}
