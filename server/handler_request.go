package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/replywatch/replywatch/sla"
	"github.com/replywatch/replywatch/store"
)

const defaultRequestLimit = 50

type updateStatusRequest struct {
	Status    store.RequestStatus `json:"status"`
	ChangedBy string              `json:"changedBy"`
	Reason    string              `json:"reason"`
}

type updateClassificationRequest struct {
	Classification store.Classification `json:"classification"`
	ChangedBy      string               `json:"changedBy"`
	Reason         string               `json:"reason"`
}

// listRequestsHandler returns open requests in operational priority order:
// premium tier first, oldest first within a tier.
func (s *Server) listRequestsHandler(c echo.Context) error {
	limit := defaultRequestLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	requests, err := s.store.ListActiveRequests(c.Request().Context(), limit)
	if err != nil {
		return internalError(c, "failed to list requests", err)
	}
	return c.JSON(http.StatusOK, requests)
}

func (s *Server) getRequestHandler(c echo.Context) error {
	id := c.Param("id")
	req, err := s.store.GetRequest(c.Request().Context(), &store.FindRequest{ID: &id})
	if err != nil {
		return internalError(c, "failed to load request", err)
	}
	if req == nil {
		return echo.NewHTTPError(http.StatusNotFound, "request not found")
	}
	return c.JSON(http.StatusOK, req)
}

func (s *Server) listRequestHistoryHandler(c echo.Context) error {
	history, err := s.store.ListRequestHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return internalError(c, "failed to load request history", err)
	}
	return c.JSON(http.StatusOK, history)
}

func (s *Server) updateRequestStatusHandler(c echo.Context) error {
	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	if req.ChangedBy == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "changedBy is required")
	}

	updated, err := s.lifecycle.UpdateStatus(c.Request().Context(), c.Param("id"), req.Status,
		store.AuditContext{ChangedBy: req.ChangedBy, Reason: req.Reason})
	var invalid *sla.InvalidTransitionError
	switch {
	case errors.Is(err, sla.ErrRequestNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "request not found")
	case errors.As(err, &invalid):
		return echo.NewHTTPError(http.StatusConflict, invalid.Error())
	case err != nil:
		return internalError(c, "failed to update request status", err)
	}
	return c.JSON(http.StatusOK, updated)
}

// updateClassificationHandler lets an operator correct the model's label. The
// lifecycle is untouched: reclassifying does not resurrect or settle requests.
func (s *Server) updateClassificationHandler(c echo.Context) error {
	var req updateClassificationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	if !req.Classification.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown classification")
	}
	if req.ChangedBy == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "changedBy is required")
	}

	id := c.Param("id")
	existing, err := s.store.GetRequest(c.Request().Context(), &store.FindRequest{ID: &id})
	if err != nil {
		return internalError(c, "failed to load request", err)
	}
	if existing == nil {
		return echo.NewHTTPError(http.StatusNotFound, "request not found")
	}

	updated, err := s.store.UpdateRequestWithAudit(c.Request().Context(),
		&store.UpdateRequest{ID: id, Classification: &req.Classification},
		store.AuditContext{ChangedBy: req.ChangedBy, Reason: req.Reason})
	if err != nil {
		return internalError(c, "failed to update classification", err)
	}
	return c.JSON(http.StatusOK, updated)
}
