package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

func (s *Server) healthHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, &healthResponse{
			Status:   "unhealthy",
			Version:  s.profile.Version,
			Database: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, &healthResponse{
		Status:   "healthy",
		Version:  s.profile.Version,
		Database: "ok",
	})
}
