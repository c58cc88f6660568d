package server

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// internalError logs the underlying cause and returns an opaque 500; database
// errors never leak into responses.
func internalError(c echo.Context, msg string, err error) error {
	slog.Error(msg, "path", c.Path(), "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, msg)
}
