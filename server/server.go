// Package server exposes the HTTP surface: health and metrics probes plus the
// admin API used by the operations dashboard.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/replywatch/replywatch/internal/profile"
	"github.com/replywatch/replywatch/metrics"
	"github.com/replywatch/replywatch/sla"
	"github.com/replywatch/replywatch/store"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	echo *echo.Echo

	profile   *profile.Profile
	store     *store.Store
	resolver  *sla.Resolver
	lifecycle *sla.Lifecycle
	metrics   *metrics.Metrics
}

func NewServer(profile *profile.Profile, s *store.Store, resolver *sla.Resolver,
	lifecycle *sla.Lifecycle, m *metrics.Metrics) *Server {

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	srv := &Server{
		echo:      e,
		profile:   profile,
		store:     s,
		resolver:  resolver,
		lifecycle: lifecycle,
		metrics:   m,
	}
	srv.registerRoutes()
	return srv
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.healthHandler)
	if s.profile.MetricsEnabled && s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	api := s.echo.Group("/api/v1")

	api.GET("/chats", s.listChatsHandler)
	api.POST("/chats", s.createChatHandler)
	api.PATCH("/chats/:id", s.updateChatHandler)
	api.DELETE("/chats/:id", s.deleteChatHandler)

	api.GET("/requests", s.listRequestsHandler)
	api.GET("/requests/:id", s.getRequestHandler)
	api.GET("/requests/:id/history", s.listRequestHistoryHandler)
	api.PATCH("/requests/:id/status", s.updateRequestStatusHandler)
	api.PATCH("/requests/:id/classification", s.updateClassificationHandler)

	api.GET("/alerts", s.listAlertsHandler)
	api.POST("/alerts/:id/resolve", s.resolveAlertHandler)

	api.GET("/settings", s.getSettingsHandler)
	api.PUT("/settings", s.putSettingsHandler)

	api.GET("/notifications", s.listNotificationsHandler)
	api.POST("/notifications/:id/read", s.markNotificationReadHandler)
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	slog.Info("http server listening", "addr", addr)
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down http server", "error", err)
	}
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true, LogURI: true, LogMethod: true, LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelDebug
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			slog.Log(context.Background(), level, "http request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	})
}
