package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nzbwatch/nzbwatch/internal/config"
	"github.com/nzbwatch/nzbwatch/internal/notification"
)

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": config.Version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// getNotifications lists notifier delivery status.
// GET /api/v1/notifications
func (s *Server) getNotifications(c echo.Context) error {
	statuses := s.deps.Notifications.Statuses()
	if statuses == nil {
		statuses = []notification.Status{}
	}
	return c.JSON(http.StatusOK, statuses)
}

// testNotifications sends a test message through every notifier.
// POST /api/v1/notifications/test
func (s *Server) testNotifications(c echo.Context) error {
	results := s.deps.Notifications.TestAll(c.Request().Context())
	if results == nil {
		results = []notification.TestResult{}
	}
	return c.JSON(http.StatusOK, results)
}
