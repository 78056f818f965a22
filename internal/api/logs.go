//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/nzbwatch/nzbwatch/internal/logger"
)

// LogsProvider provides access to log data.
type LogsProvider interface {
	GetRecentLogs() []logger.LogEntry
	GetLogFilePath() string
}

// LogsHandlers handles log-related HTTP endpoints.
type LogsHandlers struct {
	provider LogsProvider
}

// NewLogsHandlers creates a new logs handlers instance.
func NewLogsHandlers(provider LogsProvider) *LogsHandlers {
	return &LogsHandlers{provider: provider}
}

// RegisterRoutes registers log routes on the given group.
func (h *LogsHandlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.GetRecentLogs)
	g.GET("/download", h.DownloadLogFile)
}

// GetRecentLogs returns buffered log entries, optionally filtered by level
// and trimmed to the newest limit entries.
// GET /api/v1/system/logs?level=&limit=
func (h *LogsHandlers) GetRecentLogs(c echo.Context) error {
	level := c.QueryParam("level")
	entries := make([]logger.LogEntry, 0)
	for _, e := range h.provider.GetRecentLogs() {
		if level != "" && e.Level != level {
			continue
		}
		entries = append(entries, e)
	}

	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		if n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}
	return c.JSON(http.StatusOK, entries)
}

// DownloadLogFile serves the current log file for download.
// GET /api/v1/system/logs/download
func (h *LogsHandlers) DownloadLogFile(c echo.Context) error {
	logPath := h.provider.GetLogFilePath()
	if logPath == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no log file configured")
	}

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		return echo.NewHTTPError(http.StatusNotFound, "log file not found")
	}

	return c.Attachment(logPath, logger.LogFileName)
}
