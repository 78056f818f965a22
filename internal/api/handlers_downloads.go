package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nzbwatch/nzbwatch/internal/downloader"
	"github.com/nzbwatch/nzbwatch/internal/events"
	"github.com/nzbwatch/nzbwatch/internal/scheduler/tasks"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 100
)

// statusResponse is the body of GET /api/v1/status.
type statusResponse struct {
	Status    *downloader.StatusSnapshot `json:"status"`
	Poller    downloader.State           `json:"poller"`
	Backoff   *tasks.BackoffState        `json:"backoff,omitempty"`
	UpdatedAt *time.Time                 `json:"updatedAt,omitempty"`
}

// getStatus returns the last download manager status with poller state.
// GET /api/v1/status
func (s *Server) getStatus(c echo.Context) error {
	resp := statusResponse{Poller: s.deps.Poller.State()}
	if data := s.deps.Poller.Data(); data != nil {
		resp.Status = data.Status
		updated := data.UpdatedAt
		resp.UpdatedAt = &updated
	}
	if s.deps.Backoff != nil {
		backoff := s.deps.Backoff.State()
		resp.Backoff = &backoff
	}
	return c.JSON(http.StatusOK, resp)
}

// getDownloads returns the history list of the last successful refresh,
// optionally filtered by category and status.
// GET /api/v1/downloads?category=&status=
func (s *Server) getDownloads(c echo.Context) error {
	category := c.QueryParam("category")
	status := strings.ToUpper(c.QueryParam("status"))

	items := []downloader.HistoryItem{}
	if data := s.deps.Poller.Data(); data != nil {
		for _, item := range data.Downloads {
			if category != "" && item.Category != category {
				continue
			}
			if status != "" && strings.ToUpper(item.Status) != status {
				continue
			}
			items = append(items, item)
		}
	}
	return c.JSON(http.StatusOK, items)
}

// refresh runs a poll cycle immediately.
// POST /api/v1/refresh
func (s *Server) refresh(c echo.Context) error {
	result, err := s.deps.Poller.Refresh(c.Request().Context())
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, result)
	case errors.Is(err, downloader.ErrRefreshInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, downloader.ErrTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, downloader.ErrRefreshFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return err
	}
}

// getEvents returns the most recent bus events, newest last.
// GET /api/v1/events?limit=
func (s *Server) getEvents(c echo.Context) error {
	limit := defaultEventLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = min(n, maxEventLimit)
	}

	recent := s.deps.Bus.Recent(limit)
	if recent == nil {
		recent = []events.Event{}
	}
	return c.JSON(http.StatusOK, recent)
}
