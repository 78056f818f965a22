package health

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ClientTester checks connectivity of the download manager.
type ClientTester func(ctx context.Context) error

// Handlers provides HTTP handlers for health endpoints.
type Handlers struct {
	health     *Service
	testClient ClientTester
	clientID   string
}

// NewHandlers creates new health handlers. testClient may be nil.
func NewHandlers(health *Service, clientID string, testClient ClientTester) *Handlers {
	return &Handlers{
		health:     health,
		testClient: testClient,
		clientID:   clientID,
	}
}

// RegisterRoutes registers health routes.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.GetAll)
	g.GET("/summary", h.GetSummary)
	g.GET("/:category", h.GetByCategory)
	g.POST("/downloadClients/test", h.TestDownloadClient)
}

// GetAll returns all health items grouped by category.
// GET /api/v1/health
func (h *Handlers) GetAll(c echo.Context) error {
	return c.JSON(http.StatusOK, h.health.GetAll())
}

// GetSummary returns summary counts.
// GET /api/v1/health/summary
func (h *Handlers) GetSummary(c echo.Context) error {
	return c.JSON(http.StatusOK, h.health.GetSummary())
}

// GetByCategory returns health items for a specific category.
// GET /api/v1/health/:category
func (h *Handlers) GetByCategory(c echo.Context) error {
	category := HealthCategory(c.Param("category"))
	if !IsValidCategory(category) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid health category")
	}
	return c.JSON(http.StatusOK, h.health.GetByCategory(category))
}

// TestDownloadClient tests the download manager connection and updates its status.
// POST /api/v1/health/downloadClients/test
func (h *Handlers) TestDownloadClient(c echo.Context) error {
	if h.testClient == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "download client testing not configured")
	}

	result := map[string]interface{}{
		"id":      h.clientID,
		"success": true,
		"message": "Connection verified",
	}
	if err := h.testClient(c.Request().Context()); err != nil {
		h.health.SetError(CategoryDownloadClients, h.clientID, err.Error())
		result["success"] = false
		result["message"] = err.Error()
	} else {
		h.health.ClearStatus(CategoryDownloadClients, h.clientID)
	}
	return c.JSON(http.StatusOK, result)
}
