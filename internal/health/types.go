package health

import (
	"encoding/json"
	"time"
)

// HealthStatus represents the health state of an item.
type HealthStatus string

const (
	StatusOK      HealthStatus = "ok"
	StatusWarning HealthStatus = "warning"
	StatusError   HealthStatus = "error"
)

// HealthCategory represents the category of health items.
type HealthCategory string

const (
	CategoryDownloadClients HealthCategory = "downloadClients"
	CategoryPoller          HealthCategory = "poller"
)

// AllCategories returns all health categories in display order.
func AllCategories() []HealthCategory {
	return []HealthCategory{
		CategoryDownloadClients,
		CategoryPoller,
	}
}

// IsValidCategory reports whether category is tracked by the service.
func IsValidCategory(category HealthCategory) bool {
	for _, cat := range AllCategories() {
		if cat == category {
			return true
		}
	}
	return false
}

// HealthItem represents a single health-tracked item.
type HealthItem struct {
	ID        string         `json:"id"`
	Category  HealthCategory `json:"category"`
	Name      string         `json:"name"`
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
}

// MarshalJSON omits message and timestamp for OK items.
func (h HealthItem) MarshalJSON() ([]byte, error) {
	type Alias HealthItem
	alias := Alias(h)

	if h.Status == StatusOK {
		alias.Timestamp = nil
		alias.Message = ""
	}

	return json.Marshal(alias)
}

// CategorySummary provides counts for a health category.
type CategorySummary struct {
	Category HealthCategory `json:"category"`
	OK       int            `json:"ok"`
	Warning  int            `json:"warning"`
	Error    int            `json:"error"`
}

func (c *CategorySummary) count(status HealthStatus) {
	switch status {
	case StatusOK:
		c.OK++
	case StatusWarning:
		c.Warning++
	case StatusError:
		c.Error++
	}
}

// Total returns the total number of items in the category.
func (c CategorySummary) Total() int {
	return c.OK + c.Warning + c.Error
}

// HasIssues returns true if there are any warning or error items.
func (c CategorySummary) HasIssues() bool {
	return c.Warning > 0 || c.Error > 0
}

// HealthResponse contains all health items grouped by category.
type HealthResponse struct {
	DownloadClients []HealthItem `json:"downloadClients"`
	Poller          []HealthItem `json:"poller"`
}

// HealthSummary provides an overview of system health.
type HealthSummary struct {
	Categories []CategorySummary `json:"categories"`
	HasIssues  bool              `json:"hasIssues"`
}

// HealthUpdatePayload is the WebSocket payload for health updates.
type HealthUpdatePayload struct {
	Category  HealthCategory `json:"category"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
}

func (h *HealthItem) updatePayload() HealthUpdatePayload {
	return HealthUpdatePayload{
		Category:  h.Category,
		ID:        h.ID,
		Name:      h.Name,
		Status:    h.Status,
		Message:   h.Message,
		Timestamp: h.Timestamp,
	}
}

// TransitionPayload is published on the event bus when an item enters or
// leaves a non-OK state.
type TransitionPayload struct {
	Category  HealthCategory `json:"category"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	OldStatus HealthStatus   `json:"oldStatus"`
	NewStatus HealthStatus   `json:"newStatus"`
	Message   string         `json:"message,omitempty"`
}

// IsBinaryCategory returns true if the category only supports OK/Error.
func IsBinaryCategory(category HealthCategory) bool {
	return category == CategoryDownloadClients
}
