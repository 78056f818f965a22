package health

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// TopicHealthIssue is published when an item leaves OK status.
	TopicHealthIssue = "health_issue"
	// TopicHealthRestored is published when an item returns to OK status.
	TopicHealthRestored = "health_restored"

	// MessageHealthUpdated is the hub message sent on every status change.
	MessageHealthUpdated = "health:updated"
)

// Broadcaster defines the interface for sending WebSocket messages.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// Publisher receives health transitions. Satisfied by the event bus.
type Publisher interface {
	Publish(topic string, payload any)
}

// Service manages the health state of all tracked items.
// All state is in-memory and resets on application restart.
type Service struct {
	items       map[HealthCategory]map[string]*HealthItem
	mu          sync.RWMutex
	broadcaster Broadcaster
	publisher   Publisher
	logger      zerolog.Logger
	now         func() time.Time
}

// NewService creates a new health service.
func NewService(logger zerolog.Logger) *Service {
	s := &Service{
		items:  make(map[HealthCategory]map[string]*HealthItem),
		logger: logger.With().Str("component", "health").Logger(),
		now:    time.Now,
	}

	for _, cat := range AllCategories() {
		s.items[cat] = make(map[string]*HealthItem)
	}

	return s
}

// SetBroadcaster sets the WebSocket broadcaster for real-time updates.
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// SetPublisher sets the sink for issue/restored transitions.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

// RegisterItemStr is a string-based wrapper for RegisterItem.
func (s *Service) RegisterItemStr(category, id, name string) {
	s.RegisterItem(HealthCategory(category), id, name)
}

// SetErrorStr is a string-based wrapper for SetError.
func (s *Service) SetErrorStr(category, id, message string) {
	s.SetError(HealthCategory(category), id, message)
}

// SetWarningStr is a string-based wrapper for SetWarning.
func (s *Service) SetWarningStr(category, id, message string) {
	s.SetWarning(HealthCategory(category), id, message)
}

// ClearStatusStr is a string-based wrapper for ClearStatus.
func (s *Service) ClearStatusStr(category, id string) {
	s.ClearStatus(HealthCategory(category), id)
}

// RegisterItem adds a new item to health tracking with OK status.
func (s *Service) RegisterItem(category HealthCategory, id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[category]; !ok {
		s.logger.Warn().Str("category", string(category)).Msg("Unknown health category")
		return
	}

	item := &HealthItem{
		ID:       id,
		Category: category,
		Name:     name,
		Status:   StatusOK,
	}
	s.items[category][id] = item

	s.logger.Debug().
		Str("category", string(category)).
		Str("id", id).
		Str("name", name).
		Msg("Registered health item")

	s.broadcastUpdate(item)
}

// UnregisterItem removes an item from health tracking.
func (s *Service) UnregisterItem(category HealthCategory, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[category][id]; exists {
		delete(s.items[category], id)
		s.logger.Debug().Str("category", string(category)).Str("id", id).Msg("Unregistered health item")
	}
}

// SetError sets an item to Error status with a message.
func (s *Service) SetError(category HealthCategory, id, message string) {
	s.setStatus(category, id, StatusError, message)
}

// SetWarning sets an item to Warning status with a message.
// For binary categories this is a no-op.
func (s *Service) SetWarning(category HealthCategory, id, message string) {
	if IsBinaryCategory(category) {
		return
	}
	s.setStatus(category, id, StatusWarning, message)
}

// ClearStatus resets an item to OK status.
func (s *Service) ClearStatus(category HealthCategory, id string) {
	s.setStatus(category, id, StatusOK, "")
}

func (s *Service) setStatus(category HealthCategory, id string, status HealthStatus, message string) {
	s.mu.Lock()

	item, exists := s.items[category][id]
	if !exists {
		s.mu.Unlock()
		s.logger.Warn().
			Str("category", string(category)).
			Str("id", id).
			Msg("Attempted to update status for unregistered item")
		return
	}

	if item.Status == status && item.Message == message {
		s.mu.Unlock()
		return
	}

	oldStatus := item.Status
	item.Status = status
	item.Message = message

	if status != StatusOK {
		now := s.now()
		item.Timestamp = &now
	} else {
		item.Timestamp = nil
	}

	s.logger.Info().
		Str("category", string(category)).
		Str("id", id).
		Str("name", item.Name).
		Str("oldStatus", string(oldStatus)).
		Str("newStatus", string(status)).
		Str("message", message).
		Msg("Health status changed")

	s.broadcastUpdate(item)
	transition := TransitionPayload{
		Category:  category,
		ID:        id,
		Name:      item.Name,
		OldStatus: oldStatus,
		NewStatus: status,
		Message:   message,
	}
	s.mu.Unlock()

	if s.publisher == nil {
		return
	}
	switch {
	case oldStatus == StatusOK && status != StatusOK:
		s.publisher.Publish(TopicHealthIssue, transition)
	case oldStatus != StatusOK && status == StatusOK:
		s.publisher.Publish(TopicHealthRestored, transition)
	}
}

// GetAll returns all health items grouped by category.
func (s *Service) GetAll() *HealthResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &HealthResponse{
		DownloadClients: s.snapshot(CategoryDownloadClients),
		Poller:          s.snapshot(CategoryPoller),
	}
}

// GetByCategory returns the items of category ordered by ID.
func (s *Service) GetByCategory(category HealthCategory) []HealthItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(category)
}

// GetItem returns a copy of one item, or nil when it is not registered.
func (s *Service) GetItem(category HealthCategory, id string) *HealthItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.lookup(category, id)
	if !ok {
		return nil
	}
	return &item
}

// GetSummary returns status counts per category.
func (s *Service) GetSummary() *HealthSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cats := AllCategories()
	summary := &HealthSummary{Categories: make([]CategorySummary, len(cats))}
	for i, cat := range cats {
		summary.Categories[i].Category = cat
		for _, item := range s.items[cat] {
			summary.Categories[i].count(item.Status)
		}
		summary.HasIssues = summary.HasIssues || summary.Categories[i].HasIssues()
	}
	return summary
}

// IsHealthy reports whether the item exists and is OK.
func (s *Service) IsHealthy(category HealthCategory, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.lookup(category, id)
	return ok && item.Status == StatusOK
}

// IsCategoryHealthy reports whether no item in category has an issue.
func (s *Service) IsCategoryHealthy(category HealthCategory) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum CategorySummary
	for _, item := range s.items[category] {
		sum.count(item.Status)
	}
	return !sum.HasIssues()
}

// lookup returns a copy of the item. Caller holds mu.
func (s *Service) lookup(category HealthCategory, id string) (HealthItem, bool) {
	item, ok := s.items[category][id]
	if !ok {
		return HealthItem{}, false
	}
	return *item, true
}

// snapshot copies the category's items sorted by ID. Caller holds mu.
func (s *Service) snapshot(category HealthCategory) []HealthItem {
	items := make([]HealthItem, 0, len(s.items[category]))
	for _, item := range s.items[category] {
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (s *Service) broadcastUpdate(item *HealthItem) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Broadcast(MessageHealthUpdated, item.updatePayload()); err != nil {
		s.logger.Warn().Err(err).Str("id", item.ID).Msg("Failed to broadcast health update")
	}
}
