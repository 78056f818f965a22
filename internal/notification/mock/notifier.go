package mock

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nzbwatch/nzbwatch/internal/notification/types"
)

// NotificationRecord stores a sent notification for debugging/preview
type NotificationRecord struct {
	ID        int64     `json:"id"`
	EventType string    `json:"eventType"`
	Data      any       `json:"data,omitempty"`
	SentAt    time.Time `json:"sentAt"`
}

// Notifier is a mock notification provider for dev mode. It logs every
// notification and keeps the most recent ones in memory.
type Notifier struct {
	name   string
	logger zerolog.Logger

	mu         sync.RWMutex
	records    []NotificationRecord
	nextID     int64
	maxRecords int
	err        error
}

var _ types.Notifier = (*Notifier)(nil)

// New creates a new mock notifier
func New(name string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		name:       name,
		logger:     logger.With().Str("notifier", "mock").Str("name", name).Logger(),
		nextID:     1,
		maxRecords: 100,
	}
}

// SetError makes every send fail with err until cleared with nil.
func (n *Notifier) SetError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

func (n *Notifier) Type() types.NotifierType {
	return types.NotifierMock
}

func (n *Notifier) Name() string {
	return n.name
}

func (n *Notifier) Test(_ context.Context) error {
	return n.record("test", nil)
}

func (n *Notifier) OnDownloadComplete(_ context.Context, event types.DownloadCompleteEvent) error {
	return n.record("download_complete", event)
}

// Records returns the stored notifications, oldest first.
func (n *Notifier) Records() []NotificationRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]NotificationRecord, len(n.records))
	copy(out, n.records)
	return out
}

// Clear removes all stored notifications.
func (n *Notifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = nil
}

func (n *Notifier) record(eventType string, data any) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.err != nil {
		return n.err
	}

	rec := NotificationRecord{
		ID:        n.nextID,
		EventType: eventType,
		Data:      data,
		SentAt:    time.Now().UTC(),
	}
	n.nextID++
	n.records = append(n.records, rec)
	if len(n.records) > n.maxRecords {
		n.records = n.records[len(n.records)-n.maxRecords:]
	}

	n.logger.Info().Str("eventType", eventType).Int64("id", rec.ID).Msg("Mock notification sent")
	return nil
}
