// Package notification delivers download completion events to external notifiers.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	dltypes "github.com/nzbwatch/nzbwatch/internal/downloader/types"
	"github.com/nzbwatch/nzbwatch/internal/events"
	"github.com/nzbwatch/nzbwatch/internal/notification/types"
)

// Backoff configuration
const (
	minBackoffDuration = 5 * time.Minute
	maxEscalationLevel = 5

	defaultSendTimeout = 30 * time.Second
)

// Notifier is the interface all notification providers implement.
type Notifier = types.Notifier

// Subscriber is the subset of the event bus the service listens on.
type Subscriber interface {
	Subscribe(topic string, handler events.Handler) func()
}

// Status tracks delivery failures of one notifier.
type Status struct {
	Name            string    `json:"name"`
	Type            string    `json:"type"`
	EscalationLevel int       `json:"escalationLevel"`
	LastFailure     time.Time `json:"lastFailure,omitempty"`
	LastError       string    `json:"lastError,omitempty"`
	DisabledTill    time.Time `json:"disabledTill,omitempty"`
}

// TestResult is the outcome of a notifier test.
type TestResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Service fans completion events out to every registered notifier. A notifier
// that keeps failing is skipped for an escalating backoff period.
type Service struct {
	mu          sync.RWMutex
	notifiers   []Notifier
	status      map[string]*Status
	sendTimeout time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewService creates a new notification service
func NewService(logger zerolog.Logger) *Service {
	return &Service{
		status:      make(map[string]*Status),
		sendTimeout: defaultSendTimeout,
		logger:      logger.With().Str("component", "notification").Logger(),
		now:         time.Now,
	}
}

// Add registers a notifier.
func (s *Service) Add(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiers = append(s.notifiers, n)
	s.status[n.Name()] = &Status{Name: n.Name(), Type: string(n.Type())}
}

// Count returns the number of registered notifiers.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notifiers)
}

// Attach subscribes the service to completion events on the bus.
func (s *Service) Attach(bus Subscriber, topic string) func() {
	return bus.Subscribe(topic, func(ev events.Event) {
		payload, ok := ev.Payload.(dltypes.CompletionPayload)
		if !ok {
			s.logger.Warn().Str("eventId", ev.ID).Msgf("Unexpected payload type %T", ev.Payload)
			return
		}
		s.DispatchDownloadComplete(context.Background(), types.DownloadCompleteEvent{
			EventID:     ev.ID,
			Name:        payload.Name,
			Category:    payload.Category,
			Status:      payload.Status,
			CompletedAt: ev.Timestamp,
		})
	})
}

// DispatchDownloadComplete sends event to every enabled notifier and waits
// for all of them. Failures are logged and never returned.
func (s *Service) DispatchDownloadComplete(ctx context.Context, event types.DownloadCompleteEvent) {
	targets := s.enabled()
	if len(targets) == 0 {
		return
	}

	s.logger.Debug().
		Str("name", event.Name).
		Int("count", len(targets)).
		Msg("Dispatching download complete notification")

	var wg sync.WaitGroup
	for _, n := range targets {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
			defer cancel()
			s.result(n, n.OnDownloadComplete(sendCtx, event))
		}(n)
	}
	wg.Wait()
}

// TestAll sends a test notification through every notifier, ignoring backoff.
func (s *Service) TestAll(ctx context.Context) []TestResult {
	s.mu.RLock()
	notifiers := append([]Notifier(nil), s.notifiers...)
	s.mu.RUnlock()

	results := make([]TestResult, 0, len(notifiers))
	for _, n := range notifiers {
		res := TestResult{Name: n.Name(), Success: true, Message: "Notification test successful"}
		if err := n.Test(ctx); err != nil {
			res.Success = false
			res.Message = err.Error()
		}
		results = append(results, res)
	}
	return results
}

// Statuses returns a copy of every notifier's delivery status.
func (s *Service) Statuses() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.notifiers))
	for _, n := range s.notifiers {
		out = append(out, *s.status[n.Name()])
	}
	return out
}

func (s *Service) enabled() []Notifier {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []Notifier
	for _, n := range s.notifiers {
		if st := s.status[n.Name()]; st != nil && now.Before(st.DisabledTill) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func (s *Service) result(n Notifier, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.status[n.Name()]
	if err == nil {
		st.EscalationLevel = 0
		st.LastError = ""
		st.DisabledTill = time.Time{}
		s.logger.Debug().Str("name", n.Name()).Msg("Notification sent successfully")
		return
	}

	now := s.now()
	if st.EscalationLevel < maxEscalationLevel {
		st.EscalationLevel++
	}
	st.LastFailure = now
	st.LastError = err.Error()
	st.DisabledTill = now.Add(minBackoffDuration * time.Duration(1<<(st.EscalationLevel-1)))

	s.logger.Error().
		Err(err).
		Str("name", n.Name()).
		Str("type", string(n.Type())).
		Int("escalation", st.EscalationLevel).
		Time("disabledTill", st.DisabledTill).
		Msg("Notification failed")
}
