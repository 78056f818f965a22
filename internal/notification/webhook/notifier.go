package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nzbwatch/nzbwatch/internal/notification/types"
)

// DefaultInstanceName is sent when Settings.InstanceName is empty.
const DefaultInstanceName = "nzbwatch"

// Settings contains webhook-specific configuration
type Settings struct {
	URL          string            `json:"url"`
	Method       string            `json:"method,omitempty"`
	Username     string            `json:"username,omitempty"`
	Password     string            `json:"password,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	InstanceName string            `json:"instanceName,omitempty"`
}

// Payload is the JSON body posted to the webhook.
type Payload struct {
	EventType    string    `json:"eventType"`
	InstanceName string    `json:"instanceName"`
	EventID      string    `json:"eventId,omitempty"`
	Name         string    `json:"name,omitempty"`
	Category     string    `json:"category,omitempty"`
	Status       string    `json:"status,omitempty"`
	Message      string    `json:"message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Notifier sends notifications to a custom webhook endpoint
type Notifier struct {
	name       string
	settings   Settings
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ types.Notifier = (*Notifier)(nil)

// New creates a new webhook notifier
func New(name string, settings Settings, httpClient *http.Client, logger zerolog.Logger) *Notifier {
	if settings.Method == "" {
		settings.Method = http.MethodPost
	}
	if settings.InstanceName == "" {
		settings.InstanceName = DefaultInstanceName
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{
		name:       name,
		settings:   settings,
		httpClient: httpClient,
		logger:     logger.With().Str("notifier", "webhook").Str("name", name).Logger(),
	}
}

func (n *Notifier) Type() types.NotifierType {
	return types.NotifierWebhook
}

func (n *Notifier) Name() string {
	return n.name
}

func (n *Notifier) Test(ctx context.Context) error {
	return n.send(ctx, Payload{
		EventType:    "test",
		InstanceName: n.settings.InstanceName,
		Message:      "Test notification from " + n.settings.InstanceName,
		Timestamp:    time.Now().UTC(),
	})
}

func (n *Notifier) OnDownloadComplete(ctx context.Context, event types.DownloadCompleteEvent) error {
	ts := event.CompletedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return n.send(ctx, Payload{
		EventType:    "download_complete",
		InstanceName: n.settings.InstanceName,
		EventID:      event.EventID,
		Name:         event.Name,
		Category:     event.Category,
		Status:       event.Status,
		Timestamp:    ts,
	})
}

func (n *Notifier) send(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, n.settings.Method, n.settings.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if n.settings.Username != "" && n.settings.Password != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(n.settings.Username + ":" + n.settings.Password))
		req.Header.Set("Authorization", "Basic "+auth)
	}

	for key, value := range n.settings.Headers {
		req.Header.Set(key, value)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Debug().Str("eventType", payload.EventType).Int("status", resp.StatusCode).Msg("Webhook delivered")
	return nil
}
