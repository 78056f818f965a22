// Package types contains shared type definitions for notification packages.
package types

import (
	"context"
	"time"
)

// NotifierType identifies a notification provider
type NotifierType string

const (
	NotifierWebhook NotifierType = "webhook"
	NotifierMock    NotifierType = "mock"
)

// Notifier is the interface all notification providers must implement
type Notifier interface {
	Type() NotifierType
	Name() string
	Test(ctx context.Context) error
	OnDownloadComplete(ctx context.Context, event DownloadCompleteEvent) error
}

// DownloadCompleteEvent describes one newly completed history item.
type DownloadCompleteEvent struct {
	EventID     string    `json:"eventId,omitempty"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Status      string    `json:"status"`
	CompletedAt time.Time `json:"completedAt"`
}
