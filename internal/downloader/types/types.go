// Package types defines shared types for download clients.
package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors for download clients.
var (
	ErrClient         = errors.New("invalid response from API")
	ErrNotImplemented = errors.New("operation not implemented")
	ErrAuthFailed     = errors.New("authentication failed")
	ErrUnsupported    = errors.New("unsupported client type")
)

// ClientError is returned by a client when the remote reports a failure or
// the response cannot be understood. It always matches ErrClient.
type ClientError struct {
	Op  string
	Err error
}

func (e *ClientError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, ErrClient)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrClient, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// Is reports ErrClient so callers can use errors.Is without unwrapping.
func (e *ClientError) Is(target error) bool {
	return target == ErrClient
}

// NewClientError wraps err as a ClientError for the given operation.
func NewClientError(op string, err error) error {
	return &ClientError{Op: op, Err: err}
}

// ClientType represents the type of download client.
type ClientType string

const (
	ClientTypeNZBGet  ClientType = "nzbget"
	ClientTypeSABnzbd ClientType = "sabnzbd"
	ClientTypeMock    ClientType = "mock" // Simulated client for developer mode
)

// ClientConfig holds common configuration for all download clients.
type ClientConfig struct {
	Name      string
	Host      string
	Port      int
	Username  string
	Password  string
	UseSSL    bool
	VerifySSL bool
	APIKey    string
}

// StatusClient is the capability the poller needs from a download manager.
// Both fetch operations block on network I/O and report failures as
// ClientError.
type StatusClient interface {
	Type() ClientType
	Test(ctx context.Context) error
	FetchStatus(ctx context.Context) (*StatusSnapshot, error)
	FetchHistory(ctx context.Context) ([]HistoryItem, error)
}

// StatusSnapshot is the server status reported by a download manager.
// It is passed through to consumers unmodified.
type StatusSnapshot struct {
	DownloadRate   int64          `json:"downloadRate"`   // bytes/sec
	RemainingSize  int64          `json:"remainingSize"`  // bytes
	DownloadedSize int64          `json:"downloadedSize"` // bytes
	FreeDiskSpace  int64          `json:"freeDiskSpace"`  // bytes
	DownloadPaused bool           `json:"downloadPaused"`
	PostPaused     bool           `json:"postPaused"`
	ThreadCount    int            `json:"threadCount"`
	UptimeSeconds  int64          `json:"uptimeSeconds"`
	DownloadLimit  int64          `json:"downloadLimit"` // bytes/sec, 0 = unlimited
	ServerTime     time.Time      `json:"serverTime,omitempty"`
	Raw            map[string]any `json:"raw,omitempty"`
}

// HistoryItem represents an entry in the download manager's history.
type HistoryItem struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Status      string    `json:"status"` // terminal state, e.g. SUCCESS, FAILURE
	Size        int64     `json:"size,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	DownloadDir string    `json:"downloadDir,omitempty"`
}

// CompletionPayload is the payload published for a newly completed item.
type CompletionPayload struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"`
}
