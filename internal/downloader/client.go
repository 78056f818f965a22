// Package downloader polls a download manager and detects completed downloads.
package downloader

import (
	"github.com/nzbwatch/nzbwatch/internal/downloader/types"
)

// Re-export types for convenience.
// This allows external packages to use downloader.StatusClient instead of types.StatusClient.

type (
	ClientType        = types.ClientType
	ClientConfig      = types.ClientConfig
	StatusClient      = types.StatusClient
	StatusSnapshot    = types.StatusSnapshot
	HistoryItem       = types.HistoryItem
	ClientError       = types.ClientError
	CompletionPayload = types.CompletionPayload
)

// Re-export constants.
const (
	ClientTypeNZBGet  = types.ClientTypeNZBGet
	ClientTypeSABnzbd = types.ClientTypeSABnzbd
	ClientTypeMock    = types.ClientTypeMock
)

// Re-export errors.
var (
	ErrClient         = types.ErrClient
	ErrNotImplemented = types.ErrNotImplemented
	ErrAuthFailed     = types.ErrAuthFailed
	ErrUnsupported    = types.ErrUnsupported
)

// Re-export functions.
var NewClientError = types.NewClientError
