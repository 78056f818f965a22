package logger

import (
	"encoding/json"
	"sync"
)

const (
	defaultBufferSize = 1000

	// MessageTypeLogEntry is the hub message type for streamed log entries.
	MessageTypeLogEntry = "logs:entry"
)

// Broadcaster is the interface for broadcasting messages.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// LogEntry represents a parsed log entry for streaming.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Error     string         `json:"error,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// LogBroadcaster is an io.Writer that keeps recent zerolog entries in a ring
// buffer and forwards each one to the hub.
type LogBroadcaster struct {
	hub    Broadcaster
	buffer *RingBuffer[LogEntry]
	mu     sync.RWMutex
}

// NewLogBroadcaster creates a new log broadcaster. hub may be nil and set
// later with SetHub.
func NewLogBroadcaster(hub Broadcaster, bufferSize int) *LogBroadcaster {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &LogBroadcaster{
		hub:    hub,
		buffer: NewRingBuffer[LogEntry](bufferSize),
	}
}

// SetHub sets the broadcaster hub for sending messages.
func (b *LogBroadcaster) SetHub(hub Broadcaster) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hub = hub
}

// Write implements io.Writer. Malformed entries are dropped.
func (b *LogBroadcaster) Write(p []byte) (int, error) {
	entry, err := parseLogEntry(p)
	if err != nil {
		return len(p), nil //nolint:nilerr // never fail the logger
	}

	b.buffer.Push(entry)

	b.mu.RLock()
	hub := b.hub
	b.mu.RUnlock()

	if hub != nil {
		// a failed broadcast must not be logged here or it would recurse
		_ = hub.Broadcast(MessageTypeLogEntry, entry)
	}
	return len(p), nil
}

// GetRecentLogs returns all buffered log entries.
func (b *LogBroadcaster) GetRecentLogs() []LogEntry {
	return b.buffer.GetAll()
}

func parseLogEntry(data []byte) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return LogEntry{}, err
	}

	entry := LogEntry{}
	take := func(key string) string {
		v, ok := raw[key].(string)
		if ok {
			delete(raw, key)
		}
		return v
	}

	entry.Timestamp = take("time")
	entry.Level = take("level")
	entry.Component = take("component")
	entry.Message = take("message")
	entry.Error = take("error")

	if len(raw) > 0 {
		entry.Fields = raw
	}
	return entry, nil
}
