// Package mock provides a simulated download manager for developer mode.
package mock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nzbwatch/nzbwatch/internal/downloader/types"
)

const (
	// DefaultDownloadDuration is how long a simulated download takes to complete.
	DefaultDownloadDuration = 60 * time.Second
	// DefaultQueueDelay is how long items stay queued before starting.
	DefaultQueueDelay = 2 * time.Second
	// MockDownloadDir is the simulated download directory.
	MockDownloadDir = "/mock/downloads/nzbwatch"

	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"

	freeDiskSpace = 500 * 1024 * 1024 * 1024
)

var categories = []string{"movies", "tv", "music", "software"}

// mockDownload represents a simulated download.
type mockDownload struct {
	ID       string
	Name     string
	Category string
	Size     int64
	AddedAt  time.Time
	Fail     bool
}

// Client simulates a usenet download manager. Downloads move from the queue
// into history once their simulated duration elapses.
type Client struct {
	mu               sync.Mutex
	downloads        map[string]*mockDownload
	history          []types.HistoryItem
	startedAt        time.Time
	downloadDuration time.Duration
	queueDelay       time.Duration
	latency          time.Duration
	failure          error
	now              func() time.Time
}

// Compile-time check that Client implements StatusClient.
var _ types.StatusClient = (*Client)(nil)

// New creates an empty simulated client.
func New() *Client {
	return &Client{
		downloads:        make(map[string]*mockDownload),
		startedAt:        time.Now(),
		downloadDuration: DefaultDownloadDuration,
		queueDelay:       DefaultQueueDelay,
		now:              time.Now,
	}
}

// NewFromConfig creates a client from a ClientConfig (connection settings are ignored).
func NewFromConfig(_ *types.ClientConfig) *Client {
	return New()
}

// SetDurations overrides the simulated queue delay and download duration.
func (c *Client) SetDurations(queueDelay, download time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDelay = queueDelay
	c.downloadDuration = download
}

// SetLatency makes every fetch wait d before answering.
func (c *Client) SetLatency(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency = d
}

// SetFailure makes every fetch fail with err until cleared with nil.
func (c *Client) SetFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = err
}

// Type returns the client type.
func (c *Client) Type() types.ClientType {
	return types.ClientTypeMock
}

// Test verifies the client connection.
func (c *Client) Test(ctx context.Context) error {
	return c.precheck(ctx, "test")
}

// Add queues a simulated download and returns its ID.
func (c *Client) Add(name, category string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if name == "" {
		name = "Mock Download"
	}

	id := generateMockID()
	c.downloads[id] = &mockDownload{
		ID:       id,
		Name:     name,
		Category: category,
		Size:     int64(1+randInt(20)) * 1024 * 1024 * 1024,
		AddedAt:  c.now(),
	}
	return id
}

// FastForward instantly completes a simulated download.
// When fail is true the history entry is recorded as a failure.
func (c *Client) FastForward(id string, fail bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.downloads[id]
	if !ok {
		return fmt.Errorf("download %s not found", id)
	}
	d.Fail = fail
	c.complete(d, c.now())
	return nil
}

// FetchStatus returns simulated server status.
func (c *Client) FetchStatus(ctx context.Context) (*types.StatusSnapshot, error) {
	if err := c.precheck(ctx, "status"); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.advance(now)

	status := &types.StatusSnapshot{
		FreeDiskSpace: freeDiskSpace,
		ThreadCount:   len(c.downloads),
		UptimeSeconds: int64(now.Sub(c.startedAt).Seconds()),
		ServerTime:    now,
		Raw:           map[string]any{"simulated": true},
	}
	for _, d := range c.downloads {
		progress := c.progress(d, now)
		done := int64(float64(d.Size) * progress)
		status.DownloadedSize += done
		status.RemainingSize += d.Size - done
		if progress > 0 && c.downloadDuration > 0 {
			status.DownloadRate += int64(float64(d.Size) / c.downloadDuration.Seconds())
		}
	}
	return status, nil
}

// FetchHistory returns the simulated history, newest first.
func (c *Client) FetchHistory(ctx context.Context) ([]types.HistoryItem, error) {
	if err := c.precheck(ctx, "history"); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.advance(c.now())

	items := make([]types.HistoryItem, len(c.history))
	copy(items, c.history)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CompletedAt.After(items[j].CompletedAt)
	})
	return items, nil
}

// Simulate adds a random download every interval until ctx is done.
func (c *Client) Simulate(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			category := categories[randInt(len(categories))]
			c.Add(fmt.Sprintf("Simulated.Release.%03d", n), category)
		}
	}
}

// Clear removes all simulated downloads and history.
func (c *Client) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downloads = make(map[string]*mockDownload)
	c.history = nil
}

// DownloadCount returns the number of queued or active simulated downloads.
func (c *Client) DownloadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.downloads)
}

func (c *Client) precheck(ctx context.Context, op string) error {
	c.mu.Lock()
	latency := c.latency
	failure := c.failure
	c.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return types.NewClientError(op, ctx.Err())
		}
	}
	if failure != nil {
		return types.NewClientError(op, failure)
	}
	return nil
}

// advance moves finished downloads into history. Caller holds mu.
func (c *Client) advance(now time.Time) {
	for _, d := range c.downloads {
		if now.Sub(d.AddedAt) >= c.queueDelay+c.downloadDuration {
			c.complete(d, d.AddedAt.Add(c.queueDelay+c.downloadDuration))
		}
	}
}

// complete moves d into history. Caller holds mu.
func (c *Client) complete(d *mockDownload, at time.Time) {
	status := StatusSuccess
	if d.Fail {
		status = StatusFailure
	}
	c.history = append(c.history, types.HistoryItem{
		ID:          d.ID,
		Name:        d.Name,
		Category:    d.Category,
		Status:      status,
		Size:        d.Size,
		CompletedAt: at,
		DownloadDir: MockDownloadDir + "/" + d.Category,
	})
	delete(c.downloads, d.ID)
}

// progress returns the completed fraction of d at now, between 0 and 1.
func (c *Client) progress(d *mockDownload, now time.Time) float64 {
	elapsed := now.Sub(d.AddedAt) - c.queueDelay
	if elapsed <= 0 || c.downloadDuration <= 0 {
		return 0
	}
	p := float64(elapsed) / float64(c.downloadDuration)
	if p > 1 {
		p = 1
	}
	return p
}

// generateMockID generates a random mock download ID.
func generateMockID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return "mock-" + hex.EncodeToString(bytes)
}

// randInt returns a random int between 0 and maxVal-1.
func randInt(maxVal int) int {
	if maxVal <= 0 {
		return 0
	}
	bytes := make([]byte, 1)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return int(bytes[0]) % maxVal
}
