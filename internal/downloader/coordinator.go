package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultInterval is how often the scheduler refreshes the coordinator.
	DefaultInterval = 5 * time.Second
	// DefaultTimeout bounds both remote calls of one refresh combined.
	DefaultTimeout = 4 * time.Second

	// TopicDownloadComplete is published once per newly completed history item.
	TopicDownloadComplete = "download_complete"

	healthCategory = "poller"
	healthID       = "refresh"
)

var (
	// ErrRefreshFailed wraps every refresh failure.
	ErrRefreshFailed = errors.New("refresh failed")
	// ErrTimeout marks a refresh whose remote calls exceeded the deadline.
	ErrTimeout = errors.New("refresh deadline exceeded")
	// ErrRefreshInProgress is returned when a refresh is requested while
	// another one on the same coordinator has not resolved yet.
	ErrRefreshInProgress = errors.New("refresh already in progress")
	// ErrInvalidTiming is returned for a timeout that is not strictly less
	// than the poll interval.
	ErrInvalidTiming = errors.New("timeout must be positive and less than the poll interval")
)

// EventSink receives change events. Publish must not block for long.
type EventSink interface {
	Publish(topic string, payload any)
}

// Broadcaster defines the interface for broadcasting messages.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// MetricsRecorder receives per-cycle measurements.
type MetricsRecorder interface {
	RecordRefresh(duration time.Duration, err error)
	RecordCompletions(n int)
	RecordHistorySize(n int)
}

// HealthReporter is the subset of the health service the coordinator updates.
type HealthReporter interface {
	ClearStatusStr(category, id string)
	SetErrorStr(category, id, message string)
}

// CycleResult is the merged outcome of one successful refresh.
// It is replaced wholesale and never mutated after publication.
type CycleResult struct {
	Status    *StatusSnapshot `json:"status"`
	Downloads []HistoryItem   `json:"downloads"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// State describes the coordinator's baseline and recent health.
type State struct {
	Initialized         bool      `json:"initialized"`
	BaselineSize        int       `json:"baselineSize"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
	LastAttempt         time.Time `json:"lastAttempt,omitempty"`
	LastSuccess         time.Time `json:"lastSuccess,omitempty"`
	InProgress          bool      `json:"inProgress"`
}

// CoordinatorConfig holds the timing of the poll cycle.
type CoordinatorConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Validate fills defaults and checks that the timeout fits inside the interval.
func (c *CoordinatorConfig) Validate() error {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Interval < 0 || c.Timeout <= 0 || c.Timeout >= c.Interval {
		return fmt.Errorf("%w: timeout=%s interval=%s", ErrInvalidTiming, c.Timeout, c.Interval)
	}
	return nil
}

// Coordinator refreshes download manager state, keeps the previous history
// snapshot as a baseline, and publishes one event per newly completed item.
// Scheduling and retry policy belong to the caller.
type Coordinator struct {
	client   StatusClient
	sink     EventSink
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	hub     Broadcaster
	metrics MetricsRecorder
	health  HealthReporter

	inFlight atomic.Bool
	data     atomic.Pointer[CycleResult]

	// baseline and initialized are written only by the goroutine holding inFlight.
	mu          sync.RWMutex
	baseline    Snapshot
	initialized bool
	state       State
}

// NewCoordinator creates a coordinator for the given client and event sink.
func NewCoordinator(client StatusClient, sink EventSink, cfg CoordinatorConfig, logger zerolog.Logger) (*Coordinator, error) {
	if client == nil {
		return nil, errors.New("coordinator: client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		client:   client,
		sink:     sink,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   logger.With().Str("component", "coordinator").Str("client", string(client.Type())).Logger(),
		now:      time.Now,
	}, nil
}

// SetBroadcaster sets the WebSocket broadcaster for refresh notifications.
func (c *Coordinator) SetBroadcaster(hub Broadcaster) {
	c.hub = hub
}

// SetMetrics sets the recorder for cycle measurements.
func (c *Coordinator) SetMetrics(m MetricsRecorder) {
	c.metrics = m
}

// SetHealthService sets the health reporter updated after every cycle.
func (c *Coordinator) SetHealthService(h HealthReporter) {
	c.health = h
}

// Interval returns the configured poll interval.
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// Timeout returns the configured refresh deadline.
func (c *Coordinator) Timeout() time.Duration {
	return c.timeout
}

// Client returns the underlying status client.
func (c *Coordinator) Client() StatusClient {
	return c.client
}

// Data returns the last successful cycle result, or nil before the first one.
func (c *Coordinator) Data() *CycleResult {
	return c.data.Load()
}

// State returns a copy of the coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.state
	st.Initialized = c.initialized
	st.BaselineSize = c.baseline.Len()
	st.InProgress = c.inFlight.Load()
	return st
}

// Baseline returns a copy of the retained snapshot.
func (c *Coordinator) Baseline() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dup := make(Snapshot, len(c.baseline))
	for k := range c.baseline {
		dup[k] = struct{}{}
	}
	return dup
}

// Refresh runs one poll cycle. It returns ErrRefreshInProgress without doing
// anything when another cycle is still outstanding. Failures match
// ErrRefreshFailed and leave the baseline and last result untouched.
func (c *Coordinator) Refresh(ctx context.Context) (*CycleResult, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrRefreshInProgress
	}
	defer c.inFlight.Store(false)

	start := c.now()
	c.recordAttempt(start)

	status, history, err := c.fetch(ctx)
	duration := c.now().Sub(start)
	if err != nil {
		c.fail(err, duration)
		return nil, err
	}

	result, added := c.apply(status, history)

	c.recordSuccess(result.UpdatedAt)
	if c.metrics != nil {
		c.metrics.RecordRefresh(duration, nil)
		c.metrics.RecordCompletions(added)
		c.metrics.RecordHistorySize(len(history))
	}
	if c.health != nil {
		c.health.ClearStatusStr(healthCategory, healthID)
	}
	c.broadcast("refresh:completed", map[string]any{
		"updatedAt":      result.UpdatedAt,
		"historyCount":   len(result.Downloads),
		"newlyCompleted": added,
	})

	c.logger.Debug().
		Int("historyCount", len(history)).
		Int("newlyCompleted", added).
		Dur("duration", duration).
		Msg("Refresh completed")

	return result, nil
}

type fetchOutcome struct {
	status  *StatusSnapshot
	history []HistoryItem
	err     error
}

// fetch runs both remote calls in their own goroutine and waits for them or
// the deadline, whichever comes first. Calls that outlive the deadline are
// abandoned; their results are dropped.
func (c *Coordinator) fetch(parent context.Context) (*StatusSnapshot, []HistoryItem, error) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	done := make(chan fetchOutcome, 1)
	go func() {
		var out fetchOutcome
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			status, err := c.client.FetchStatus(gctx)
			if err != nil {
				return err
			}
			out.status = status
			return nil
		})
		g.Go(func() error {
			history, err := c.client.FetchHistory(gctx)
			if err != nil {
				return err
			}
			out.history = history
			return nil
		})
		out.err = g.Wait()
		done <- out
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, nil, c.wrapError(ctx, parent, out.err)
		}
		if out.status == nil {
			out.status = &StatusSnapshot{}
		}
		return out.status, out.history, nil
	case <-ctx.Done():
		return nil, nil, c.wrapError(ctx, parent, ctx.Err())
	}
}

func (c *Coordinator) wrapError(ctx, parent context.Context, cause error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %w", ErrRefreshFailed, parent.Err())
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w after %s: %w", ErrRefreshFailed, ErrTimeout, c.timeout, cause)
	}
	if !errors.Is(cause, ErrClient) {
		cause = NewClientError("refresh", cause)
	}
	return fmt.Errorf("%w: %w", ErrRefreshFailed, cause)
}

// apply diffs the new history against the baseline, emits completion events,
// and publishes the new result. Caller holds inFlight.
func (c *Coordinator) apply(status *StatusSnapshot, history []HistoryItem) (*CycleResult, int) {
	current := NewSnapshot(history)

	c.mu.RLock()
	initialized := c.initialized
	previous := c.baseline
	c.mu.RUnlock()

	var added Snapshot
	if initialized {
		added = Diff(previous, current)
		for _, key := range added.Keys() {
			c.logger.Info().
				Str("name", key.Name).
				Str("category", key.Category).
				Str("status", key.Status).
				Msg("Download completed")
			if c.sink != nil {
				c.sink.Publish(TopicDownloadComplete, key.Payload())
			}
		}
	} else {
		c.logger.Info().Int("historyCount", current.Len()).Msg("Baseline established")
	}

	c.mu.Lock()
	c.baseline = current
	c.initialized = true
	c.mu.Unlock()

	downloads := make([]HistoryItem, len(history))
	copy(downloads, history)
	result := &CycleResult{
		Status:    status,
		Downloads: downloads,
		UpdatedAt: c.now(),
	}
	c.data.Store(result)

	return result, added.Len()
}

func (c *Coordinator) fail(err error, duration time.Duration) {
	c.recordFailure(err)
	if c.metrics != nil {
		c.metrics.RecordRefresh(duration, err)
	}
	if c.health != nil {
		c.health.SetErrorStr(healthCategory, healthID, err.Error())
	}
	c.broadcast("refresh:failed", map[string]any{
		"error":   err.Error(),
		"timeout": errors.Is(err, ErrTimeout),
	})
	c.logger.Warn().Err(err).Dur("duration", duration).Msg("Refresh failed")
}

func (c *Coordinator) broadcast(msgType string, payload any) {
	if c.hub == nil {
		return
	}
	if err := c.hub.Broadcast(msgType, payload); err != nil {
		c.logger.Warn().Err(err).Str("type", msgType).Msg("Failed to broadcast refresh state")
	}
}

func (c *Coordinator) recordAttempt(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.LastAttempt = at
}

func (c *Coordinator) recordSuccess(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ConsecutiveFailures = 0
	c.state.LastError = ""
	c.state.LastSuccess = at
}

func (c *Coordinator) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ConsecutiveFailures++
	c.state.LastError = err.Error()
}
