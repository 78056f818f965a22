package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/nzbwatch/nzbwatch/internal/downloader"
	"github.com/nzbwatch/nzbwatch/internal/scheduler"
)

const (
	// RefreshTaskID identifies the poll task in the scheduler.
	RefreshTaskID = "download-refresh"

	defaultMaxBackoff = 2 * time.Minute
)

// Refresher is the subset of the coordinator the refresh task drives.
type Refresher interface {
	Refresh(ctx context.Context) (*downloader.CycleResult, error)
	Interval() time.Duration
}

// RefreshTask runs one coordinator refresh per tick. After consecutive
// failures it skips ticks on an exponential schedule and resumes normal
// cadence on the first success.
type RefreshTask struct {
	coordinator Refresher
	interval    time.Duration
	logger      *zerolog.Logger
	now         func() time.Time

	mu          sync.Mutex
	backoff     backoff.BackOff
	failures    int
	nextAllowed time.Time
}

// BackoffState describes the current retry state of the refresh task.
type BackoffState struct {
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	NextAttempt         time.Time `json:"nextAttempt,omitempty"`
}

// NewRefreshTask creates a refresh task. maxBackoff caps the delay between
// attempts while the download manager keeps failing.
func NewRefreshTask(coordinator Refresher, maxBackoff time.Duration, logger *zerolog.Logger) *RefreshTask {
	subLogger := logger.With().Str("task", RefreshTaskID).Logger()
	interval := coordinator.Interval()
	if maxBackoff < interval {
		maxBackoff = defaultMaxBackoff
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = maxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return &RefreshTask{
		coordinator: coordinator,
		interval:    interval,
		logger:      &subLogger,
		now:         time.Now,
		backoff:     b,
	}
}

// Run executes one refresh unless the task is backing off.
func (t *RefreshTask) Run(ctx context.Context) error {
	now := t.now()

	t.mu.Lock()
	// ticks land on multiples of the interval; allow half an interval of slack
	if now.Add(t.interval / 2).Before(t.nextAllowed) {
		t.mu.Unlock()
		t.logger.Debug().Time("nextAttempt", t.nextAllowed).Msg("Backing off, skipping refresh")
		return nil
	}
	t.mu.Unlock()

	_, err := t.coordinator.Refresh(ctx)
	switch {
	case errors.Is(err, downloader.ErrRefreshInProgress):
		t.logger.Debug().Msg("Previous refresh still running, skipping tick")
		return nil
	case err != nil:
		t.mu.Lock()
		t.failures++
		delay := t.backoff.NextBackOff()
		t.nextAllowed = now.Add(delay)
		failures := t.failures
		t.mu.Unlock()

		if failures > 1 {
			t.logger.Debug().Int("failures", failures).Dur("backoff", delay).Msg("Refresh backing off")
		}
		return err
	default:
		t.mu.Lock()
		if t.failures > 0 {
			t.logger.Info().Int("failures", t.failures).Msg("Refresh recovered")
		}
		t.failures = 0
		t.nextAllowed = time.Time{}
		t.backoff.Reset()
		t.mu.Unlock()
		return nil
	}
}

// State returns the current backoff state.
func (t *RefreshTask) State() BackoffState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return BackoffState{ConsecutiveFailures: t.failures, NextAttempt: t.nextAllowed}
}

// RegisterRefreshTask registers the poll task with the scheduler. The task
// runs on start and then every coordinator interval.
func RegisterRefreshTask(
	sched *scheduler.Scheduler,
	coordinator Refresher,
	maxBackoff time.Duration,
	logger *zerolog.Logger,
) (*RefreshTask, error) {
	task := NewRefreshTask(coordinator, maxBackoff, logger)

	err := sched.RegisterTask(&scheduler.TaskConfig{
		ID:          RefreshTaskID,
		Name:        "Download Refresh",
		Description: "Polls the download manager and emits completion events",
		Cron:        scheduler.EveryCron(coordinator.Interval()),
		RunOnStart:  true,
		Quiet:       true,
		Func:        task.Run,
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}
