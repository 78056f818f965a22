package downloader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzbwatch/nzbwatch/internal/testutil"
)

type fakeMetrics struct {
	mu          sync.Mutex
	refreshes   int
	failures    int
	completions int
	historySize int
}

func (m *fakeMetrics) RecordRefresh(_ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	if err != nil {
		m.failures++
	}
}

func (m *fakeMetrics) RecordCompletions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions += n
}

func (m *fakeMetrics) RecordHistorySize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historySize = n
}

type fakeHealth struct {
	mu      sync.Mutex
	errored bool
	message string
	clears  int
}

func (h *fakeHealth) ClearStatusStr(_, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errored = false
	h.message = ""
	h.clears++
}

func (h *fakeHealth) SetErrorStr(_, _, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errored = true
	h.message = message
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	types []string
}

func (b *fakeBroadcaster) Broadcast(msgType string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.types = append(b.types, msgType)
	return nil
}

func (b *fakeBroadcaster) last() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.types) == 0 {
		return ""
	}
	return b.types[len(b.types)-1]
}

func newTestCoordinator(t *testing.T, client *testutil.FakeClient, cfg CoordinatorConfig) (*Coordinator, *testutil.RecordingSink) {
	t.Helper()
	sink := &testutil.RecordingSink{}
	c, err := NewCoordinator(client, sink, cfg, testutil.NewTestLogger(t))
	require.NoError(t, err)
	return c, sink
}

func completions(t *testing.T, sink *testutil.RecordingSink) []CompletionPayload {
	t.Helper()
	var out []CompletionPayload
	for _, ev := range sink.Events() {
		require.Equal(t, TopicDownloadComplete, ev.Topic)
		p, ok := ev.Payload.(CompletionPayload)
		require.True(t, ok, "unexpected payload type %T", ev.Payload)
		out = append(out, p)
	}
	return out
}

func TestCoordinatorConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CoordinatorConfig
		wantErr bool
		want    CoordinatorConfig
	}{
		{name: "defaults", cfg: CoordinatorConfig{}, want: CoordinatorConfig{Interval: 5 * time.Second, Timeout: 4 * time.Second}},
		{name: "custom", cfg: CoordinatorConfig{Interval: time.Minute, Timeout: 10 * time.Second}, want: CoordinatorConfig{Interval: time.Minute, Timeout: 10 * time.Second}},
		{name: "timeout equals interval", cfg: CoordinatorConfig{Interval: 5 * time.Second, Timeout: 5 * time.Second}, wantErr: true},
		{name: "timeout exceeds interval", cfg: CoordinatorConfig{Interval: 5 * time.Second, Timeout: 6 * time.Second}, wantErr: true},
		{name: "default timeout exceeds short interval", cfg: CoordinatorConfig{Interval: 2 * time.Second}, wantErr: true},
		{name: "negative timeout", cfg: CoordinatorConfig{Interval: 5 * time.Second, Timeout: -time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTiming)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg)
		})
	}
}

func TestNewCoordinator_RejectsInvalidTiming(t *testing.T) {
	_, err := NewCoordinator(testutil.NewFakeClient(), nil, CoordinatorConfig{Interval: time.Second, Timeout: time.Second}, testutil.NewTestLogger(t))
	assert.ErrorIs(t, err, ErrInvalidTiming)

	_, err = NewCoordinator(nil, nil, CoordinatorConfig{}, testutil.NewTestLogger(t))
	assert.Error(t, err)
}

func TestCoordinator_FirstPollEstablishesBaseline(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Response{
		History: testutil.History(
			[3]string{"A", "cat1", "completed"},
			[3]string{"B", "cat2", "completed"},
		),
	})
	c, sink := newTestCoordinator(t, client, CoordinatorConfig{})

	assert.Nil(t, c.Data())
	assert.False(t, c.State().Initialized)

	result, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.Empty(t, sink.Events(), "first successful poll must not emit")
	assert.True(t, c.State().Initialized)
	assert.Equal(t, 2, c.State().BaselineSize)
	assert.Same(t, result, c.Data())
	assert.Len(t, result.Downloads, 2)
	assert.NotNil(t, result.Status)
}

func TestCoordinator_EmitsOncePerNewTriple(t *testing.T) {
	client := testutil.NewFakeClient(
		testutil.Response{History: testutil.History([3]string{"A", "cat1", "completed"})},
		testutil.Response{History: testutil.History(
			[3]string{"A", "cat1", "completed"},
			[3]string{"B", "cat1", "completed"},
		)},
		testutil.Response{History: testutil.History(
			[3]string{"A", "cat1", "completed"},
			[3]string{"B", "cat1", "completed"},
		)},
	)
	c, sink := newTestCoordinator(t, client, CoordinatorConfig{})
	ctx := context.Background()

	_, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.Empty(t, sink.Events())

	_, err = c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []CompletionPayload{{Name: "B", Category: "cat1", Status: "completed"}}, completions(t, sink))

	sink.Reset()
	_, err = c.Refresh(ctx)
	require.NoError(t, err)
	assert.Empty(t, sink.Events(), "unchanged history must not emit")
}

func TestCoordinator_DisappearanceDoesNotEmit(t *testing.T) {
	client := testutil.NewFakeClient(
		testutil.Response{History: testutil.History(
			[3]string{"A", "cat1", "completed"},
			[3]string{"B", "cat1", "completed"},
		)},
		testutil.Response{History: testutil.History([3]string{"B", "cat1", "completed"})},
		testutil.Response{History: testutil.History(
			[3]string{"A", "cat1", "completed"},
			[3]string{"B", "cat1", "completed"},
		)},
	)
	c, sink := newTestCoordinator(t, client, CoordinatorConfig{})
	ctx := context.Background()

	_, err := c.Refresh(ctx)
	require.NoError(t, err)
	_, err = c.Refresh(ctx)
	require.NoError(t, err)
	assert.Empty(t, sink.Events())
	assert.Equal(t, 1, c.State().BaselineSize)

	// an item that comes back after dropping out of the window is new again
	_, err = c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []CompletionPayload{{Name: "A", Category: "cat1", Status: "completed"}}, completions(t, sink))
}

func TestCoordinator_StatusChangeEmits(t *testing.T) {
	client := testutil.NewFakeClient(
		testutil.Response{History: testutil.History([3]string{"A", "cat1", "FAILURE"})},
		testutil.Response{History: testutil.History([3]string{"A", "cat1", "SUCCESS"})},
	)
	c, sink := newTestCoordinator(t, client, CoordinatorConfig{})

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	_, err = c.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []CompletionPayload{{Name: "A", Category: "cat1", Status: "SUCCESS"}}, completions(t, sink))
}

func TestCoordinator_MultipleNewItemsEmitInOrder(t *testing.T) {
	client := testutil.NewFakeClient(
		testutil.Response{},
		testutil.Response{History: testutil.History(
			[3]string{"C", "tv", "SUCCESS"},
			[3]string{"A", "movies", "SUCCESS"},
			[3]string{"B", "movies", "FAILURE"},
		)},
	)
	c, sink := newTestCoordinator(t, client, CoordinatorConfig{})

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, c.State().Initialized, "empty history still establishes a baseline")

	_, err = c.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []CompletionPayload{
		{Name: "A", Category: "movies", Status: "SUCCESS"},
		{Name: "B", Category: "movies", Status: "FAILURE"},
		{Name: "C", Category: "tv", Status: "SUCCESS"},
	}, completions(t, sink))
}

func TestCoordinator_DuplicateEntriesEmitOnce(t *testing.T) {
	client := testutil.NewFakeClient(
		testutil.Response{},
		testutil.Response{History: testutil.History(
			[3]string{"A", "cat1", "SUCCESS"},
			[3]string{"A", "cat1", "SUCCESS"},
		)},
	)
	c, sink := newTestCoordinator(t, client, CoordinatorConfig{})

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	result, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.Len(t, completions(t, sink), 1)
	assert.Len(t, result.Downloads, 2, "downloads keep the raw history")
}

func TestCoordinator_FailureLeavesStateUnchanged(t *testing.T) {
	boom := errors.New("connection refused")
	client := testutil.NewFakeClient(
		testutil.Response{History: testutil.History([3]string{"A", "cat1", "completed"})},
		testutil.Response{Err: boom},
		testutil.Response{History: testutil.History(
			[3]string{"A", "cat1", "completed"},
			[3]string{"B", "cat1", "completed"},
		)},
	)
	c, sink := newTestCoordinator(t, client, CoordinatorConfig{})
	ctx := context.Background()

	first, err := c.Refresh(ctx)
	require.NoError(t, err)
	baseline := c.Baseline()

	_, err = c.Refresh(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, ErrClient)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrTimeout)

	assert.Empty(t, sink.Events())
	assert.Same(t, first, c.Data(), "failed refresh must not replace data")
	assert.Equal(t, baseline, c.Baseline())
	st := c.State()
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Contains(t, st.LastError, "connection refused")

	// recovery diffs against the last successful snapshot
	_, err = c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []CompletionPayload{{Name: "B", Category: "cat1", Status: "completed"}}, completions(t, sink))
	assert.Equal(t, 0, c.State().ConsecutiveFailures)
	assert.Empty(t, c.State().LastError)
}

func TestCoordinator_FailureOnFirstPollKeepsUninitialized(t *testing.T) {
	client := testutil.NewFakeClient(
		testutil.Response{Err: errors.New("boom")},
		testutil.Response{History: testutil.History([3]string{"A", "cat1", "completed"})},
	)
	c, sink := newTestCoordinator(t, client, CoordinatorConfig{})

	_, err := c.Refresh(context.Background())
	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.False(t, c.State().Initialized)
	assert.Nil(t, c.Data())

	// the first success after failures is still the baseline poll
	_, err = c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sink.Events())
	assert.True(t, c.State().Initialized)
}

func TestCoordinator_Timeout(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Response{History: testutil.History([3]string{"A", "cat1", "completed"})})
	c, sink := newTestCoordinator(t, client, CoordinatorConfig{Interval: time.Second, Timeout: 50 * time.Millisecond})

	client.Block()
	start := time.Now()
	_, err := c.Refresh(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, elapsed, time.Second, "refresh must give up at the deadline")
	assert.False(t, c.State().Initialized)
	assert.Nil(t, c.Data())
	assert.Empty(t, sink.Events())
	assert.False(t, c.State().InProgress)

	client.Unblock()
	_, err = c.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, c.State().Initialized)
	assert.Empty(t, sink.Events())
}

func TestCoordinator_ParentCancellation(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Response{})
	c, _ := newTestCoordinator(t, client, CoordinatorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Refresh(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestCoordinator_SingleFlight(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Response{History: testutil.History([3]string{"A", "cat1", "completed"})})
	c, _ := newTestCoordinator(t, client, CoordinatorConfig{Interval: 10 * time.Second, Timeout: 5 * time.Second})

	started := client.Block()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Refresh(context.Background())
		errCh <- err
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first refresh never reached the client")
	}
	assert.True(t, c.State().InProgress)

	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrRefreshInProgress)

	client.Unblock()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("first refresh did not finish")
	}

	assert.Equal(t, 1, client.Calls(), "skipped refresh must not call the client")
	assert.False(t, c.State().InProgress)
}

func TestCoordinator_DataIsSnapshotCopy(t *testing.T) {
	history := testutil.History([3]string{"A", "cat1", "completed"})
	client := testutil.NewFakeClient(testutil.Response{History: history})
	c, _ := newTestCoordinator(t, client, CoordinatorConfig{})

	result, err := c.Refresh(context.Background())
	require.NoError(t, err)

	history[0].Name = "mutated"
	assert.Equal(t, "A", result.Downloads[0].Name)
}

func TestCoordinator_Collaborators(t *testing.T) {
	client := testutil.NewFakeClient(
		testutil.Response{History: testutil.History([3]string{"A", "cat1", "completed"})},
		testutil.Response{History: testutil.History(
			[3]string{"A", "cat1", "completed"},
			[3]string{"B", "cat1", "completed"},
		)},
		testutil.Response{Err: errors.New("boom")},
	)
	c, _ := newTestCoordinator(t, client, CoordinatorConfig{})
	metrics := &fakeMetrics{}
	health := &fakeHealth{}
	hub := &fakeBroadcaster{}
	c.SetMetrics(metrics)
	c.SetHealthService(health)
	c.SetBroadcaster(hub)
	ctx := context.Background()

	_, err := c.Refresh(ctx)
	require.NoError(t, err)
	_, err = c.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, metrics.refreshes)
	assert.Equal(t, 1, metrics.completions)
	assert.Equal(t, 2, metrics.historySize)
	assert.Equal(t, 2, health.clears)
	assert.False(t, health.errored)
	assert.Equal(t, "refresh:completed", hub.last())

	_, err = c.Refresh(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, metrics.failures)
	assert.True(t, health.errored)
	assert.Contains(t, health.message, "refresh failed")
	assert.Equal(t, "refresh:failed", hub.last())
}
