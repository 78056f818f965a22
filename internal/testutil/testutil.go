// Package testutil provides testing utilities shared across packages.
package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nzbwatch/nzbwatch/internal/downloader/types"
)

// NewTestLogger creates a test logger that outputs to t.Log.
func NewTestLogger(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}

// Response is one scripted answer of a FakeClient.
type Response struct {
	Status  *types.StatusSnapshot
	History []types.HistoryItem
	Err     error
}

// FakeClient is a scripted StatusClient. Each refresh consumes one Response:
// status and history keep separate cursors so they stay aligned when fetched
// concurrently.
type FakeClient struct {
	mu         sync.Mutex
	responses  []Response
	statusPos  int
	historyPos int
	block      chan struct{}
	started    chan struct{}
	calls      int
	testErr    error
}

var _ types.StatusClient = (*FakeClient)(nil)

// NewFakeClient creates a fake client answering with the given responses in order.
func NewFakeClient(responses ...Response) *FakeClient {
	return &FakeClient{responses: responses}
}

// Push appends responses to the script.
func (f *FakeClient) Push(responses ...Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, responses...)
}

// Block makes every fetch wait until Unblock is called or the context ends.
// The returned channel receives a value each time a fetch starts waiting.
func (f *FakeClient) Block() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = make(chan struct{})
	f.started = make(chan struct{}, 16)
	return f.started
}

// Unblock releases all waiting and future fetches.
func (f *FakeClient) Unblock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.block != nil {
		close(f.block)
		f.block = nil
	}
}

// SetTestError sets the error returned by Test.
func (f *FakeClient) SetTestError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.testErr = err
}

// Calls returns how many FetchHistory calls have been made.
func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeClient) Type() types.ClientType {
	return types.ClientTypeMock
}

func (f *FakeClient) Test(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.testErr
}

// FetchStatus answers from the status cursor and advances it.
func (f *FakeClient) FetchStatus(ctx context.Context) (*types.StatusSnapshot, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	resp := f.next(&f.statusPos)
	if resp.Err != nil {
		return nil, resp.Err
	}
	if resp.Status == nil {
		return &types.StatusSnapshot{}, nil
	}
	return resp.Status, nil
}

// FetchHistory answers from the history cursor and advances it.
func (f *FakeClient) FetchHistory(ctx context.Context) ([]types.HistoryItem, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	resp := f.next(&f.historyPos)
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.History, nil
}

// next returns the response at *pos and advances it. The last response
// repeats once the script runs out.
func (f *FakeClient) next(pos *int) Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) == 0 {
		return Response{}
	}
	i := *pos
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	} else {
		*pos++
	}
	return f.responses[i]
}

func (f *FakeClient) wait(ctx context.Context) error {
	f.mu.Lock()
	block := f.block
	started := f.started
	f.mu.Unlock()

	if block == nil {
		return nil
	}
	select {
	case started <- struct{}{}:
	default:
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return types.NewClientError("fake", ctx.Err())
	}
}

// PublishedEvent is one call recorded by RecordingSink.
type PublishedEvent struct {
	Topic   string
	Payload any
}

// RecordingSink records every published event.
type RecordingSink struct {
	mu     sync.Mutex
	events []PublishedEvent
}

// Publish records the event.
func (s *RecordingSink) Publish(topic string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, PublishedEvent{Topic: topic, Payload: payload})
}

// Events returns a copy of the recorded events.
func (s *RecordingSink) Events() []PublishedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PublishedEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Reset clears the recorded events.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// History builds history items from name/category/status triples.
func History(triples ...[3]string) []types.HistoryItem {
	items := make([]types.HistoryItem, 0, len(triples))
	for _, tr := range triples {
		items = append(items, types.HistoryItem{Name: tr[0], Category: tr[1], Status: tr[2]})
	}
	return items
}
