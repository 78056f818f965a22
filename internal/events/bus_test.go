package events

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzbwatch/nzbwatch/internal/testutil"
)

type collector struct {
	mu     sync.Mutex
	events []Event
	got    chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 100)}
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []Event {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestBus_PublishDeliversToTopicSubscribers(t *testing.T) {
	bus := NewBus(testutil.NewTestLogger(t))
	defer bus.Close()

	completions := newCollector()
	all := newCollector()
	bus.Subscribe("download_complete", completions.handle)
	bus.Subscribe(TopicAll, all.handle)

	bus.Publish("download_complete", map[string]string{"name": "A"})
	bus.Publish("other", "x")

	got := completions.wait(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "download_complete", got[0].Topic)
	assert.Equal(t, map[string]string{"name": "A"}, got[0].Payload)
	_, err := uuid.Parse(got[0].ID)
	assert.NoError(t, err)
	assert.False(t, got[0].Timestamp.IsZero())

	assert.Len(t, all.wait(t, 2), 2)
}

func TestBus_PreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus(testutil.NewTestLogger(t))
	defer bus.Close()

	c := newCollector()
	bus.Subscribe("t", c.handle)
	for i := 0; i < 10; i++ {
		bus.Publish("t", i)
	}

	got := c.wait(t, 10)
	for i, ev := range got {
		assert.Equal(t, i, ev.Payload)
	}
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBusWithOptions(Options{QueueSize: 1}, testutil.NewTestLogger(t))

	release := make(chan struct{})
	bus.Subscribe("t", func(Event) { <-release })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			bus.Publish("t", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	close(release)
	bus.Close()
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(testutil.NewTestLogger(t))
	defer bus.Close()

	c := newCollector()
	unsubscribe := bus.Subscribe("t", c.handle)
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Publish("t", 1)
	c.wait(t, 1)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, bus.SubscriberCount())

	bus.Publish("t", 2)
	select {
	case <-c.got:
		t.Fatal("received event after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_CloseDrainsQueues(t *testing.T) {
	bus := NewBus(testutil.NewTestLogger(t))

	var mu sync.Mutex
	count := 0
	bus.Subscribe("t", func(Event) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		count++
		mu.Unlock()
	})
	for i := 0; i < 5; i++ {
		bus.Publish("t", i)
	}

	bus.Close()
	mu.Lock()
	assert.Equal(t, 5, count)
	mu.Unlock()

	// publishing and subscribing after close are no-ops
	bus.Publish("t", 6)
	bus.Subscribe("t", func(Event) {})()
	bus.Close()
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewBus(testutil.NewTestLogger(t))
	defer bus.Close()

	c := newCollector()
	first := true
	bus.Subscribe("t", func(ev Event) {
		if first {
			first = false
			panic("boom")
		}
		c.handle(ev)
	})

	bus.Publish("t", 1)
	bus.Publish("t", 2)

	got := c.wait(t, 1)
	assert.Equal(t, 2, got[0].Payload)
}

func TestBus_Recent(t *testing.T) {
	bus := NewBusWithOptions(Options{RecentSize: 3}, testutil.NewTestLogger(t))
	defer bus.Close()

	for i := 0; i < 5; i++ {
		bus.Publish("t", i)
	}

	recent := bus.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, 2, recent[0].Payload)
	assert.Equal(t, 4, recent[2].Payload)

	last := bus.Recent(1)
	require.Len(t, last, 1)
	assert.Equal(t, 4, last[0].Payload)
}
