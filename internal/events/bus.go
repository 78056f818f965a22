// Package events provides an in-process publish/subscribe bus.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nzbwatch/nzbwatch/internal/logger"
)

const (
	// TopicAll subscribes a handler to every topic.
	TopicAll = "*"

	defaultQueueSize  = 64
	defaultRecentSize = 100
)

// Event is the envelope delivered to subscribers.
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler processes one event. Handlers run on the subscriber's own goroutine.
type Handler func(Event)

type subscriber struct {
	id      uint64
	topic   string
	handler Handler
	queue   chan Event
	done    chan struct{}
}

// Options configures a Bus.
type Options struct {
	QueueSize  int
	RecentSize int
}

// Bus fans published events out to subscribers. Publish never blocks: each
// subscriber has a bounded queue and events that do not fit are dropped.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool

	queueSize int
	recent    *logger.RingBuffer[Event]
	logger    zerolog.Logger
	now       func() time.Time
}

// NewBus creates an event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return NewBusWithOptions(Options{}, logger)
}

// NewBusWithOptions creates an event bus with explicit queue sizes.
func NewBusWithOptions(opts Options, log zerolog.Logger) *Bus {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.RecentSize <= 0 {
		opts.RecentSize = defaultRecentSize
	}
	return &Bus{
		subs:      make(map[uint64]*subscriber),
		queueSize: opts.QueueSize,
		recent:    logger.NewRingBuffer[Event](opts.RecentSize),
		logger:    log.With().Str("component", "events").Logger(),
		now:       time.Now,
	}
}

// Subscribe registers handler for topic and returns a function that removes
// it. Unsubscribing waits for the handler to finish queued events.
func (b *Bus) Subscribe(topic string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	sub := &subscriber{
		id:      b.nextID,
		topic:   topic,
		handler: handler,
		queue:   make(chan Event, b.queueSize),
		done:    make(chan struct{}),
	}
	b.subs[sub.id] = sub
	go sub.run(b.logger)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			_, ok := b.subs[sub.id]
			if ok {
				delete(b.subs, sub.id)
				close(sub.queue)
			}
			b.mu.Unlock()
			<-sub.done
		})
	}
}

// Publish wraps payload in an Event and queues it for every matching
// subscriber.
func (b *Bus) Publish(topic string, payload any) {
	ev := Event{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Timestamp: b.now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Debug().Str("topic", topic).Msg("Event published after close, dropping")
		return
	}

	b.recent.Push(ev)

	for _, sub := range b.subs {
		if sub.topic != TopicAll && sub.topic != topic {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			b.logger.Warn().
				Str("topic", topic).
				Uint64("subscriber", sub.id).
				Msg("Subscriber queue full, dropping event")
		}
	}
}

// Recent returns up to limit of the newest events, oldest first. A
// non-positive limit returns everything retained.
func (b *Bus) Recent(limit int) []Event {
	if limit <= 0 {
		return b.recent.GetAll()
	}
	return b.recent.Last(limit)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close stops accepting events and waits for subscribers to drain their queues.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))
	for id, sub := range b.subs {
		close(sub.queue)
		subs = append(subs, sub)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
}

func (s *subscriber) run(log zerolog.Logger) {
	defer close(s.done)
	for ev := range s.queue {
		s.deliver(ev, log)
	}
}

func (s *subscriber) deliver(ev Event, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("topic", ev.Topic).
				Str("eventId", ev.ID).
				Msg("Event handler panicked")
		}
	}()
	s.handler(ev)
}
