// Package bus provides topic-based publish/subscribe for submission
// status transitions.
//
// Delivery is best-effort and ephemeral: a subscriber attaching after an
// event was published never receives it retroactively, and a slow
// subscriber drops events rather than blocking the publisher. Topics are
// submission ids; ordering is only meaningful within one topic.
package bus

import (
	"context"
	"sync"

	"github.com/reviewd-dev/reviewd/internal/domain/model"
)

// Default bus configuration constants.
const (
	// subscriberBuffer absorbs bursts; a full buffer drops, never blocks.
	subscriberBuffer = 16
)

// Bus fans status events out to per-topic subscribers.
type Bus interface {
	// Publish sends an event to every current subscriber of the
	// event's submission topic.
	Publish(ctx context.Context, event model.StatusEvent) error

	// Subscribe attaches to a submission's topic. The caller must
	// Close the subscription to release resources.
	Subscribe(ctx context.Context, submissionID string) (Subscription, error)
}

// Subscription is one attached viewer of a topic.
type Subscription interface {
	// Events yields published events. The channel is closed when the
	// subscription is closed.
	Events() <-chan model.StatusEvent

	// Close detaches from the topic. Safe to call more than once.
	Close()
}

// InMemoryBus implements Bus with a per-topic subscriber map.
type InMemoryBus struct {
	mu     sync.RWMutex
	topics map[string]map[int]*memorySub
	nextID int
	closed bool
}

// NewInMemoryBus creates an in-process bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{topics: make(map[string]map[int]*memorySub)}
}

type memorySub struct {
	bus       *InMemoryBus
	topic     string
	id        int
	ch        chan model.StatusEvent
	closeOnce sync.Once
}

func (s *memorySub) Events() <-chan model.StatusEvent { return s.ch }

func (s *memorySub) Close() {
	s.closeOnce.Do(func() {
		s.bus.detach(s.topic, s.id)
		close(s.ch)
	})
}

// Publish delivers the event to every subscriber of its topic.
// Non-blocking per subscriber: a full channel drops the event for that
// subscriber only.
func (b *InMemoryBus) Publish(_ context.Context, event model.StatusEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	for _, sub := range b.topics[event.SubmissionID] {
		select {
		case sub.ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe attaches a new subscriber to the submission's topic.
func (b *InMemoryBus) Subscribe(_ context.Context, submissionID string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	b.nextID++
	sub := &memorySub{
		bus:   b,
		topic: submissionID,
		id:    b.nextID,
		ch:    make(chan model.StatusEvent, subscriberBuffer),
	}
	if b.topics[submissionID] == nil {
		b.topics[submissionID] = make(map[int]*memorySub)
	}
	b.topics[submissionID][sub.id] = sub
	return sub, nil
}

func (b *InMemoryBus) detach(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
}

// SubscriberCount returns the number of subscribers on a topic, for
// stats and tests.
func (b *InMemoryBus) SubscriberCount(submissionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[submissionID])
}

// Close detaches all subscribers and rejects further use.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	topics := b.topics
	b.topics = make(map[string]map[int]*memorySub)
	b.mu.Unlock()

	for _, subs := range topics {
		for _, sub := range subs {
			sub.closeOnce.Do(func() { close(sub.ch) })
		}
	}
	return nil
}
