package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Topic broadcasts the latest value of T to every subscriber.
//
// Delivery is conflating: each subscriber holds at most one pending value, and
// a newer value replaces an unread older one. Slow consumers therefore never
// block Publish and always catch up to the most recent state.
// All methods are safe for concurrent use.
type Topic[T any] struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]*Subscription[T]
	latest      T
	hasLatest   bool
	closed      bool
}

// NewTopic creates an empty topic.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subscribers: make(map[uuid.UUID]*Subscription[T])}
}

// NewTopicWithValue creates a topic primed with an initial value.
func NewTopicWithValue[T any](v T) *Topic[T] {
	t := NewTopic[T]()
	t.latest = v
	t.hasLatest = true
	return t
}

// Publish stores v as the latest value and offers it to every subscriber.
// Publishing to a closed topic returns ErrTopicClosed.
func (t *Topic[T]) Publish(v T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTopicClosed
	}

	t.latest = v
	t.hasLatest = true
	for _, sub := range t.subscribers {
		sub.offer(v)
	}
	return nil
}

// Latest returns the most recently published value.
func (t *Topic[T]) Latest() (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest, t.hasLatest
}

// Subscribe registers a subscriber primed with the latest value, if any.
// The subscription is closed automatically when ctx is done.
// Subscribing to a closed topic returns an already-closed subscription.
func (t *Topic[T]) Subscribe(ctx context.Context) *Subscription[T] {
	sub := &Subscription[T]{
		id:    uuid.New(),
		ch:    make(chan T, 1),
		topic: t,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		sub.closeChannel()
		return sub
	}
	if t.hasLatest {
		sub.offer(t.latest)
	}
	t.subscribers[sub.id] = sub
	t.mu.Unlock()

	sub.stop = context.AfterFunc(ctx, func() { _ = sub.Close() })
	return sub
}

// Len returns the number of active subscribers.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscribers)
}

// Close closes every subscription. Further publishes fail, further
// subscriptions are returned closed. Close is idempotent.
func (t *Topic[T]) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := make([]*Subscription[T], 0, len(t.subscribers))
	for _, sub := range t.subscribers {
		subs = append(subs, sub)
	}
	clear(t.subscribers)
	t.mu.Unlock()

	for _, sub := range subs {
		sub.closeChannel()
	}
	return nil
}

func (t *Topic[T]) remove(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subscribers, id)
}

// Subscription is one consumer of a Topic.
type Subscription[T any] struct {
	id    uuid.UUID
	ch    chan T
	topic *Topic[T]
	stop  func() bool

	mu     sync.Mutex
	closed bool
}

// ID returns the subscription identifier.
func (s *Subscription[T]) ID() uuid.UUID {
	return s.id
}

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close detaches the subscription from its topic. Idempotent.
func (s *Subscription[T]) Close() error {
	if s.stop != nil {
		s.stop()
	}
	s.topic.remove(s.id)
	s.closeChannel()
	return nil
}

func (s *Subscription[T]) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// offer replaces any unread value with v.
func (s *Subscription[T]) offer(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.ch <- v:
		return
	default:
	}

	// drop the stale value; the consumer may have raced us to it
	select {
	case <-s.ch:
	default:
	}

	select {
	case s.ch <- v:
	default:
	}
}
