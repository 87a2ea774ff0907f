package thinking

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Fragment event types carried on the bus and on the diagnostic SSE stream.
const (
	EventThinking = "thinking"
	EventDone     = "done"
	EventDrop     = "drop"
)

// DefaultQueueSize is the per-subscriber delivery queue capacity.
const DefaultQueueSize = 64

// Fragment is one piece of extracted thinking, or a lifecycle marker.
type Fragment struct {
	Type      string    `json:"type"`
	Content   string    `json:"content,omitempty"`
	Model     string    `json:"model,omitempty"`
	Count     int64     `json:"count,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus broadcasts thinking fragments from active chat requests to any number
// of diagnostic subscribers. Delivery is best-effort: a slow subscriber loses
// its oldest fragments rather than slowing a publisher down.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]*Subscriber
	closed bool
}

// Subscriber is one attached diagnostic client. Fragments arrive on C in
// publish order; Dropped reports and resets the count of fragments lost to
// queue overflow since the last call.
type Subscriber struct {
	id      string
	ch      chan Fragment
	dropped atomic.Int64
	bus     *Bus
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*Subscriber)}
}

// Subscribe attaches a new subscriber with the given queue capacity. Values
// below DefaultQueueSize are raised to it.
func (b *Bus) Subscribe(queueSize int) *Subscriber {
	if queueSize < DefaultQueueSize {
		queueSize = DefaultQueueSize
	}
	sub := &Subscriber{
		id:  uuid.NewString(),
		ch:  make(chan Fragment, queueSize),
		bus: b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish broadcasts a thinking fragment for the given model.
func (b *Bus) Publish(model, content string) {
	b.broadcast(Fragment{
		Type:      EventThinking,
		Content:   content,
		Model:     model,
		Timestamp: time.Now().UTC(),
	})
}

// PublishDone signals that one publisher finished its stream.
func (b *Bus) PublishDone(model string) {
	b.broadcast(Fragment{
		Type:      EventDone,
		Model:     model,
		Timestamp: time.Now().UTC(),
	})
}

func (b *Bus) broadcast(frag Fragment) {
	// Snapshot under the lock, deliver outside it: queue sends must not
	// serialize publishers behind each other.
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	targets := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.offer(frag)
	}
}

// SubscriberCount returns the number of attached subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches all subscribers and makes further publishes no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.subs = make(map[string]*Subscriber)
	logrus.Debug("thinking bus closed")
}

// offer enqueues without blocking, evicting the oldest fragment on overflow.
func (s *Subscriber) offer(frag Fragment) {
	select {
	case s.ch <- frag:
		return
	default:
	}
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- frag:
	default:
		s.dropped.Add(1)
	}
}

// C is the subscriber's delivery channel.
func (s *Subscriber) C() <-chan Fragment {
	return s.ch
}

// ID identifies the subscriber for logging.
func (s *Subscriber) ID() string {
	return s.id
}

// Dropped returns the number of fragments lost since the previous call and
// resets the counter.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Swap(0)
}

// Close detaches the subscriber from the bus. The channel is left open so a
// publisher holding an older snapshot never sends on a closed channel.
func (s *Subscriber) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
}
