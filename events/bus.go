package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/rs/zerolog"
)

// Event is what a handler receives. Events are fire-and-forget with no
// persistence or replay.
type Event struct {
	Kind      Kind
	Payload   Payload
	EmittedAt time.Time
}

type Handler func(Event)

// Handle adapts a handler for one payload type. Events carrying any other
// payload are ignored.
func Handle[P Payload](fn func(P, Event)) Handler {
	return func(e Event) {
		if p, ok := e.Payload.(P); ok {
			fn(p, e)
		}
	}
}

// Subscription is the token returned by Subscribe, used to unsubscribe.
type Subscription struct {
	id   string
	kind Kind
}

func (s Subscription) Kind() Kind { return s.kind }

type subscriber struct {
	id      string
	handler Handler
	once    bool
}

// Bus is a synchronous in-process publish/subscribe registry. Handlers run
// on the publisher's goroutine in subscription order.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]subscriber
	log         zerolog.Logger
	metrics     *metrics.Metrics
	nowFunc     func() time.Time
}

type BusOption func(*Bus)

func WithLogger(log zerolog.Logger) BusOption {
	return func(b *Bus) {
		b.log = log
	}
}

func WithMetrics(m *metrics.Metrics) BusOption {
	return func(b *Bus) {
		b.metrics = m
	}
}

func WithNowFunc(now func() time.Time) BusOption {
	return func(b *Bus) {
		b.nowFunc = now
	}
}

func NewBus(options ...BusOption) *Bus {
	b := &Bus{
		subscribers: make(map[Kind][]subscriber),
		log:         zerolog.Nop(),
		nowFunc:     time.Now,
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

func (b *Bus) Subscribe(kind Kind, handler Handler) Subscription {
	return b.add(kind, handler, false)
}

// SubscribeOnce registers a handler that is removed before its first run.
func (b *Bus) SubscribeOnce(kind Kind, handler Handler) Subscription {
	return b.add(kind, handler, true)
}

func (b *Bus) add(kind Kind, handler Handler, once bool) Subscription {
	sub := subscriber{id: uuid.New().String(), handler: handler, once: once}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[kind] = append(b.subscribers[kind], sub)
	return Subscription{id: sub.id, kind: kind}
}

// Unsubscribe is a no-op for unknown or already removed subscriptions.
func (b *Bus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(s.kind, s.id)
}

func (b *Bus) removeLocked(kind Kind, id string) bool {
	subs := b.subscribers[kind]
	for i, sub := range subs {
		if sub.id != id {
			continue
		}
		// Build a fresh slice so snapshots taken by in-progress publishes stay intact.
		remaining := make([]subscriber, 0, len(subs)-1)
		remaining = append(remaining, subs[:i]...)
		remaining = append(remaining, subs[i+1:]...)
		if len(remaining) == 0 {
			delete(b.subscribers, kind)
		} else {
			b.subscribers[kind] = remaining
		}
		return true
	}
	return false
}

// Publish delivers payload to every subscriber of its kind. A panicking
// handler is recovered and logged; the rest still run.
func (b *Bus) Publish(payload Payload) {
	if payload == nil {
		return
	}
	event := Event{Kind: payload.Kind(), Payload: payload, EmittedAt: b.nowFunc()}

	b.mu.RLock()
	snapshot := append([]subscriber(nil), b.subscribers[event.Kind]...)
	b.mu.RUnlock()

	b.metrics.EventPublished(event.Kind.String())
	for _, sub := range snapshot {
		if sub.once {
			b.mu.Lock()
			claimed := b.removeLocked(event.Kind, sub.id)
			b.mu.Unlock()
			if !claimed {
				// Another publish already ran this once-handler.
				continue
			}
		}
		b.dispatch(sub, event)
	}
}

func (b *Bus) dispatch(sub subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.HandlerPanicked()
			b.log.Error().
				Str("kind", event.Kind.String()).
				Str("subscription", sub.id).
				Interface("panic", r).
				Msg("[events Publish] handler panicked")
		}
	}()
	sub.handler(event)
}

// Count returns the number of live subscriptions for kind.
func (b *Bus) Count(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[kind])
}
