// Package event is the relay's process-local pub/sub for session lifecycle
// notifications: it keeps watermill's gochannel pubsub wired in as the
// underlying transport while preserving typed, direct-call subscriber
// semantics for callers (the journal broadcaster's own fan-out is a
// separate, purpose-built bounded SPMC and does not use this bus — see
// the design notes for why).
package event

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Type identifies a session lifecycle notification.
type Type string

const (
	SessionCreated Type = "session.created"
	SessionBound   Type = "session.bound"
	SessionError   Type = "session.error"
	SessionDeleted Type = "session.deleted"
)

// Event is one lifecycle notification.
type Event struct {
	Type      Type
	SessionID string
	Data      any
}

// Subscriber receives events.
type Subscriber func(Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus fans lifecycle events out to subscribers. The zero value is not
// usable; construct with New.
type Bus struct {
	mu     sync.RWMutex
	pubsub *gochannel.GoChannel

	subscribers map[Type][]subscriberEntry
	global      []subscriberEntry
	nextID      uint64
	closed      bool
}

// New constructs a Bus backed by a watermill gochannel pubsub.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100, Persistent: false},
			watermill.NopLogger{},
		),
		subscribers: make(map[Type][]subscriberEntry),
	}
}

// Subscribe registers fn for one event type and returns an unsubscribe func.
func (b *Bus) Subscribe(t Type, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := atomic.AddUint64(&b.nextID, 1)
	b.subscribers[t] = append(b.subscribers[t], subscriberEntry{id: id, fn: fn})
	return func() { b.unsubscribe(t, id) }
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := atomic.AddUint64(&b.nextID, 1)
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})
	return func() { b.unsubscribeGlobal(id) }
}

func (b *Bus) unsubscribe(t Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[t]
	for i, e := range subs {
		if e.id == id {
			b.subscribers[t] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.global {
		if e.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			return
		}
	}
}

// Publish notifies every matching subscriber asynchronously, one goroutine
// per subscriber so a slow listener never blocks the caller or its peers.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]Subscriber, 0, len(b.subscribers[ev.Type])+len(b.global))
	for _, e := range b.subscribers[ev.Type] {
		subs = append(subs, e.fn)
	}
	for _, e := range b.global {
		subs = append(subs, e.fn)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		go sub(ev)
	}
}

// Close shuts the bus down; Publish and Subscribe become no-ops afterward.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[Type][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()
	return b.pubsub.Close()
}

// PubSub exposes the underlying watermill GoChannel for callers that want
// to route lifecycle events onto a real message-bus topic (e.g. a future
// multi-instance relay deployment bridging this to a durable pubsub).
func (b *Bus) PubSub() *gochannel.GoChannel { return b.pubsub }
