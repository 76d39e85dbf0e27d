// Package broadcaster implements the per-session journal fan-out: a
// subscriber supplies a lastSeq cursor and receives missed history
// followed by a gap-free handoff to the live tail.
//
// Cutover invariant: a subscriber is registered for live delivery, and
// its de-dup floor set to the LastSeq snapshot taken immediately after,
// *before* the replay read runs. Live events that arrive during replay
// land in the subscriber's own bounded queue but are dropped by the
// floor check in PublishEntry whenever their seq falls within what
// replay will also read from the DB; anything past the floor is kept
// and delivered in arrival order once replay finishes. This guarantees
// no event is lost or duplicated across the handoff.
package broadcaster

import (
	"sync"

	"github.com/forgerelay/relay/internal/metrics"
	"github.com/forgerelay/relay/pkg/types"
)

// JournalReader is the subset of the journal the broadcaster needs for
// replay.
type JournalReader interface {
	ReadAfter(sessionID string, afterSeq int64, limit int) ([]types.JournalEntry, error)
	LastSeq(sessionID string) (int64, error)
}

// Frame is one message delivered to a subscriber's Stream. Exactly one of
// the typed fields is meaningful, selected by Kind.
type Frame struct {
	Kind      string // connected | replay_start | entry | replay_end | native_tool_request | native_tool_cancel | sandbox_status | error
	Entry     *types.JournalEntry
	Connected *ConnectedFrame
	Replay    *ReplayRangeFrame
	Status    *types.SandboxStatus
	Payload   any // live-only frames (native_tool_request/cancel) carry their payload here, never journaled
	ErrorText string
}

// ConnectedFrame is the first frame sent to every subscriber.
type ConnectedFrame struct {
	SessionID      string
	CurrentLastSeq int64
}

// ReplayRangeFrame brackets the replay_start / replay_end markers.
type ReplayRangeFrame struct {
	From int64
	To   int64
}

const defaultQueueSize = 500

// Broadcaster is the per-session fan-out actor. One instance per session,
// owned by the session's channel supervisor for its lifetime.
type Broadcaster struct {
	sessionID string
	journal   JournalReader
	queueSize int

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

// New constructs a Broadcaster for one session. queueSize of 0 uses the
// default (500), within the spec's suggested 100-1000 range.
func New(sessionID string, journal JournalReader, queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Broadcaster{
		sessionID:   sessionID,
		journal:     journal,
		queueSize:   queueSize,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// subscriber is a bounded, oldest-drop mailbox for one connected client.
type subscriber struct {
	mu          sync.Mutex
	ch          chan Frame
	closed      bool
	filterFloor int64
}

func newSubscriber(size int) *subscriber {
	return &subscriber{ch: make(chan Frame, size)}
}

// deliver enqueues a frame, dropping the oldest queued frame (never the
// ConnectedFrame/replay markers, which are sent synchronously before the
// subscriber is registered for live delivery) if the queue is full.
func (s *subscriber) deliver(f Frame) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.ch <- f:
			return dropped
		default:
			select {
			case <-s.ch:
				dropped = true
			default:
			}
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Subscription is returned to a caller of Subscribe. Frames arrive on
// Stream() until Unsubscribe is called or the broadcaster emits a
// terminal error/lag frame (after which the channel is closed).
type Subscription struct {
	sub    *subscriber
	parent *Broadcaster
}

// Stream returns the channel frames arrive on. The channel closes when
// Unsubscribe is called or a lag error terminates the subscription.
func (s *Subscription) Stream() <-chan Frame { return s.sub.ch }

// Unsubscribe detaches this subscriber without affecting the broadcaster
// or the underlying channel supervisor.
func (s *Subscription) Unsubscribe() {
	s.parent.removeSubscriber(s.sub)
}

// Subscribe implements the replay-then-live handoff protocol described in
// the package doc.
func (b *Broadcaster) Subscribe(lastSeq int64) (*Subscription, error) {
	sub := newSubscriber(b.queueSize)

	// Register the live-tail cursor BEFORE reading replay, so any event
	// appended concurrently with the replay read is captured rather than
	// lost between the two steps.
	b.addSubscriber(sub)

	currentLastSeq, err := b.journal.LastSeq(b.sessionID)
	if err != nil {
		b.removeSubscriber(sub)
		return nil, err
	}

	// Set the de-dup floor immediately after the LastSeq snapshot and
	// before the replay read runs. A live PublishEntry racing the replay
	// read itself (e.g. appended right after LastSeq() returns but before
	// ReadAfter() completes) must already be filtered by this floor, or
	// it is delivered twice: once live (floor still unset) and once by
	// replay (which will read it from the DB since it committed before
	// ReadAfter ran).
	sub.mu.Lock()
	sub.filterFloor = currentLastSeq
	sub.mu.Unlock()

	sub.deliver(Frame{Kind: "connected", Connected: &ConnectedFrame{SessionID: b.sessionID, CurrentLastSeq: currentLastSeq}})

	if lastSeq < currentLastSeq {
		sub.deliver(Frame{Kind: "replay_start", Replay: &ReplayRangeFrame{From: lastSeq + 1, To: currentLastSeq}})

		entries, err := b.journal.ReadAfter(b.sessionID, lastSeq, 0)
		if err != nil {
			b.removeSubscriber(sub)
			return nil, err
		}
		for i := range entries {
			e := entries[i]
			if e.Seq > currentLastSeq {
				break
			}
			sub.deliver(Frame{Kind: "entry", Entry: &e})
		}
		sub.deliver(Frame{Kind: "replay_end"})
	}

	// Any live frames that arrived on sub's queue during the replay read
	// are already sitting in sub.ch in arrival order, ahead of further
	// live frames: channel FIFO ordering preserves the handoff invariant
	// without any separate buffer-then-flush step. filterFloor (set above,
	// before the replay read began) has already dropped anything replay
	// also covers, so nothing further is needed here.
	return &Subscription{sub: sub, parent: b}, nil
}

func (b *Broadcaster) addSubscriber(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[s] = struct{}{}
}

func (b *Broadcaster) removeSubscriber(s *subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	s.close()
}

// PublishEntry delivers a freshly journaled entry to every live
// subscriber, applying each subscriber's de-dup floor so replay and live
// delivery never double-deliver the boundary entry.
func (b *Broadcaster) PublishEntry(entry types.JournalEntry) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		floor := s.filterFloor
		s.mu.Unlock()
		if entry.Seq <= floor {
			continue
		}
		if s.deliver(Frame{Kind: "entry", Entry: &entry}) {
			// Oldest-drop triggered: this subscriber is lagging past its
			// bounded buffer. Terminate it with a synthetic lag error;
			// the client must reconnect with its last known seq.
			s.deliver(Frame{Kind: "error", ErrorText: "lag"})
			b.removeSubscriber(s)
			metrics.BroadcasterDroppedEventsTotal.WithLabelValues(b.sessionID).Inc()
		}
	}
}

// PublishSandboxStatus delivers a non-journaled sandbox_status frame.
func (b *Broadcaster) PublishSandboxStatus(status types.SandboxStatus) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(Frame{Kind: "sandbox_status", Status: &status})
	}
}

// PublishLive delivers a non-journaled live-only frame (native tool
// request/cancel) carrying an arbitrary payload.
func (b *Broadcaster) PublishLive(kind string, payload any) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(Frame{Kind: kind, Payload: payload})
	}
}
