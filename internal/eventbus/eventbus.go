// Package eventbus is a typed, bounded, non-blocking publish-subscribe bus.
//
// Grounded on the gossip quorum evaluator's ChannelPartitionSink: a
// subscriber is a channel; publishing is a non-blocking select with a
// drop counter on the default branch. There is no network transport here —
// only the backpressure idiom survives, generalized from one event type
// (PartitionEvent) to the six typed events every subsystem emits.
//
// Slow subscribers are dropped, never block the tick, per the "Event
// emitters" design note: a typed publish-subscribe with bounded
// per-subscriber queues.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// Kind identifies one of the six event types subsystems publish.
type Kind string

const (
	KindPulseDelta         Kind = "pulse_delta"
	KindZoneTransition     Kind = "zone_transition"
	KindChaosAlert         Kind = "chaos_alert"
	KindSigilExecuted      Kind = "sigil_executed"
	KindInterventionIssued Kind = "intervention_issued"
	KindChunkStored        Kind = "chunk_stored"
)

// Event wraps a typed payload with its originating tick number, per §6's
// "carry the originating tick number" requirement.
type Event struct {
	Kind       Kind
	TickNumber uint64
	Payload    interface{}
}

// Subscription is a bounded channel a subscriber drains. Dropped counts
// events discarded because the channel was full when published.
type Subscription struct {
	C       <-chan Event
	Dropped *uint64
}

// subscriber is the internal write-side of a Subscription.
type subscriber struct {
	ch      chan Event
	dropped uint64
}

// Bus is a typed, bounded, non-blocking pub/sub hub. The zero value is not
// usable; construct with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]*subscriber
	queueDepth  int
}

// New returns a Bus whose per-subscriber channels have the given capacity.
// A capacity of 0 is coerced to 1 so publishing is always non-blocking
// against an empty queue.
func New(queueDepth int) *Bus {
	if queueDepth < 1 {
		queueDepth = 1
	}
	return &Bus{
		subscribers: make(map[Kind][]*subscriber),
		queueDepth:  queueDepth,
	}
}

// Subscribe registers a new bounded subscriber for kind and returns a
// Subscription the caller drains with a range over C.
func (b *Bus) Subscribe(kind Kind) Subscription {
	s := &subscriber{ch: make(chan Event, b.queueDepth)}

	b.mu.Lock()
	b.subscribers[kind] = append(b.subscribers[kind], s)
	b.mu.Unlock()

	return Subscription{C: s.ch, Dropped: &s.dropped}
}

// Publish delivers evt to every subscriber of evt.Kind. Delivery is
// non-blocking: a subscriber whose channel is full has the event dropped
// and its Dropped counter incremented rather than stalling the publisher.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	subs := b.subscribers[evt.Kind]
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- evt:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
	}
}

// SubscriberCount returns the number of live subscribers for kind.
// Primarily for tests and diagnostics.
func (b *Bus) SubscriberCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[kind])
}
