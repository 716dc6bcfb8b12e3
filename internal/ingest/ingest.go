// Package ingest implements ingest_event(kind, payload): a bounded,
// backpressured queue for external signals and user input feeding the
// tick loop.
//
// Grounded on the BPF ring-buffer-to-worker-channel pipeline's backpressure
// idiom (bounded channel, drop-on-full with a reason-labeled counter) —
// the kernel/BPF specifics are gone; the queue is fed by direct
// IngestEvent calls and by the OS-signal sampler instead of a ring buffer.
// Rate limiting is adapted from the token-bucket rate limiter (full-refill
// bucket, atomic consume), repurposed from "cost per containment action"
// to "cost per ingested event kind" to keep a burst of external signals
// from starving the tick loop.
package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jso122-2/dawncore/internal/observability"
)

// Kind enumerates the two event sources spec.md names for ingest_event.
type Kind string

const (
	KindUserInput      Kind = "user_input"
	KindExternalSignal Kind = "external_signal"
)

// Event is one queued ingestion record.
type Event struct {
	Kind      Kind
	Payload   interface{}
	Timestamp time.Time
}

// costModel assigns a token cost per ingested kind; external signals are
// cheaper than user input since they're expected to arrive at a steady
// background rate from internal/signals.
var costModel = map[Kind]int{
	KindUserInput:      2,
	KindExternalSignal: 1,
}

// Bucket is a thread-safe token bucket: full capacity, full-refill every
// refillPeriod, atomic consume.
type Bucket struct {
	mu           sync.Mutex
	capacity     int
	tokens       int
	refillPeriod time.Duration
	consumed     atomic.Uint64
	stop         chan struct{}
}

// NewBucket starts the refill goroutine; call Close to stop it.
func NewBucket(capacity int, refillPeriod time.Duration) *Bucket {
	if capacity <= 0 {
		capacity = 1000
	}
	if refillPeriod <= 0 {
		refillPeriod = time.Minute
	}
	b := &Bucket{capacity: capacity, tokens: capacity, refillPeriod: refillPeriod, stop: make(chan struct{})}
	go b.refillLoop()
	return b
}

func (b *Bucket) refillLoop() {
	ticker := time.NewTicker(b.refillPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			b.tokens = b.capacity
			b.mu.Unlock()
		case <-b.stop:
			return
		}
	}
}

// Consume attempts to spend cost tokens, returning false if insufficient.
func (b *Bucket) Consume(cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens >= cost {
		b.tokens -= cost
		b.consumed.Add(uint64(cost))
		return true
	}
	return false
}

// Remaining reports the current token level.
func (b *Bucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Close stops the refill goroutine. Safe to call once.
func (b *Bucket) Close() { close(b.stop) }

// Queue is the bounded ingestion queue. A full queue drops the event and
// increments a reason-labeled metric rather than blocking the caller.
type Queue struct {
	ch      chan Event
	bucket  *Bucket
	metrics *observability.Metrics
	log     *zap.Logger
}

// NewQueue constructs a Queue with the given capacity and rate-limit
// bucket. metrics/log may be nil in tests.
func NewQueue(capacity int, bucket *Bucket, metrics *observability.Metrics, log *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = 10_000
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{ch: make(chan Event, capacity), bucket: bucket, metrics: metrics, log: log}
}

// IngestEvent enqueues kind/payload if both the rate limiter and the
// queue have room; returns false if either one rejects the event, with
// the drop reason recorded on the metrics' drop counter.
func (q *Queue) IngestEvent(kind Kind, payload interface{}) bool {
	if q.bucket != nil {
		cost := costModel[kind]
		if cost == 0 {
			cost = 1
		}
		if !q.bucket.Consume(cost) {
			q.recordDrop("rate_limited")
			return false
		}
	}

	evt := Event{Kind: kind, Payload: payload, Timestamp: time.Now().UTC()}
	select {
	case q.ch <- evt:
		if q.metrics != nil {
			q.metrics.IngestEventsTotal.WithLabelValues(string(kind)).Inc()
			q.metrics.IngestQueueDepth.Set(float64(len(q.ch)))
		}
		return true
	default:
		q.recordDrop("queue_full")
		return false
	}
}

func (q *Queue) recordDrop(reason string) {
	if q.metrics != nil {
		q.metrics.IngestDroppedTotal.WithLabelValues(reason).Inc()
	}
	q.log.Debug("ingest event dropped", zap.String("reason", reason))
}

// Drain returns the channel of queued events for a consumer goroutine to
// range over. Closed when ctx is cancelled and no more sends are pending.
func (q *Queue) Drain(ctx context.Context) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-q.ch:
				if !ok {
					return
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len reports the number of events currently queued.
func (q *Queue) Len() int {
	return len(q.ch)
}
