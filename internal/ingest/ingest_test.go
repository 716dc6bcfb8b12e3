package ingest

import (
	"context"
	"testing"
	"time"
)

func TestIngestEventEnqueues(t *testing.T) {
	q := NewQueue(4, nil, nil, nil)
	if !q.IngestEvent(KindUserInput, "hello") {
		t.Fatal("expected ingest to succeed with room in the queue")
	}
	if q.Len() != 1 {
		t.Fatalf("expected queue length 1, got %d", q.Len())
	}
}

func TestIngestEventDropsWhenQueueFull(t *testing.T) {
	q := NewQueue(1, nil, nil, nil)
	if !q.IngestEvent(KindExternalSignal, "a") {
		t.Fatal("expected first event to be accepted")
	}
	if q.IngestEvent(KindExternalSignal, "b") {
		t.Fatal("expected second event to be dropped when queue is full")
	}
}

func TestBucketRateLimitsConsumption(t *testing.T) {
	b := &Bucket{capacity: 2, tokens: 2, refillPeriod: time.Hour, stop: make(chan struct{})}
	defer b.Close()

	q := NewQueue(10, b, nil, nil)
	if !q.IngestEvent(KindUserInput, "a") { // costs 2
		t.Fatal("expected first user_input event to be accepted")
	}
	if q.IngestEvent(KindUserInput, "b") {
		t.Fatal("expected second user_input event to be rate-limited")
	}
}

func TestDrainDeliversQueuedEvents(t *testing.T) {
	q := NewQueue(4, nil, nil, nil)
	q.IngestEvent(KindExternalSignal, 42)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := q.Drain(ctx)
	select {
	case evt := <-out:
		if evt.Payload != 42 {
			t.Fatalf("expected payload 42, got %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drained event")
	}
}
