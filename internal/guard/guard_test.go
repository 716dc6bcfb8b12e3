package guard

import (
	"math"
	"testing"
	"time"
)

func TestCheckBoundedNaN(t *testing.T) {
	v := CheckBounded("pulse", "heat", math.NaN(), 0, 100)
	if v == nil {
		t.Fatal("expected violation for NaN value")
	}
	if v.Kind != Invariant {
		t.Errorf("expected Invariant kind, got %s", v.Kind)
	}
}

func TestCheckBoundedOutOfRange(t *testing.T) {
	v := CheckBounded("pulse", "heat", 150, 0, 100)
	if v == nil {
		t.Fatal("expected violation for out-of-range value")
	}
}

func TestCheckBoundedInRange(t *testing.T) {
	v := CheckBounded("pulse", "heat", 55, 0, 100)
	if v != nil {
		t.Fatalf("expected no violation, got %v", v)
	}
}

func TestCheckMonotonic(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	if v := CheckMonotonic("sched", now, past); v != nil {
		t.Errorf("forward time should not violate: %v", v)
	}
	if v := CheckMonotonic("sched", past, now); v == nil {
		t.Error("backward time should violate")
	}
}

func TestEscalatorThreeStrikes(t *testing.T) {
	e := NewEscalator()
	if e.Observe("memory", Transient) {
		t.Fatal("should not escalate on first transient")
	}
	if e.Observe("memory", Transient) {
		t.Fatal("should not escalate on second transient")
	}
	if !e.Observe("memory", Transient) {
		t.Fatal("should escalate on third consecutive transient")
	}
	// streak resets after escalation
	if e.Observe("memory", Transient) {
		t.Fatal("streak should have reset after escalation")
	}
}

func TestEscalatorResetsOnOtherKind(t *testing.T) {
	e := NewEscalator()
	e.Observe("sigil", Transient)
	e.Observe("sigil", Transient)
	if e.Observe("sigil", Validation) {
		t.Fatal("non-transient observation must not escalate")
	}
	if e.Observe("sigil", Transient) {
		t.Fatal("streak should have reset after non-transient observation")
	}
}
