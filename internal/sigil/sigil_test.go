package sigil

import (
	"testing"
	"time"
)

func TestBaseLifespanFloor(t *testing.T) {
	got := BaseLifespan(10, 100) // (10+50)*(1-0.5) = 30
	want := 30 * time.Second
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}

	floor := BaseLifespan(1, 100) // (10+5)*0.5 = 7.5, above floor of 5
	if floor < 5*time.Second {
		t.Fatalf("base lifespan must never go below 5s, got %v", floor)
	}
}

func TestRoutingTargetSelectionRule(t *testing.T) {
	target, err := RoutingTarget(HouseMemory, 10, 9)
	if err != nil || target != "consolidation_unit" {
		t.Fatalf("convolution>=8 should select specialist, got %q err=%v", target, err)
	}

	target, err = RoutingTarget(HouseMemory, 80, 2)
	if err != nil || target != "recall_system" {
		t.Fatalf("temp>=75 should select priority, got %q err=%v", target, err)
	}

	target, err = RoutingTarget(HouseMemory, 10, 2)
	if err != nil || target != "memory_banks" {
		t.Fatalf("default should select standard, got %q err=%v", target, err)
	}
}

func TestRegisterIDFormat(t *testing.T) {
	e := NewEngine(nil, nil)
	id, err := e.Register("X", 50, HouseMemory, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(id) != 7 || id[:3] != "MEM" {
		t.Fatalf("expected HOUSE_PREFIX+4-digit id, got %q", id)
	}
}

func TestPriorityQueueMonotonicallyNonIncreasing(t *testing.T) {
	e := NewEngine(nil, nil)
	e.Register("A", 10, HouseMemory, 1)
	e.Register("B", 90, HouseAnalysis, 9)
	e.Register("C", 50, HouseSynthesis, 5)

	views := e.PriorityQueue()
	for i := 1; i < len(views); i++ {
		if views[i].Priority > views[i-1].Priority {
			t.Fatalf("priority queue not monotonically non-increasing at index %d: %+v", i, views)
		}
	}
}

func TestExecuteNextSkipsDuringGrace(t *testing.T) {
	e := NewEngine(nil, nil)
	e.Register("A", 50, HouseMemory, 5)

	result := e.ExecuteNext(true)
	if result.Executed {
		t.Fatal("execute_next must be a no-op during grace")
	}
}

func TestExecuteNextSingleSigilThenEmpty(t *testing.T) {
	e := NewEngine(nil, nil)
	e.Register("A", 50, HouseMemory, 5)

	first := e.ExecuteNext(false)
	if !first.Executed {
		t.Fatal("expected single sigil to execute")
	}

	second := e.ExecuteNext(false)
	if second.Executed {
		t.Fatal("expected no sigil available on immediate re-execution")
	}
}

func TestDecayRemovesSigilAtAccumulatorOne(t *testing.T) {
	e := NewEngine(nil, nil)
	id, _ := e.Register("X", 50, HouseMemory, 5)

	// decay per call ~= 0.05*(1+0.5)/(1+0.25) = 0.06; after ~17 calls it dies.
	for i := 0; i < 20; i++ {
		e.Decay(50)
	}

	for _, s := range e.Snapshot() {
		if s.ID == id {
			t.Fatal("sigil should have decayed away by now")
		}
	}
}

func TestPruneExceptKeepsOnlyListedHouses(t *testing.T) {
	e := NewEngine(nil, nil)
	e.Register("A", 50, HouseMemory, 5)
	e.Register("B", 50, HouseMeta, 5)

	e.PruneExcept(map[House]bool{HouseMeta: true})

	snap := e.Snapshot()
	if len(snap) != 1 || snap[0].House != HouseMeta {
		t.Fatalf("expected only meta house to survive, got %+v", snap)
	}
}

func TestNamedInterventionsRouteDeterministically(t *testing.T) {
	e := NewEngine(nil, nil)
	id1, _ := e.RegisterNamed(StabilizeProtocol)
	e2 := NewEngine(nil, nil)
	id2, _ := e2.RegisterNamed(StabilizeProtocol)

	// Both should land in the same house prefix (deterministic routing).
	if id1[:3] != id2[:3] {
		t.Fatalf("named intervention should route to the same house prefix: %q vs %q", id1, id2)
	}
}
