package metareflex

import "testing"

func TestLowSCUPProducesSlowTick(t *testing.T) {
	r := New(nil)
	cmds := r.Evaluate(1, Snapshot{SCUP: 0.3, SampledEntropy: 0.1, Zone: "CALM"})
	if len(cmds) != 1 || cmds[0].Kind != "slow_tick" {
		t.Fatalf("expected single slow_tick command, got %+v", cmds)
	}
}

func TestHighEntropyProducesSuppressAndRegister(t *testing.T) {
	r := New(nil)
	cmds := r.Evaluate(1, Snapshot{SCUP: 0.9, SampledEntropy: 0.85, Zone: "CALM"})
	if len(cmds) != 2 || cmds[0].Kind != "suppress_rebloom" || cmds[1].Kind != "register" {
		t.Fatalf("expected [suppress_rebloom, register], got %+v", cmds)
	}
	if cmds[1].Sigil.Name != "ENTROPY_REGULATION" {
		t.Fatalf("expected ENTROPY_REGULATION, got %+v", cmds[1].Sigil)
	}
}

func TestZoneSurgeProducesSlowTickPruneRegister(t *testing.T) {
	r := New(nil)
	cmds := r.Evaluate(1, Snapshot{SCUP: 0.9, SampledEntropy: 0.1, Zone: "SURGE"})
	if len(cmds) != 3 {
		t.Fatalf("expected 3 commands, got %+v", cmds)
	}
	if cmds[0].Kind != "slow_tick" || cmds[1].Kind != "prune_sigils" || cmds[2].Kind != "register" {
		t.Fatalf("unexpected command order: %+v", cmds)
	}
	if cmds[2].Sigil.Name != "STABILIZE_PROTOCOL" {
		t.Fatalf("expected STABILIZE_PROTOCOL, got %+v", cmds[2].Sigil)
	}
}

func TestTwoTriggersAddsDeepReflection(t *testing.T) {
	r := New(nil)
	cmds := r.Evaluate(1, Snapshot{SCUP: 0.3, SampledEntropy: 0.85, Zone: "CALM"})
	found := false
	for _, c := range cmds {
		if c.Kind == "register" && c.Sigil.Name == "DEEP_REFLECTION" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected DEEP_REFLECTION when two triggers fire, got %+v", cmds)
	}
}

func TestTripleTriggerAddsEmergencyCooldown(t *testing.T) {
	r := New(nil)
	cmds := r.Evaluate(1, Snapshot{SCUP: 0.3, SampledEntropy: 0.85, Zone: "SURGE"})
	found := false
	for _, c := range cmds {
		if c.Kind == "emergency_cooldown" {
			found = true
			if c.Seconds != 25 {
				t.Fatalf("expected emergency_cooldown(25), got %v", c.Seconds)
			}
		}
	}
	if !found {
		t.Fatalf("expected emergency_cooldown on triple trigger, got %+v", cmds)
	}
}

func TestNoTriggersProducesNoCommands(t *testing.T) {
	r := New(nil)
	cmds := r.Evaluate(1, Snapshot{SCUP: 0.9, SampledEntropy: 0.1, Zone: "CALM"})
	if len(cmds) != 0 {
		t.Fatalf("expected no commands when nothing crosses threshold, got %+v", cmds)
	}
}

func TestLogIsBoundedAndDiagnosticTailIsFive(t *testing.T) {
	r := New(nil)
	for i := uint64(0); i < 20; i++ {
		r.Evaluate(i, Snapshot{SCUP: 0.3, SampledEntropy: 0.1, Zone: "CALM"})
	}
	if r.LogLen() != 20 {
		t.Fatalf("expected 20 log entries, got %d", r.LogLen())
	}
	tail := r.DiagnosticChunk()
	if len(tail) != 5 {
		t.Fatalf("expected diagnostic tail of 5, got %d", len(tail))
	}
	if tail[len(tail)-1].Tick != 19 {
		t.Fatalf("expected last tail entry to be the most recent tick, got %+v", tail[len(tail)-1])
	}

	for i := uint64(20); i < logCap+5; i++ {
		r.Evaluate(i, Snapshot{SCUP: 0.3, SampledEntropy: 0.1, Zone: "CALM"})
	}
	if r.LogLen() != logCap {
		t.Fatalf("expected log bounded at %d entries, got %d", logCap, r.LogLen())
	}
}
