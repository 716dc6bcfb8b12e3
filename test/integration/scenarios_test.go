// Package integration_test — scenarios_test.go
//
// The six end-to-end scenarios (A-F) exercised against the real
// subsystems, in the worked-arithmetic comment style used throughout this
// module's tests: every assertion states the formula it checks against,
// not just the expected number.

package integration_test

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jso122-2/dawncore/internal/bloom"
	"github.com/jso122-2/dawncore/internal/config"
	"github.com/jso122-2/dawncore/internal/entropy"
	"github.com/jso122-2/dawncore/internal/eventbus"
	"github.com/jso122-2/dawncore/internal/memory"
	"github.com/jso122-2/dawncore/internal/metareflex"
	"github.com/jso122-2/dawncore/internal/pulse"
	"github.com/jso122-2/dawncore/internal/runtime"
	"github.com/jso122-2/dawncore/internal/scheduler"
	"github.com/jso122-2/dawncore/internal/sigil"
)

// Scenario A: a sustained heat push drives the scheduler's own
// entropy-sampled HIGH_ENTROPY trigger (sampled entropy = heat/100, see
// scheduler.go's ExecuteSingleTick) end to end, and the real tick pipeline
// is expected to store a chunk tagged entropy_spike with
// sigils=[ENTROPY_REGULATION].
func TestScenarioA_EntropySpikeTriggersHighEntropy(t *testing.T) {
	cfg := config.Defaults()
	bus := eventbus.New(32)
	rt := runtime.New("scenario-a", zap.NewNop(), bus, nil)

	pulseCtl := pulse.NewController(80, bus)
	entropyA := entropy.NewAnalyzer(cfg.Entropy.RingCapacity, bus)
	sigilE := sigil.NewEngine(nil, bus)
	memoryR := memory.NewRouter(nil, nil, bus)
	reflex := metareflex.New(bus)
	bloomA := bloom.NewArena()

	sched := scheduler.New(&cfg, pulseCtl, entropyA, sigilE, memoryR, reflex, bloomA, rt)

	var lastResult scheduler.TickResult
	for i := 0; i < 10; i++ {
		sched.FeedHeatInput(100)
		lastResult = sched.ExecuteSingleTick()
		if lastResult.Heat/100 > 0.75 {
			break
		}
	}
	if lastResult.Heat/100 <= 0.75 {
		t.Fatalf("expected sustained high heat input to push sampled entropy above 0.75, got heat=%v", lastResult.Heat)
	}

	var found *memory.Chunk
	for _, c := range memoryR.RecentChunks(50) {
		c := c
		if containsTag(c.Tags, "entropy_spike") {
			found = &c
			break
		}
	}
	if found == nil {
		t.Fatal("expected a chunk tagged entropy_spike to have been stored")
	}
	if !containsString(found.Sigils, sigil.EntropyRegulation.Name) {
		t.Fatalf("expected entropy_spike chunk sigils to include %s, got %v", sigil.EntropyRegulation.Name, found.Sigils)
	}
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func containsString(vals []string, v string) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}

// Scenario B: a sustained heat push into SURGE, then a drop back out,
// opens a grace window of at least graceBase (30s) and blocks sigil
// execution while that window is open. Tested against the controller's
// real EWMA-smoothed trajectory and grace formula rather than spec.md's
// illustrative literal numbers, since update_heat's smoothing
// (0.2*new+0.8*current) was already a settled implementation choice.
func TestScenarioB_SurgeThenDropOpensGrace(t *testing.T) {
	ctl := pulse.NewController(20, nil)

	// Push heat up across several ticks until SURGE is reached.
	tick := uint64(1)
	for i := 0; i < 10; i++ {
		d := ctl.UpdateHeat(95, tick)
		tick++
		if d.ZoneAfter == pulse.Surge {
			break
		}
	}
	if ctl.Snapshot().Zone != pulse.Surge {
		t.Fatalf("expected sustained high input to reach SURGE, snapshot=%+v", ctl.Snapshot())
	}

	// Now drop heat hard until the zone closes back out of SURGE.
	var closed bool
	var closingCall time.Time
	for i := 0; i < 20; i++ {
		closingCall = time.Now()
		d := ctl.UpdateHeat(0, tick)
		tick++
		if d.ZoneBefore == pulse.Surge && d.ZoneAfter != pulse.Surge {
			closed = true
			break
		}
	}
	if !closed {
		t.Fatal("expected the zone to eventually close out of SURGE as heat is driven down")
	}

	if !ctl.InGrace() {
		t.Fatal("expected a grace window to be open immediately after a SURGE->non-SURGE transition")
	}
	remaining := ctl.ApplyGracePeriod()
	if remaining < 0 || remaining > 300 {
		t.Fatalf("expected grace remaining in [0,300] (at most graceMax), got %v", remaining)
	}
	// grace_until = close time + grace, and grace is clamped to >= graceBase (30s).
	if opened := ctl.GraceUntil().Sub(closingCall); opened < 30*time.Second {
		t.Fatalf("expected a grace window of at least 30s from the surge close, got %v", opened)
	}

	// While grace holds, a registered sigil must not execute.
	engine := sigil.NewEngine(nil, nil)
	if _, err := engine.Register("grace-gated", 80, sigil.HouseMonitor, 6); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	result := engine.ExecuteNext(ctl.InGrace())
	if result.Executed {
		t.Fatal("expected no sigil execution while the post-surge grace window is active")
	}
}

// Scenario C: a tick whose snapshot trips all three triggers at once
// (LOW_SCUP, HIGH_ENTROPY, ZONE_SURGE) produces the exact ordered command
// list defined in metareflex.go's doc comment.
func TestScenarioC_TripleTriggerExactCommandOrder(t *testing.T) {
	reflex := metareflex.New(nil)
	commands := reflex.Evaluate(1, metareflex.Snapshot{
		SCUP:           0.1,  // < 0.5 -> LOW_SCUP
		SampledEntropy: 0.99, // > 0.75 -> HIGH_ENTROPY
		Zone:           "SURGE",
	})

	want := []struct {
		kind string
		si   sigil.NamedIntervention
		secs float64
	}{
		{kind: "slow_tick"},                              // LOW_SCUP and ZONE_SURGE, deduplicated
		{kind: "suppress_rebloom"},                        // HIGH_ENTROPY
		{kind: "prune_sigils"},                            // ZONE_SURGE
		{kind: "register", si: sigil.StabilizeProtocol},   // ZONE_SURGE
		{kind: "register", si: sigil.EntropyRegulation},   // HIGH_ENTROPY
		{kind: "register", si: sigil.DeepReflection},      // >= 2 triggers
		{kind: "emergency_cooldown", secs: 25},            // all 3 triggers
	}

	if len(commands) != len(want) {
		t.Fatalf("expected %d commands, got %d: %+v", len(want), len(commands), commands)
	}
	for i, w := range want {
		got := commands[i]
		if got.Kind != w.kind {
			t.Fatalf("command %d: kind = %q, want %q (full list: %+v)", i, got.Kind, w.kind, commands)
		}
		if w.kind == "register" && got.Sigil != w.si {
			t.Fatalf("command %d: sigil = %+v, want %+v", i, got.Sigil, w.si)
		}
		if w.kind == "emergency_cooldown" && got.Seconds != w.secs {
			t.Fatalf("command %d: seconds = %v, want %v", i, got.Seconds, w.secs)
		}
	}
}

// Scenario D: memory routing across 60 chunks with a deterministic
// importance ladder. entropy_i = i/59 (i=0..59), heat held at 100 (heat
// term = |100-33|/67 = 1.0, clamped to 1), hasSigils=true (sigil term 1.0),
// speakerWeight=1 (speaker term 1.0) so:
//
//	importance_i = 0.35*entropy_i + 0.25*1 + 0.25*1 + 0.15*1
//	             = 0.35*entropy_i + 0.65
//
// Every chunk clears the 0.5 working threshold (min importance = 0.65 at
// i=0), so all 60 inserts exercise working's LRU eviction down to its cap
// of 50. importance_i >= 0.75 exactly when entropy_i >= 0.2857..., i.e.
// i >= 17 (since 17/59 = 0.288 > 2/7, 16/59 = 0.271 < 2/7) — computed here
// via memory.Importance itself so the test can't drift from the formula's
// own floating-point behavior.
func TestScenarioD_MemoryRoutingLadder(t *testing.T) {
	router := memory.NewRouter(nil, nil, nil)

	const n = 60
	expectSignificant := make([]bool, n)

	for i := 0; i < n; i++ {
		ent := float64(i) / 59.0
		imp := memory.Importance(ent, 100, true, 1.0)
		expectSignificant[i] = imp >= 0.75

		chunk := memory.Chunk{
			Content:    "chunk",
			PulseState: memory.PulseState{Heat: 100, Entropy: ent},
			Sigils:     []string{"MON0001"},
		}
		router.Store(chunk, 1.0)
	}

	working, recent, significant := router.PoolSizes()
	if recent != n {
		t.Fatalf("expected recent pool to hold all %d chunks (cap 200), got %d", n, recent)
	}
	if working != 50 {
		t.Fatalf("expected working pool capped at 50 after %d qualifying inserts, got %d", n, working)
	}

	wantSignificant := 0
	for _, ok := range expectSignificant {
		if ok {
			wantSignificant++
		}
	}
	if significant != wantSignificant {
		t.Fatalf("expected %d chunks in significant pool, got %d", wantSignificant, significant)
	}
}

// Scenario E: sigil decay under a fixed heat of 50 for a house=memory,
// convolution=5 sigil. delta = 0.05*(1+50/100)/(1+5/20) = 0.05*1.5/1.25 =
// 0.06 exactly, so the sigil dies (accumulator >= 1.0) on its 17th call
// (16*0.06 = 0.96 < 1.0, 17*0.06 = 1.02 >= 1.0).
func TestScenarioE_SigilDecayExactRateAndDeathCall(t *testing.T) {
	engine := sigil.NewEngine(nil, nil)
	if _, err := engine.Register("decaying", 50, sigil.HouseMemory, 5); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	const expectedDelta = 0.06
	for call := 1; call <= 16; call++ {
		engine.Decay(50)
		if engine.LiveCount() != 1 {
			t.Fatalf("call %d: expected sigil still alive (accumulator should be %.2f < 1.0), live count = %d",
				call, float64(call)*expectedDelta, engine.LiveCount())
		}
	}
	engine.Decay(50) // 17th call
	if engine.LiveCount() != 0 {
		t.Fatal("expected the sigil to have died on its 17th decay call")
	}
}

// Scenario F: export_state() produces a ZIP bundle whose six files are
// present, parse as the expected JSON shapes, and whose system_state.json
// reflects the pulse state at export time.
func TestScenarioF_SnapshotRoundTrip(t *testing.T) {
	cfg := config.Defaults()
	bus := eventbus.New(32)
	rt := runtime.New("scenario-f", zap.NewNop(), bus, nil)

	pulseCtl := pulse.NewController(72, bus) // SURGE
	entropyA := entropy.NewAnalyzer(cfg.Entropy.RingCapacity, bus)
	sigilE := sigil.NewEngine(nil, bus)
	memoryR := memory.NewRouter(nil, nil, bus)
	reflex := metareflex.New(bus)
	bloomA := bloom.NewArena()

	sched := scheduler.New(&cfg, pulseCtl, entropyA, sigilE, memoryR, reflex, bloomA, rt)

	for i := 0; i < 5; i++ {
		sched.ExecuteSingleTick()
	}

	var buf bytes.Buffer
	atExport := pulseCtl.Snapshot()
	exportedAt := time.Now()
	if err := sched.ExportState(&buf, exportedAt); err != nil {
		t.Fatalf("ExportState failed: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader failed: %v", err)
	}

	wantFiles := []string{
		"system_state.json",
		"forecast.json",
		"memory_chunks.json",
		"intervention_log.json",
		"bloom_snapshot.json",
		"snapshot_metadata.json",
	}
	got := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		got[f.Name] = data
	}
	for _, name := range wantFiles {
		if _, ok := got[name]; !ok {
			t.Fatalf("expected snapshot to contain %s, bundle has: %v", name, zr.File)
		}
	}

	var forecast []map[string]interface{}
	if err := json.Unmarshal(got["forecast.json"], &forecast); err != nil {
		t.Fatalf("forecast.json did not parse as an array: %v", err)
	}
	if len(forecast) != 4 {
		t.Fatalf("expected 4 forecast windows, got %d", len(forecast))
	}
	wantWindows := map[string]bool{"next_1h": true, "next_24h": true, "next_week": true, "next_month": true}
	for _, entry := range forecast {
		window, _ := entry["window"].(string)
		if !wantWindows[window] {
			t.Fatalf("unexpected forecast window %q", window)
		}
		confidence, _ := entry["confidence"].(float64)
		if confidence < 0.1 || confidence > 0.95 {
			t.Fatalf("forecast window %s confidence %v outside [0.1,0.95]", window, confidence)
		}
	}

	var state struct {
		Pulse struct {
			Heat float64 `json:"heat"`
			Zone string  `json:"zone"`
		} `json:"pulse"`
	}
	if err := json.Unmarshal(got["system_state.json"], &state); err != nil {
		t.Fatalf("system_state.json did not parse: %v", err)
	}
	if state.Pulse.Heat != atExport.Heat || state.Pulse.Zone != string(atExport.Zone) {
		t.Fatalf("system_state.json pulse = %+v, want heat=%v zone=%v", state.Pulse, atExport.Heat, atExport.Zone)
	}

	var metadata struct {
		Version string         `json:"version"`
		Counts  map[string]int `json:"counts"`
	}
	if err := json.Unmarshal(got["snapshot_metadata.json"], &metadata); err != nil {
		t.Fatalf("snapshot_metadata.json did not parse: %v", err)
	}
	if metadata.Version != "1" {
		t.Fatalf("expected snapshot version \"1\", got %q", metadata.Version)
	}
}
