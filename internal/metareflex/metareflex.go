// Package metareflex implements the meta-reflex supervisor: per-tick
// threshold watching and intervention command generation (spec.md §4.6).
//
// Grounded on the violation-type catalogue + audit-trail idiom (constants
// enumerating trigger kinds, an append-only bounded log) and on the
// Weights/Thresholds sequential-table shape used for the sigil engine's
// own routing table, here generalized to trigger evaluation.
package metareflex

import (
	"sync"
	"time"

	"github.com/jso122-2/dawncore/internal/eventbus"
	"github.com/jso122-2/dawncore/internal/sigil"
)

// Trigger is one of the three threshold conditions evaluated each tick.
type Trigger string

const (
	TriggerLowSCUP      Trigger = "LOW_SCUP"
	TriggerHighEntropy  Trigger = "HIGH_ENTROPY"
	TriggerZoneSurge    Trigger = "ZONE_SURGE"
)

const (
	lowSCUPThreshold     = 0.5
	highEntropyThreshold = 0.75
	logCap               = 10_000
	diagnosticEveryTicks = 50
	diagnosticTailSize   = 5
)

// Command is one ordered effect issued by evaluate(). Kind selects which
// scheduler/engine effect fires; Sigil is populated only for `register`.
type Command struct {
	Kind  string // slow_tick | suppress_rebloom | prune_sigils | register | emergency_cooldown
	Sigil sigil.NamedIntervention
	Seconds float64 // only meaningful for emergency_cooldown: the target heat passed to pulse.EmergencyCooldown
}

// Snapshot is the read-only tick input evaluate() inspects.
type Snapshot struct {
	SCUP           float64
	SampledEntropy float64
	Zone           string // "CALM" | "ACTIVE" | "SURGE"
}

// LogEntry is one append-only intervention record.
type LogEntry struct {
	Tick      uint64
	Timestamp time.Time
	Triggers  []Trigger
	Commands  []Command
}

// Reflex evaluates tick snapshots against the three triggers and owns the
// bounded intervention log. It is the sole writer to that log.
type Reflex struct {
	mu  sync.Mutex
	log []LogEntry
	bus *eventbus.Bus
}

// New returns a ready-to-use Reflex.
func New(bus *eventbus.Bus) *Reflex {
	return &Reflex{bus: bus}
}

// Evaluate inspects snap and returns the ordered command list per the
// §4.6 trigger → command mapping. Commands are emitted in a fixed slot
// order regardless of which subset of triggers fired, not concatenated
// per trigger block, so slow_tick (shared by LOW_SCUP and ZONE_SURGE)
// appears at most once:
//
//	slot 1: slow_tick                        if LOW_SCUP or ZONE_SURGE
//	slot 2: suppress_rebloom                 if HIGH_ENTROPY
//	slot 3: prune_sigils                     if ZONE_SURGE
//	slot 4: register(STABILIZE_PROTOCOL)     if ZONE_SURGE
//	slot 5: register(ENTROPY_REGULATION)     if HIGH_ENTROPY
//	slot 6: register(DEEP_REFLECTION)        if any two triggers fired
//	slot 7: emergency_cooldown(25)           if all three fired
//
// Every call appends a log entry (even when no trigger fires, with an
// empty Triggers/Commands pair) — callers that only want to record actual
// interventions should check len(entry.Triggers) > 0 before logging
// externally; the bounded log itself records every tick's evaluation so
// diagnostic chunks stay aligned with tick numbers.
func (r *Reflex) Evaluate(tick uint64, snap Snapshot) []Command {
	var triggers []Trigger

	lowSCUP := snap.SCUP < lowSCUPThreshold
	highEntropy := snap.SampledEntropy > highEntropyThreshold
	zoneSurge := snap.Zone == "SURGE"

	if lowSCUP {
		triggers = append(triggers, TriggerLowSCUP)
	}
	if highEntropy {
		triggers = append(triggers, TriggerHighEntropy)
	}
	if zoneSurge {
		triggers = append(triggers, TriggerZoneSurge)
	}

	var commands []Command
	if lowSCUP || zoneSurge {
		commands = append(commands, Command{Kind: "slow_tick"})
	}
	if highEntropy {
		commands = append(commands, Command{Kind: "suppress_rebloom"})
	}
	if zoneSurge {
		commands = append(commands, Command{Kind: "prune_sigils"})
		commands = append(commands, Command{Kind: "register", Sigil: sigil.StabilizeProtocol})
	}
	if highEntropy {
		commands = append(commands, Command{Kind: "register", Sigil: sigil.EntropyRegulation})
	}
	if len(triggers) >= 2 {
		commands = append(commands, Command{Kind: "register", Sigil: sigil.DeepReflection})
	}
	if len(triggers) == 3 {
		commands = append(commands, Command{Kind: "emergency_cooldown", Seconds: 25})
	}

	r.appendLog(tick, triggers, commands)
	return commands
}

func (r *Reflex) appendLog(tick uint64, triggers []Trigger, commands []Command) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := LogEntry{Tick: tick, Timestamp: time.Now().UTC(), Triggers: triggers, Commands: commands}
	r.log = append(r.log, entry)
	if len(r.log) > logCap {
		r.log = r.log[len(r.log)-logCap:]
	}

	if len(triggers) > 0 && r.bus != nil {
		r.bus.Publish(eventbus.Event{Kind: eventbus.KindInterventionIssued, TickNumber: tick, Payload: entry})
	}
}

// LogLen returns the current number of log entries, for tests and metrics.
func (r *Reflex) LogLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.log)
}

// DiagnosticChunk returns the last diagnosticTailSize log entries, for the
// scheduler's every-50-ticks diagnostic chunk (spec.md §4.6). Callers
// should call this only when tick%diagnosticEveryTicks == 0; exposed as a
// constant so the scheduler's dispatch loop stays in sync with this
// package's own cadence expectation.
func (r *Reflex) DiagnosticChunk() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := diagnosticTailSize
	if n > len(r.log) {
		n = len(r.log)
	}
	out := make([]LogEntry, n)
	copy(out, r.log[len(r.log)-n:])
	return out
}

// RecentLog returns the last n log entries, for StateSnapshot's
// intervention_log.json.
func (r *Reflex) RecentLog(n int) []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > len(r.log) {
		n = len(r.log)
	}
	out := make([]LogEntry, n)
	copy(out, r.log[len(r.log)-n:])
	return out
}

// DiagnosticEveryTicks is the tick cadence at which the scheduler should
// request a DiagnosticChunk and emit it as a memory chunk.
const DiagnosticEveryTicks = diagnosticEveryTicks
