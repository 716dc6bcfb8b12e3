// Package scheduler drives the tick loop: one cognitive cycle per
// tick_interval, dispatching pulse, entropy, meta-reflex, sigil, and
// memory-router steps in the strict order spec.md §4.1 requires.
//
// Grounded on the main entrypoint's startup/shutdown sequence and
// runWorker's per-cycle dispatch; EMERGENCY_RESET escalation after three
// consecutive cycle failures is grounded on guard.Escalator, itself
// modeled on the same three-consecutive-failure rule applied to whole
// tick cycles here.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jso122-2/dawncore/internal/bloom"
	"github.com/jso122-2/dawncore/internal/config"
	"github.com/jso122-2/dawncore/internal/entropy"
	"github.com/jso122-2/dawncore/internal/guard"
	"github.com/jso122-2/dawncore/internal/memory"
	"github.com/jso122-2/dawncore/internal/metareflex"
	"github.com/jso122-2/dawncore/internal/pulse"
	"github.com/jso122-2/dawncore/internal/runtime"
	"github.com/jso122-2/dawncore/internal/sigil"
)

// TickResult is execute_single_tick's synchronous return value.
type TickResult struct {
	TickNumber    uint64
	Duration      time.Duration
	Heat          float64
	Zone          string
	SCUP          float64
	ChaosScore    float64
	SigilExecuted *sigil.ExecutionResult
	NextInterval  time.Duration
	SkippedGrace  bool
	Error         *guard.Violation
}

// SchedulerStatus is status()'s read-only view.
type SchedulerStatus struct {
	TickCount       uint64
	LastDuration    time.Duration
	CurrentInterval time.Duration
	EmergencyResets int
	Running         bool
}

// Scheduler is the single-threaded cooperative tick loop. It owns the
// scalar-state snapshot cadence; every other component sees read-only
// snapshots produced here.
type Scheduler struct {
	cfg     config.SchedulerConfig
	pulseCfg config.PulseConfig
	metaCfg config.MetaReflexConfig

	pulseCtl *pulse.Controller
	entropyA *entropy.Analyzer
	sigilE   *sigil.Engine
	memoryR  *memory.Router
	reflex   *metareflex.Reflex
	bloomA   *bloom.Arena

	rootBloomID string

	rt  *runtime.Runtime
	log *zap.Logger

	mu              sync.Mutex
	tickCount       uint64
	lastDuration    time.Duration
	emergencyResets int
	running         bool

	slowTickPending bool

	stopCh chan struct{}
	doneCh chan struct{}

	// latestHeatInput is the most recent external scalar signal fed via
	// FeedHeatInput; nil means no fresh reading arrived this tick, which
	// triggers natural_decay instead of update_heat.
	latestHeatInput   *float64
	latestHeatInputMu sync.Mutex
}

// New constructs a Scheduler wired to already-constructed subsystems and the
// shared Runtime context (logger, bus, metrics, escalator).
func New(
	cfg *config.Config,
	pulseCtl *pulse.Controller,
	entropyA *entropy.Analyzer,
	sigilE *sigil.Engine,
	memoryR *memory.Router,
	reflex *metareflex.Reflex,
	bloomA *bloom.Arena,
	rt *runtime.Runtime,
) *Scheduler {
	root := bloomA.CreateRoot("scheduler-root")
	return &Scheduler{
		cfg:         cfg.Scheduler,
		pulseCfg:    cfg.Pulse,
		metaCfg:     cfg.MetaReflex,
		pulseCtl:    pulseCtl,
		entropyA:    entropyA,
		sigilE:      sigilE,
		memoryR:     memoryR,
		reflex:      reflex,
		bloomA:      bloomA,
		rootBloomID: root.ID,
		rt:          rt,
		log:         rt.Sub("scheduler"),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// FeedHeatInput supplies the next scalar reading (e.g. from internal/signals
// or an ingested external_signal) for the next tick's update_heat call.
// If no reading arrives before a tick runs, that tick runs natural_decay
// instead, per the Open Question decision recorded in SPEC_FULL.md §11.
func (s *Scheduler) FeedHeatInput(v float64) {
	s.latestHeatInputMu.Lock()
	defer s.latestHeatInputMu.Unlock()
	s.latestHeatInput = &v
}

func (s *Scheduler) takeHeatInputLocked() (float64, bool) {
	s.latestHeatInputMu.Lock()
	defer s.latestHeatInputMu.Unlock()
	if s.latestHeatInput == nil {
		return 0, false
	}
	v := *s.latestHeatInput
	s.latestHeatInput = nil
	return v, true
}

// Start runs the loop until Stop is called or maxTicks is reached (0 means
// unbounded). Blocks the calling goroutine; run it in its own goroutine for
// a non-blocking start.
func (s *Scheduler) Start(ctx context.Context, maxTicks uint64) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer close(s.doneCh)

	interval := s.cfg.MinInterval
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-s.stopCh:
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		default:
		}

		if grace := s.pulseCtl.GraceUntil(); time.Now().Before(grace) {
			sleepCtx, cancel := context.WithDeadline(ctx, grace)
			<-sleepCtx.Done()
			cancel()
		}

		result := s.ExecuteSingleTick()
		interval = result.NextInterval

		s.mu.Lock()
		count := s.tickCount
		s.mu.Unlock()
		if maxTicks > 0 && count >= maxTicks {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-s.stopCh:
			timer.Stop()
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-timer.C:
		}
	}
}

// Stop requests a graceful halt; the in-flight cycle (if any) completes
// before the loop exits.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
}

// Status reports current tick count, last duration, and derived metrics.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStatus{
		TickCount:       s.tickCount,
		LastDuration:    s.lastDuration,
		CurrentInterval: s.pulseCtl.Snapshot().TickInterval,
		EmergencyResets: s.emergencyResets,
		Running:         s.running,
	}
}

// ExecuteSingleTick runs one cycle synchronously: (1) snapshot pulse and
// entropy, (2) run meta-reflex, (3) decay sigils, (4) execute at most one
// sigil, (5) emit one memory chunk, (6) recompute tick_interval. Intended
// for tests and manual stepping as well as the Start loop's own body.
func (s *Scheduler) ExecuteSingleTick() TickResult {
	start := time.Now()

	s.mu.Lock()
	s.tickCount++
	tick := s.tickCount
	s.mu.Unlock()

	// Step 0 (ambient to step 1): update_heat or natural_decay.
	if hv, ok := s.takeHeatInputLocked(); ok {
		s.pulseCtl.UpdateHeat(hv, tick)
	} else {
		s.pulseCtl.NaturalDecay(tick)
	}

	entropySample := s.pulseCtl.Snapshot().Heat / 100
	profile, err := s.entropyA.AddSample(s.rootBloomID, entropySample, "scheduler")
	if err != nil {
		return s.handleTickError(tick, start, guard.Transientf("scheduler", "entropy sample rejected: %v", err))
	}
	s.entropyA.InjectThermalAwareness(s.pulseCtl.Snapshot().Heat)

	// Step 1: snapshot pulse and entropy.
	pulseSnap := s.pulseCtl.Snapshot()
	scup := 1 - profile.ChaosScore

	if v := guard.CheckBounded("scheduler", "heat", pulseSnap.Heat, 0, 100); v != nil {
		return s.handleTickError(tick, start, v)
	}

	s.rt.Escalator.Reset("scheduler")

	// Step 2: run meta-reflex.
	commands := s.reflex.Evaluate(tick, metareflex.Snapshot{
		SCUP:           scup,
		SampledEntropy: entropySample,
		Zone:           string(pulseSnap.Zone),
	})
	s.applyReflexCommands(commands, tick)

	inGrace := s.pulseCtl.InGrace()

	// Step 3: decay sigils (skipped during grace, per §4.1).
	var executed *sigil.ExecutionResult
	if !inGrace {
		s.sigilE.Decay(pulseSnap.Heat)

		// Step 4: execute at most one sigil.
		result := s.sigilE.ExecuteNext(false)
		if result.Executed {
			executed = &result
			s.pulseCtl.UpdateHeat(pulseSnap.Heat+result.HeatDelta, tick)
			pulseSnap = s.pulseCtl.Snapshot()
		}
	}

	// Step 5: emit one memory chunk describing the cycle.
	chunk := memory.Chunk{
		Speaker: "scheduler",
		Content: fmt.Sprintf("tick %d: zone=%s heat=%.2f scup=%.2f", tick, pulseSnap.Zone, pulseSnap.Heat, scup),
		PulseState: memory.PulseState{
			Heat:    pulseSnap.Heat,
			Entropy: entropySample,
			SCUP:    scup,
			Zone:    string(pulseSnap.Zone),
		},
	}
	if executed != nil {
		chunk.Sigils = []string{executed.ID}
	}
	s.memoryR.Store(chunk, 1.0)

	if tick%metareflex.DiagnosticEveryTicks == 0 {
		diag := s.reflex.DiagnosticChunk()
		s.memoryR.Store(memory.Chunk{
			Speaker: "metareflex",
			Topic:   "diagnostic",
			Content: fmt.Sprintf("last %d intervention entries as of tick %d", len(diag), tick),
			PulseState: memory.PulseState{
				Heat: pulseSnap.Heat, Entropy: entropySample, SCUP: scup, Zone: string(pulseSnap.Zone),
			},
		}, 0.5)
	}

	// Step 6: recompute tick_interval from pulse, applying any pending
	// one-shot slow_tick multiplier.
	nextInterval := s.pulseCtl.Snapshot().TickInterval
	s.mu.Lock()
	if s.slowTickPending {
		scaled := time.Duration(float64(nextInterval) * 1.5)
		if scaled > s.cfg.MaxInterval {
			scaled = s.cfg.MaxInterval
		}
		nextInterval = scaled
		s.slowTickPending = false
	}
	s.lastDuration = time.Since(start)
	s.mu.Unlock()

	s.pulseCtl.EndTick()

	if s.rt.Metrics != nil {
		s.rt.Metrics.TicksTotal.Inc()
		s.rt.Metrics.TickDuration.Observe(time.Since(start).Seconds())
		s.rt.Metrics.TickIntervalSecs.Set(nextInterval.Seconds())
		s.rt.Metrics.Heat.Set(pulseSnap.Heat)
		s.rt.Metrics.ChaosScore.Set(profile.ChaosScore)
		if inGrace {
			s.rt.Metrics.GraceActive.Set(1)
		} else {
			s.rt.Metrics.GraceActive.Set(0)
		}
	}

	return TickResult{
		TickNumber:    tick,
		Duration:      time.Since(start),
		Heat:          pulseSnap.Heat,
		Zone:          string(pulseSnap.Zone),
		SCUP:          scup,
		ChaosScore:    profile.ChaosScore,
		SigilExecuted: executed,
		NextInterval:  nextInterval,
		SkippedGrace:  inGrace,
	}
}

func (s *Scheduler) applyReflexCommands(cmds []metareflex.Command, tick uint64) {
	for _, cmd := range cmds {
		switch cmd.Kind {
		case "slow_tick":
			s.mu.Lock()
			s.slowTickPending = true
			s.mu.Unlock()
		case "suppress_rebloom":
			s.memoryR.SuppressRebloom(tick, uint64(s.metaCfg.SuppressReboloomTicks))
		case "prune_sigils":
			s.sigilE.PruneUnexecutedOutsideHouses(map[sigil.House]bool{
				sigil.HouseMeta:    true,
				sigil.HouseMonitor: true,
			})
		case "register":
			id, _ := s.sigilE.RegisterNamed(cmd.Sigil)
			if s.rt.Metrics != nil && id != "" {
				s.rt.Metrics.SigilsRegistered.WithLabelValues(cmd.Sigil.Name).Inc()
			}
			if cmd.Sigil == sigil.EntropyRegulation {
				pulseSnap := s.pulseCtl.Snapshot()
				s.memoryR.Store(memory.Chunk{
					Speaker:    "scheduler",
					Topic:      "entropy_spike",
					Content:    fmt.Sprintf("tick %d: HIGH_ENTROPY triggered ENTROPY_REGULATION", tick),
					PulseState: memory.PulseState{Heat: pulseSnap.Heat, Zone: string(pulseSnap.Zone)},
					Sigils:     []string{sigil.EntropyRegulation.Name},
					Tags:       []string{"entropy_spike"},
				}, 1.0)
			}
		case "emergency_cooldown":
			s.pulseCtl.EmergencyCooldown(cmd.Seconds, tick)
		}
	}
}

// handleTickError classifies a cycle failure, records it in a stored chunk
// under pulse_state.error without aborting the loop, escalates after three
// consecutive Transient failures to an EMERGENCY_RESET, and returns a
// TickResult carrying the violation.
func (s *Scheduler) handleTickError(tick uint64, start time.Time, v *guard.Violation) TickResult {
	s.pulseCtl.EndTick()
	if s.rt.Metrics != nil {
		s.rt.Metrics.TickFailuresTotal.WithLabelValues(string(v.Kind)).Inc()
	}
	s.log.Warn("tick cycle failure", zap.String("kind", string(v.Kind)), zap.String("message", v.Message))

	pulseSnap := s.pulseCtl.Snapshot()
	s.memoryR.Store(memory.Chunk{
		Speaker: "scheduler",
		Topic:   "tick_error",
		Content: fmt.Sprintf("tick %d: %s subsystem failure: %s", tick, v.Subsystem, v.Message),
		PulseState: memory.PulseState{
			Heat:  pulseSnap.Heat,
			Zone:  string(pulseSnap.Zone),
			Error: v.Error(),
		},
		Tags: []string{"tick_error"},
	}, 1.0)

	escalate := s.rt.Escalator.Observe("scheduler", v.Kind)
	if escalate || v.Kind == guard.Invariant {
		s.emergencyReset(tick)
	}

	s.mu.Lock()
	s.lastDuration = time.Since(start)
	s.mu.Unlock()

	return TickResult{TickNumber: tick, Duration: time.Since(start), Error: v}
}

// emergencyReset implements the EMERGENCY_RESET intervention: prune every
// sigil outside the meta house, register EMERGENCY_RESET, force a cooldown
// to heat=25, and store a chunk tagged emergency_reset.
func (s *Scheduler) emergencyReset(tick uint64) {
	s.sigilE.PruneExcept(map[sigil.House]bool{sigil.HouseMeta: true})
	s.sigilE.RegisterNamed(sigil.EmergencyReset)
	s.pulseCtl.EmergencyCooldown(25, tick)

	s.mu.Lock()
	s.emergencyResets++
	s.mu.Unlock()

	if s.rt.Metrics != nil {
		s.rt.Metrics.EmergencyResets.Inc()
	}
	s.log.Warn("EMERGENCY_RESET triggered", zap.Uint64("tick", tick))

	pulseSnap := s.pulseCtl.Snapshot()
	s.memoryR.Store(memory.Chunk{
		Speaker:    "scheduler",
		Topic:      "emergency_reset",
		Content:    fmt.Sprintf("tick %d: EMERGENCY_RESET triggered, heat forced to %.2f", tick, pulseSnap.Heat),
		PulseState: memory.PulseState{Heat: pulseSnap.Heat, Zone: string(pulseSnap.Zone)},
		Sigils:     []string{sigil.EmergencyReset.Name},
		Tags:       []string{"emergency_reset"},
	}, 1.0)
}
