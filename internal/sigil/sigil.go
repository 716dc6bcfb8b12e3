// Package sigil implements the symbolic-command lifecycle: registration,
// priority queue, decay, and house-based routing (spec.md §3 Sigil,
// §4.4).
//
// Grounded on internal/escalation/state_machine.go for mortality/lifecycle
// bookkeeping (mutex-protected struct, monotonic created_at, bounded
// lifespan) and internal/escalation/severity.go for the
// Weights/Thresholds-style const-table shape, generalized here into the
// routing table's sequential convolution/temp selection rule.
package sigil

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jso122-2/dawncore/internal/eventbus"
)

// House is a sigil category determining routing targets (spec.md §4.4).
type House string

const (
	HouseMemory      House = "memory"
	HouseAnalysis    House = "analysis"
	HouseSynthesis   House = "synthesis"
	HouseAttention   House = "attention"
	HouseIntegration House = "integration"
	HouseMeta        House = "meta"
	HouseAction      House = "action"
	HouseMonitor     House = "monitor"
	HouseCreative    House = "creative"
	HouseTemporal    House = "temporal"
)

// housePrefix returns the HOUSE_PREFIX used in generated sigil ids.
func housePrefix(h House) string {
	switch h {
	case HouseMemory:
		return "MEM"
	case HouseAnalysis:
		return "ANL"
	case HouseSynthesis:
		return "SYN"
	case HouseAttention:
		return "ATT"
	case HouseIntegration:
		return "INT"
	case HouseMeta:
		return "META"
	case HouseAction:
		return "ACT"
	case HouseMonitor:
		return "MON"
	case HouseCreative:
		return "CRE"
	case HouseTemporal:
		return "TMP"
	default:
		return "UNK"
	}
}

// routingRow is [standard, priority, specialist] for one house.
type routingRow struct {
	Standard   string
	Priority   string
	Specialist string
}

// routingTable is the full §4.4 house-to-tag table.
var routingTable = map[House]routingRow{
	HouseMemory:      {"memory_banks", "recall_system", "consolidation_unit"},
	HouseAnalysis:    {"deep_processor", "pattern_analyzer", "logic_engine"},
	HouseSynthesis:   {"creative_engine", "synthesis_chamber", "ideation_core"},
	HouseAttention:   {"focus_director", "attention_filter", "priority_manager"},
	HouseIntegration: {"data_weaver", "context_builder", "coherence_engine"},
	HouseMeta:        {"self_monitor", "cognitive_observer", "awareness_tracker"},
	HouseAction:      {"execution_unit", "decision_engine", "output_formatter"},
	HouseMonitor:     {"system_monitor", "performance_tracker", "health_checker"},
	HouseCreative:    {"inspiration_core", "innovation_lab", "artistic_engine"},
	HouseTemporal:    {"time_keeper", "sequence_manager", "rhythm_controller"},
}

// RoutingTarget selects a routing tag for (house, temp, convolution) per
// the §4.4 selection rule: convolution>=8 picks specialist; else temp>=75
// picks priority; else standard.
func RoutingTarget(house House, temp float64, convolution int) (string, error) {
	row, ok := routingTable[house]
	if !ok {
		return "", fmt.Errorf("sigil.RoutingTarget: unknown house %q", house)
	}
	switch {
	case convolution >= 8:
		return row.Specialist, nil
	case temp >= 75:
		return row.Priority, nil
	default:
		return row.Standard, nil
	}
}

// NamedIntervention holds the fixed (house, convolution, temp_seed) triple
// for one of the six named interventions (spec.md §4.4).
type NamedIntervention struct {
	Name        string
	House       House
	Convolution int
	TempSeed    float64
}

// Named interventions are contracts consumed by Meta-Reflex and the
// emergency path; each produces the same routing deterministically.
var (
	StabilizeProtocol   = NamedIntervention{"STABILIZE_PROTOCOL", HouseMonitor, 6, 70}
	EntropyRegulation   = NamedIntervention{"ENTROPY_REGULATION", HouseMonitor, 7, 65}
	EmergencyReset      = NamedIntervention{"EMERGENCY_RESET", HouseMeta, 9, 90}
	DeepReflection      = NamedIntervention{"DEEP_REFLECTION", HouseMeta, 5, 40}
	ExplorationMode     = NamedIntervention{"EXPLORATION_MODE", HouseCreative, 3, 30}
	MemoryConsolidation = NamedIntervention{"MEMORY_CONSOLIDATION", HouseMemory, 4, 35}
)

// Sigil is a mortal symbolic command (spec.md §3).
type Sigil struct {
	ID               string
	Name             string
	Temp             float64 // [0,100]
	House            House
	ConvolutionLevel int // [1,10]
	CreatedAt        time.Time
	BaseLifespan     time.Duration
	DecayAccumulator float64 // [0,inf)
	ExecutionCount   int
	LastExecuted     *time.Time
}

const (
	maxLiveSigils  = 128
	decayBaseRate  = 0.05
	safetyBoundK   = 2.0 // "now - created_at < base_lifespan * k"
)

// BaseLifespan computes base_lifespan_seconds = max(5, (10 +
// 5*convolution_level) * (1 - temp/200)) per spec.md §3.
func BaseLifespan(convolutionLevel int, temp float64) time.Duration {
	seconds := (10 + 5*float64(convolutionLevel)) * (1 - temp/200)
	if seconds < 5 {
		seconds = 5
	}
	return time.Duration(seconds * float64(time.Second))
}

// IsAlive reports whether a sigil is still alive: decay_accumulator < 1.0
// and now - created_at < base_lifespan * safetyBoundK.
func (s *Sigil) IsAlive(now time.Time) bool {
	if s.DecayAccumulator >= 1.0 {
		return false
	}
	return now.Sub(s.CreatedAt) < time.Duration(float64(s.BaseLifespan)*safetyBoundK)
}

// priority computes convolution_level + temp/100 + meta_bonus -
// age_penalty per spec.md §4.4.
func (s *Sigil) priority(now time.Time) float64 {
	metaBonus := 0.0
	if s.House == HouseMeta {
		metaBonus = float64(s.ExecutionCount) / 25
	}
	ageSeconds := now.Sub(s.CreatedAt).Seconds()
	agePenalty := math.Min(1, ageSeconds/60)
	return float64(s.ConvolutionLevel) + s.Temp/100 + metaBonus - agePenalty
}

// View is the read-only priority_queue() entry.
type View struct {
	ID       string
	Name     string
	House    House
	Priority float64
}

// ExecutionResult is execute_next()'s output.
type ExecutionResult struct {
	ID         string
	Name       string
	House      House
	RoutedTo   string
	HeatDelta  float64
	Executed   bool // false if skipped due to grace or empty queue
}

// RoutingCallback is the optional routing hook (spec.md §4.4: "if absent,
// routing is a no-op that still emits the tag"). Grounded on
// contrib/scorer.go's pluggable-interface-with-nil-safe-default pattern.
type RoutingCallback func(sigilID string, house House, target string)

// Engine maintains the live sigil table and is its only writer.
type Engine struct {
	mu       sync.Mutex
	sigils   map[string]*Sigil
	counters map[House]int
	routing  RoutingCallback
	bus      *eventbus.Bus
}

// NewEngine returns an empty Engine. routing may be nil.
func NewEngine(routing RoutingCallback, bus *eventbus.Bus) *Engine {
	return &Engine{
		sigils:   make(map[string]*Sigil),
		counters: make(map[House]int),
		routing:  routing,
		bus:      bus,
	}
}

// Register assigns id = HOUSE_PREFIX + 4-digit counter, computes
// base_lifespan, and inserts the sigil. Overflow (>128 live sigils) drops
// the lowest-priority sigil first, per the resource bound in spec.md §5.
func (e *Engine) Register(name string, temp float64, house House, convolution int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.counters[house]++
	id := fmt.Sprintf("%s%04d", housePrefix(house), e.counters[house])

	s := &Sigil{
		ID:               id,
		Name:             name,
		Temp:             clamp(temp, 0, 100),
		House:            house,
		ConvolutionLevel: clampInt(convolution, 1, 10),
		CreatedAt:        time.Now(),
		BaseLifespan:     BaseLifespan(convolution, temp),
		DecayAccumulator: 0,
	}
	e.sigils[id] = s

	if len(e.sigils) > maxLiveSigils {
		e.evictLowestPriorityLocked()
	}
	return id, nil
}

// RegisterNamed registers one of the six named interventions with its
// fixed (house, convolution, temp_seed).
func (e *Engine) RegisterNamed(ni NamedIntervention) (string, error) {
	return e.Register(ni.Name, ni.TempSeed, ni.House, ni.Convolution)
}

// evictLowestPriorityLocked removes the lowest-priority sigil. Must be
// called with mu held.
func (e *Engine) evictLowestPriorityLocked() {
	now := time.Now()
	var worstID string
	worstPriority := math.Inf(1)
	for id, s := range e.sigils {
		p := s.priority(now)
		if p < worstPriority {
			worstPriority = p
			worstID = id
		}
	}
	if worstID != "" {
		delete(e.sigils, worstID)
	}
}

// PriorityQueue returns live sigils sorted by priority, monotonically
// non-increasing (spec.md §8 invariant 6).
func (e *Engine) PriorityQueue() []View {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	views := make([]View, 0, len(e.sigils))
	for _, s := range e.sigils {
		views = append(views, View{ID: s.ID, Name: s.Name, House: s.House, Priority: s.priority(now)})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Priority > views[j].Priority })
	return views
}

// ExecuteNext pops the highest-priority sigil off the live table, routes
// it, and updates bookkeeping. Skips (returns Executed=false) if inGrace is true or the
// queue is empty, per spec.md §8 invariant 8.
func (e *Engine) ExecuteNext(inGrace bool) ExecutionResult {
	if inGrace {
		return ExecutionResult{}
	}

	e.mu.Lock()
	now := time.Now()
	var best *Sigil
	bestPriority := math.Inf(-1)
	for _, s := range e.sigils {
		p := s.priority(now)
		if p > bestPriority {
			bestPriority = p
			best = s
		}
	}
	if best == nil {
		e.mu.Unlock()
		return ExecutionResult{}
	}

	target, err := RoutingTarget(best.House, best.Temp, best.ConvolutionLevel)
	if err != nil {
		target = ""
	}

	best.ExecutionCount++
	best.LastExecuted = &now
	best.DecayAccumulator += 0.1
	heatDelta := best.Temp / 10

	result := ExecutionResult{
		ID:        best.ID,
		Name:      best.Name,
		House:     best.House,
		RoutedTo:  target,
		HeatDelta: heatDelta,
		Executed:  true,
	}
	delete(e.sigils, best.ID)
	routing := e.routing
	bus := e.bus
	e.mu.Unlock()

	if routing != nil {
		routing(result.ID, result.House, result.RoutedTo)
	}
	if bus != nil {
		bus.Publish(eventbus.Event{Kind: eventbus.KindSigilExecuted, Payload: result})
	}
	return result
}

// Decay applies delta = base_rate*(1+current_heat/100)/(1+convolution/20)
// to every sigil's accumulator, then removes sigils that have died (per
// Sigil.IsAlive).
func (e *Engine) Decay(currentHeat float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	for id, s := range e.sigils {
		delta := decayBaseRate * (1 + currentHeat/100) / (1 + float64(s.ConvolutionLevel)/20)
		s.DecayAccumulator += delta

		if s.DecayAccumulator >= 1.0 || now.Sub(s.CreatedAt) >= 2*s.BaseLifespan {
			delete(e.sigils, id)
		}
	}
}

// LiveCount returns the number of currently live sigils.
func (e *Engine) LiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sigils)
}

// Snapshot returns a copy of every live sigil, for StateSnapshot's
// system_state.json sigil table.
func (e *Engine) Snapshot() []Sigil {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Sigil, 0, len(e.sigils))
	for _, s := range e.sigils {
		out = append(out, *s)
	}
	return out
}

// PruneExcept removes all sigils whose house is not in keep. Used by
// EMERGENCY_RESET (keep={meta}); Meta-Reflex's prune_sigils uses
// PruneUnexecutedOutsideHouses instead.
func (e *Engine) PruneExcept(keep map[House]bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, s := range e.sigils {
		if !keep[s.House] {
			delete(e.sigils, id)
		}
	}
}

// PruneUnexecutedOutsideHouses removes sigils whose house is not in keep
// AND whose execution_count is 0 — the exact rule for Meta-Reflex's
// prune_sigils command (spec.md §4.6).
func (e *Engine) PruneUnexecutedOutsideHouses(keep map[House]bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, s := range e.sigils {
		if !keep[s.House] && s.ExecutionCount == 0 {
			delete(e.sigils, id)
		}
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
