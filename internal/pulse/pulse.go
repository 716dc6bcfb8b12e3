// Package pulse owns the process-wide scalar heat value, the derived zone,
// and surge/grace bookkeeping (spec.md §3, §4.2).
//
// Grounded on internal/escalation/state_machine.go's ProcessState: a
// mutex-protected struct with an enteredAt timestamp, Escalate/Decay-style
// methods, generalized here from a 6-state isolation ladder to the 3-zone
// CALM/ACTIVE/SURGE ladder. The EWMA heat smoothing is the same style of
// accumulator as internal/escalation/pressure.go's pressure tracker.
package pulse

import (
	"math"
	"sync"
	"time"

	"github.com/jso122-2/dawncore/internal/eventbus"
)

// Zone is a qualitative heat band.
type Zone string

const (
	Calm   Zone = "CALM"
	Active Zone = "ACTIVE"
	Surge  Zone = "SURGE"
)

// ZoneFor derives a Zone from a heat value, a pure function of heat per
// invariant 3 in spec.md §8: heat < 40 is CALM, [40,60) is ACTIVE, >= 60
// is SURGE.
func ZoneFor(heat float64) Zone {
	switch {
	case heat >= 60:
		return Surge
	case heat >= 40:
		return Active
	default:
		return Calm
	}
}

// Snapshot is a read-only, pass-by-value view of pulse state handed to
// other subsystems once per tick.
type Snapshot struct {
	Heat         float64
	Zone         Zone
	TickInterval time.Duration
	GraceUntil   time.Time
}

// Delta describes the before/after effect of a heat update, published as
// eventbus.KindPulseDelta.
type Delta struct {
	Before       float64
	After        float64
	ZoneBefore   Zone
	ZoneAfter    Zone
	TickNumber   uint64
}

const (
	minInterval = 100 * time.Millisecond
	maxInterval = 5 * time.Second

	graceBase        = 30.0
	graceMax         = 300.0
	surgeWindow      = 10 * time.Minute
	naturalDecayRate = 0.85
	maxDeltaPerStep  = 15.0
)

type surgeRecord struct {
	openedAt time.Time
	closedAt time.Time
}

// Controller owns heat, zone, and surge/grace state. It is the only writer
// of these fields; all other subsystems read Snapshot values.
type Controller struct {
	mu sync.Mutex

	heat         float64
	zone         Zone
	graceUntil   time.Time
	updatedThisTick bool

	surgeOpen    bool
	surgeOpenAt  time.Time
	surges       []surgeRecord // closed surges, for the 10-minute window

	bus *eventbus.Bus
}

// NewController returns a Controller seeded at the given initial heat.
func NewController(initialHeat float64, bus *eventbus.Bus) *Controller {
	h := clamp(initialHeat, 0, 100)
	return &Controller{
		heat: h,
		zone: ZoneFor(h),
		bus:  bus,
	}
}

// Snapshot returns a copy of the current pulse state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Heat:         c.heat,
		Zone:         c.zone,
		TickInterval: c.intervalLocked(),
		GraceUntil:   c.graceUntil,
	}
}

// UpdateHeat smooths new into the current heat (smoothed = 0.2*new +
// 0.8*current), clamps the per-update delta to ±15, recomputes zone, and
// opens/closes surge bookkeeping on zone transitions into/out of SURGE.
func (c *Controller) UpdateHeat(new float64, tickNumber uint64) Delta {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.heat
	zoneBefore := c.zone

	smoothed := 0.2*new + 0.8*c.heat
	after := c.applyCappedDelta(before, smoothed)

	c.heat = after
	c.updatedThisTick = true
	c.zone = ZoneFor(after)

	c.handleZoneTransition(zoneBefore, c.zone)

	delta := Delta{Before: before, After: after, ZoneBefore: zoneBefore, ZoneAfter: c.zone, TickNumber: tickNumber}
	c.publishDelta(delta)
	c.publishZoneTransition(zoneBefore, c.zone, tickNumber)
	return delta
}

// RegulateHeat takes one step toward target at the given speed in (0,1],
// ignoring smoothing but still respecting the ±15 per-update cap.
func (c *Controller) RegulateHeat(target float64, speed float64, tickNumber uint64) Delta {
	c.mu.Lock()
	defer c.mu.Unlock()

	if speed <= 0 {
		speed = 1
	}
	if speed > 1 {
		speed = 1
	}

	before := c.heat
	zoneBefore := c.zone

	step := before + speed*(target-before)
	after := c.applyCappedDelta(before, step)

	c.heat = after
	c.updatedThisTick = true
	c.zone = ZoneFor(after)
	c.handleZoneTransition(zoneBefore, c.zone)

	delta := Delta{Before: before, After: after, ZoneBefore: zoneBefore, ZoneAfter: c.zone, TickNumber: tickNumber}
	c.publishDelta(delta)
	c.publishZoneTransition(zoneBefore, c.zone, tickNumber)
	return delta
}

// EmergencyCooldown overrides smoothing and the rate limit once, forcing
// heat toward target (default 25), and opens a 60s grace period regardless
// of the current zone.
//
// Open Question decision: when called during an existing grace period,
// the window is EXTENDED (max of current graceUntil and now+60s), never
// shrunk — see SPEC_FULL.md §11.
func (c *Controller) EmergencyCooldown(target float64, tickNumber uint64) Delta {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.heat
	zoneBefore := c.zone

	after := clamp(target, 0, 100)
	c.heat = after
	c.updatedThisTick = true
	c.zone = ZoneFor(after)

	newGrace := time.Now().Add(60 * time.Second)
	if newGrace.After(c.graceUntil) {
		c.graceUntil = newGrace
	}

	delta := Delta{Before: before, After: after, ZoneBefore: zoneBefore, ZoneAfter: c.zone, TickNumber: tickNumber}
	c.publishDelta(delta)
	c.publishZoneTransition(zoneBefore, c.zone, tickNumber)
	return delta
}

// ApplyGracePeriod returns the remaining grace seconds (0 if none active).
func (c *Controller) ApplyGracePeriod() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := time.Until(c.graceUntil).Seconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// InGrace reports whether now is before graceUntil.
func (c *Controller) InGrace() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.graceUntil)
}

// GraceUntil returns the current grace deadline.
func (c *Controller) GraceUntil() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graceUntil
}

// NaturalDecay multiplies heat by 0.85. Per the Open Question decision in
// SPEC_FULL.md §11, the caller (scheduler) must invoke this only when no
// UpdateHeat/RegulateHeat/EmergencyCooldown occurred this tick; Controller
// tracks that via updatedThisTick and EndTick.
func (c *Controller) NaturalDecay(tickNumber uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.updatedThisTick {
		return
	}

	before := c.heat
	zoneBefore := c.zone
	after := clamp(before*naturalDecayRate, 0, 100)

	c.heat = after
	c.zone = ZoneFor(after)
	c.handleZoneTransition(zoneBefore, c.zone)

	delta := Delta{Before: before, After: after, ZoneBefore: zoneBefore, ZoneAfter: c.zone, TickNumber: tickNumber}
	c.publishDelta(delta)
	c.publishZoneTransition(zoneBefore, c.zone, tickNumber)
}

// EndTick resets the per-tick "was heat updated" flag. Called by the
// scheduler at the end of every cycle, after NaturalDecay has run.
func (c *Controller) EndTick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updatedThisTick = false
}

// handleZoneTransition opens a surge record on CALM/ACTIVE->SURGE and
// closes it (computing grace) on SURGE->CALM/ACTIVE. Must be called with
// mu held.
func (c *Controller) handleZoneTransition(from, to Zone) {
	if from != Surge && to == Surge {
		c.surgeOpen = true
		c.surgeOpenAt = time.Now()
		return
	}
	if from == Surge && to != Surge && c.surgeOpen {
		closedAt := time.Now()
		c.surges = append(c.surges, surgeRecord{openedAt: c.surgeOpenAt, closedAt: closedAt})
		c.surgeOpen = false

		surgeDuration := closedAt.Sub(c.surgeOpenAt).Seconds()
		surgeCount := c.countRecentSurgesLocked(closedAt)
		grace := graceBase * math.Pow(1.5, float64(surgeCount-1)) * (1 + surgeDuration/60)
		grace = clamp(grace, graceBase, graceMax)

		newGrace := closedAt.Add(time.Duration(grace * float64(time.Second)))
		if newGrace.After(c.graceUntil) {
			c.graceUntil = newGrace
		}
	}
}

// countRecentSurgesLocked counts surges (including the one just closed)
// whose open time falls within the last 10 minutes of now. Must be called
// with mu held.
func (c *Controller) countRecentSurgesLocked(now time.Time) int {
	cutoff := now.Add(-surgeWindow)
	count := 0
	for _, s := range c.surges {
		if s.openedAt.After(cutoff) {
			count++
		}
	}
	if count < 1 {
		count = 1
	}
	return count
}

// applyCappedDelta clamps |target-before| to maxDeltaPerStep, then clamps
// the result to [0,100]. Must be called with mu held.
func (c *Controller) applyCappedDelta(before, target float64) float64 {
	delta := target - before
	if delta > maxDeltaPerStep {
		delta = maxDeltaPerStep
	}
	if delta < -maxDeltaPerStep {
		delta = -maxDeltaPerStep
	}
	return clamp(before+delta, 0, 100)
}

// intervalLocked computes the tick interval from heat per the interval
// law: clamp(0.1, 5.0, max*exp(-4*heat/100) + min), with a zone modifier
// (SURGE*0.8, CALM*1.2). Must be called with mu held.
func (c *Controller) intervalLocked() time.Duration {
	heatFrac := c.heat / 100
	raw := maxInterval.Seconds()*math.Exp(-4*heatFrac) + minInterval.Seconds()

	switch c.zone {
	case Surge:
		raw *= 0.8
	case Calm:
		raw *= 1.2
	}

	raw = clampF(raw, minInterval.Seconds(), maxInterval.Seconds())
	return time.Duration(raw * float64(time.Second))
}

func (c *Controller) publishDelta(d Delta) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Kind: eventbus.KindPulseDelta, TickNumber: d.TickNumber, Payload: d})
}

func (c *Controller) publishZoneTransition(from, to Zone, tickNumber uint64) {
	if c.bus == nil || from == to {
		return
	}
	c.bus.Publish(eventbus.Event{
		Kind:       eventbus.KindZoneTransition,
		TickNumber: tickNumber,
		Payload:    ZoneTransition{From: from, To: to},
	})
}

// ZoneTransition is the eventbus.KindZoneTransition payload.
type ZoneTransition struct {
	From Zone
	To   Zone
}

func clamp(v, min, max float64) float64 {
	if math.IsNaN(v) {
		return min
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampF(v, min, max float64) float64 {
	return clamp(v, min, max)
}
