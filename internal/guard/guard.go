// Package guard centralizes the four error kinds from the error-handling
// design and the bounds/invariant checks the scheduler runs once per tick.
//
// Errors never escape a tick as panics or unconverted error values; every
// failure observed by a subsystem is first classified into one of the Kind
// values below. The scheduler logs every kind, stores it in a tick_error
// chunk, attaches it to the tick result and keeps looping; beyond that:
//
//   - Transient:  counts toward the three-in-a-row escalation below.
//   - Validation: no further handling.
//   - Invariant:  triggers emergency_cooldown and an EMERGENCY_RESET sigil.
//   - Fatal:      no further handling; the scheduler neither stops nor
//     writes a crash snapshot.
//
// Three consecutive Transient errors of the same kind escalate to Invariant
// (tracked by the caller, typically the scheduler, via Escalator).
package guard

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Kind enumerates the error-handling design's four error classes.
type Kind string

const (
	Transient  Kind = "transient"
	Validation Kind = "validation"
	Invariant  Kind = "invariant"
	Fatal      Kind = "fatal"
)

// Violation is a classified runtime failure with enough context to audit
// after the fact. It implements error.
type Violation struct {
	Kind      Kind                   `json:"kind"`
	Subsystem string                 `json:"subsystem"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s violation in %s: %s", v.Kind, v.Subsystem, v.Message)
}

// New constructs a Violation of the given kind.
func New(kind Kind, subsystem, message string, context map[string]interface{}) *Violation {
	return &Violation{
		Kind:      kind,
		Subsystem: subsystem,
		Message:   message,
		Timestamp: time.Now(),
		Context:   context,
	}
}

// Transientf builds a Transient Violation with a formatted message.
func Transientf(subsystem, format string, args ...interface{}) *Violation {
	return New(Transient, subsystem, fmt.Sprintf(format, args...), nil)
}

// Validationf builds a Validation Violation with a formatted message.
func Validationf(subsystem, format string, args ...interface{}) *Violation {
	return New(Validation, subsystem, fmt.Sprintf(format, args...), nil)
}

// Invariantf builds an Invariant Violation with a formatted message.
func Invariantf(subsystem, format string, args ...interface{}) *Violation {
	return New(Invariant, subsystem, fmt.Sprintf(format, args...), nil)
}

// Fatalf builds a Fatal Violation with a formatted message.
func Fatalf(subsystem, format string, args ...interface{}) *Violation {
	return New(Fatal, subsystem, fmt.Sprintf(format, args...), nil)
}

// CheckBounded returns an Invariant Violation if value is NaN/Inf or falls
// outside [min,max]. Used for heat, entropy, and other bounded scalars.
func CheckBounded(subsystem, field string, value, min, max float64) *Violation {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return New(Invariant, subsystem, fmt.Sprintf("%s is NaN or Inf: %v", field, value),
			map[string]interface{}{"field": field, "value": value})
	}
	if value < min || value > max {
		return New(Invariant, subsystem, fmt.Sprintf("%s %.4f outside bounds [%.4f, %.4f]", field, value, min, max),
			map[string]interface{}{"field": field, "value": value, "min": min, "max": max})
	}
	return nil
}

// CheckMonotonic returns an Invariant Violation if ts is before last.
// Callers pass the previously observed timestamp for the same clock.
func CheckMonotonic(subsystem string, ts, last time.Time) *Violation {
	if ts.Before(last) {
		return New(Invariant, subsystem, fmt.Sprintf("time moved backwards: %s < %s", ts.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano)),
			map[string]interface{}{"current": ts, "previous": last})
	}
	return nil
}

// Escalator tracks consecutive same-kind Transient failures per subsystem
// and reports when three in a row warrant escalation to Invariant.
// Grounded on the three-consecutive-failure rule the tick scheduler itself
// applies to whole-cycle failures (spec §4.1); here it is generalized to
// any subsystem's own error stream.
type Escalator struct {
	mu      sync.Mutex
	streaks map[string]int
	lastOf  map[string]Kind
}

// NewEscalator returns a ready-to-use Escalator.
func NewEscalator() *Escalator {
	return &Escalator{
		streaks: make(map[string]int),
		lastOf:  make(map[string]Kind),
	}
}

// Observe records a Violation for subsystem and returns true once three
// consecutive Transient violations of the same kind have been observed,
// signaling the caller should re-classify the failure as Invariant.
// Any non-Transient observation, or a change in kind, resets the streak.
func (e *Escalator) Observe(subsystem string, kind Kind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if kind != Transient {
		delete(e.streaks, subsystem)
		delete(e.lastOf, subsystem)
		return false
	}

	if e.lastOf[subsystem] != kind {
		e.streaks[subsystem] = 0
		e.lastOf[subsystem] = kind
	}
	e.streaks[subsystem]++

	if e.streaks[subsystem] >= 3 {
		e.streaks[subsystem] = 0
		return true
	}
	return false
}

// Reset clears the streak for a subsystem, e.g. after a successful cycle.
func (e *Escalator) Reset(subsystem string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.streaks, subsystem)
	delete(e.lastOf, subsystem)
}
