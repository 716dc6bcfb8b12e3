// Package runtime defines the explicit capability set every tick-driven
// subsystem implements, and the Runtime context that replaces global
// singletons (spec.md §9 design notes).
//
// Every subsystem is constructed with its dependencies passed explicitly
// (loggers, the event bus, the guard escalator) rather than reaching for
// package-level state — the same "no global logger/registry" discipline
// the ambient stack follows.
package runtime

import (
	"go.uber.org/zap"

	"github.com/jso122-2/dawncore/internal/eventbus"
	"github.com/jso122-2/dawncore/internal/guard"
	"github.com/jso122-2/dawncore/internal/observability"
)

// TickSnapshot is the read-only per-tick input handed to every Subsystem.
// The scheduler is the only producer; subsystems never mutate it.
type TickSnapshot struct {
	TickNumber uint64
	Heat       float64
	Zone       string
	Entropy    float64
	SCUP       float64
	InGrace    bool
}

// Effect is the return value of on_tick: an enumerated outcome rather than
// an exception, per the "exception-driven control flow for non-errors"
// design note.
type Effect struct {
	Kind  string // subsystem-defined effect tag, e.g. "ok", "skipped", "escalated"
	Error *guard.Violation
}

// View is the read-only output of snapshot(): whatever a subsystem wants
// to expose for diagnostics/export, as an opaque value the caller type-asserts.
type View interface{}

// Subsystem is the explicit capability set the scheduler depends on,
// replacing dynamic dispatch/duck-typing over concrete subsystem types.
type Subsystem interface {
	OnTick(snap TickSnapshot) Effect
	Snapshot() View
}

// Runtime is the single explicit context passed into every subsystem at
// construction, replacing pervasive global singletons.
type Runtime struct {
	NodeID    string
	Logger    *zap.Logger
	Bus       *eventbus.Bus
	Metrics   *observability.Metrics
	Escalator *guard.Escalator
}

// New constructs a Runtime. logger/bus/metrics must be non-nil in
// production; tests may pass minimal stand-ins.
func New(nodeID string, logger *zap.Logger, bus *eventbus.Bus, metrics *observability.Metrics) *Runtime {
	return &Runtime{
		NodeID:    nodeID,
		Logger:    logger,
		Bus:       bus,
		Metrics:   metrics,
		Escalator: guard.NewEscalator(),
	}
}

// Sub returns a child logger named for subsystem, so every subsystem logs
// with its own name without reaching for a package-level logger.
func (r *Runtime) Sub(subsystem string) *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger.Named(subsystem)
}
