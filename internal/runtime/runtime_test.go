package runtime

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewRuntimeDefaultsEscalator(t *testing.T) {
	rt := New("node-1", zap.NewNop(), nil, nil)
	if rt.Escalator == nil {
		t.Fatal("expected a ready-to-use Escalator")
	}
}

func TestSubReturnsNopLoggerWhenNil(t *testing.T) {
	rt := &Runtime{}
	log := rt.Sub("pulse")
	if log == nil {
		t.Fatal("expected a non-nil logger even with no base logger configured")
	}
}

type stubSubsystem struct{ ticks int }

func (s *stubSubsystem) OnTick(snap TickSnapshot) Effect {
	s.ticks++
	return Effect{Kind: "ok"}
}

func (s *stubSubsystem) Snapshot() View { return s.ticks }

func TestSubsystemInterfaceSatisfiedByStub(t *testing.T) {
	var sub Subsystem = &stubSubsystem{}
	eff := sub.OnTick(TickSnapshot{TickNumber: 1})
	if eff.Kind != "ok" {
		t.Fatalf("expected ok effect, got %+v", eff)
	}
	if sub.Snapshot().(int) != 1 {
		t.Fatalf("expected snapshot to reflect one tick, got %v", sub.Snapshot())
	}
}
