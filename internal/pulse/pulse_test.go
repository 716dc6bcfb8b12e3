package pulse

import (
	"math"
	"testing"
	"time"

	"github.com/jso122-2/dawncore/internal/eventbus"
)

func TestZoneForBoundaries(t *testing.T) {
	cases := []struct {
		heat float64
		want Zone
	}{
		{0, Calm},
		{39.9, Calm},
		{40, Active},
		{59.9, Active},
		{60, Surge},
		{100, Surge},
	}
	for _, tc := range cases {
		if got := ZoneFor(tc.heat); got != tc.want {
			t.Errorf("ZoneFor(%v) = %v, want %v", tc.heat, got, tc.want)
		}
	}
}

func TestUpdateHeatCapsDeltaAt15(t *testing.T) {
	c := NewController(0, nil)
	d := c.UpdateHeat(100, 1)
	if math.Abs(d.After-d.Before) > 15.0001 {
		t.Fatalf("delta exceeded 15: before=%v after=%v", d.Before, d.After)
	}
}

func TestUpdateHeatNeverNaN(t *testing.T) {
	c := NewController(50, nil)
	d := c.UpdateHeat(math.NaN(), 1)
	if math.IsNaN(d.After) {
		t.Fatal("heat became NaN")
	}
}

func TestSurgeOpensAndClosesGrace(t *testing.T) {
	bus := eventbus.New(8)
	c := NewController(55, bus)

	c.UpdateHeat(80, 1)
	if c.Snapshot().Zone != Surge {
		t.Fatalf("expected SURGE zone after update, got %v", c.Snapshot().Zone)
	}

	// Drop heat back down to close the surge: 0.8*60 = 48 (ACTIVE) on the
	// first call.
	closing := time.Now()
	c.UpdateHeat(0, 2)
	c.UpdateHeat(0, 3)
	c.UpdateHeat(0, 4)
	c.UpdateHeat(0, 5)

	if c.Snapshot().Zone == Surge {
		t.Fatalf("expected the surge to close after heat drops, got %v", c.Snapshot().Zone)
	}
	if grace := c.GraceUntil().Sub(closing); grace < 30*time.Second {
		t.Fatalf("expected grace >= 30s on surge close, got %v", grace)
	}
}

func TestEmergencyCooldownExtendsExistingGrace(t *testing.T) {
	c := NewController(55, nil)
	c.UpdateHeat(90, 1) // 0.2*90+0.8*55 = 62: ACTIVE -> SURGE opens a surge
	c.UpdateHeat(10, 2) // 0.2*10+0.8*62 = 51.6: SURGE -> ACTIVE closes it, opening a ~30s grace

	before := c.GraceUntil()
	if before.IsZero() {
		t.Fatal("expected the surge close to open a grace window")
	}
	c.EmergencyCooldown(25, 3)
	after := c.GraceUntil()

	if after.Before(before) {
		t.Fatal("emergency cooldown must never shrink an in-progress grace window")
	}
}

func TestNaturalDecayOnlyWhenNoUpdateThisTick(t *testing.T) {
	c := NewController(50, nil)
	c.NaturalDecay(1)
	if c.Snapshot().Heat != 50*naturalDecayRate {
		t.Fatalf("expected decay to apply when no update occurred, got %v", c.Snapshot().Heat)
	}

	c2 := NewController(50, nil)
	c2.UpdateHeat(50, 1)
	afterUpdate := c2.Snapshot().Heat
	c2.NaturalDecay(1)
	if c2.Snapshot().Heat != afterUpdate {
		t.Fatal("natural decay must not apply in a tick where update_heat occurred")
	}
}

func TestIntervalWithinBounds(t *testing.T) {
	for _, heat := range []float64{0, 25, 40, 60, 100} {
		c := NewController(heat, nil)
		interval := c.Snapshot().TickInterval
		if interval < minInterval || interval > maxInterval {
			t.Errorf("heat=%v produced interval %v outside [%v,%v]", heat, interval, minInterval, maxInterval)
		}
	}
}

func TestEndTickResetsUpdateFlag(t *testing.T) {
	c := NewController(50, nil)
	c.UpdateHeat(80, 1)
	c.EndTick()
	before := c.Snapshot().Heat
	c.NaturalDecay(2)
	if c.Snapshot().Heat == before {
		t.Fatal("expected decay to apply after EndTick reset the flag")
	}
	_ = time.Now()
}
