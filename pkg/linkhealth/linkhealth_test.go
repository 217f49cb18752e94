package linkhealth

import (
	"testing"

	"github.com/atomozero/meshcore-go/pkg/clock"
)

func TestAllowClosedByDefault(t *testing.T) {
	c := clock.NewVirtual()
	b := NewDefaultBreakers(c)
	if !b.Allow(0x01) {
		t.Error("expected a never-seen peer to be allowed")
	}
	if b.StateOf(0x01) != Closed {
		t.Errorf("expected Closed, got %v", b.StateOf(0x01))
	}
}

func TestFirstBadSampleStaysClosed(t *testing.T) {
	c := clock.NewVirtual()
	b := NewDefaultBreakers(c)
	b.RecordSample(0xAA, -50) // below -40 threshold
	if b.StateOf(0xAA) != Closed {
		t.Errorf("expected first bad sample to stay Closed, got %v", b.StateOf(0xAA))
	}
}

func TestSecondConsecutiveBadSampleOpens(t *testing.T) {
	c := clock.NewVirtual()
	b := NewDefaultBreakers(c)
	b.RecordSample(0xAA, -50)
	b.RecordSample(0xAA, -50)
	if b.StateOf(0xAA) != Open {
		t.Fatalf("expected Open after second consecutive bad sample, got %v", b.StateOf(0xAA))
	}
	if b.Allow(0xAA) {
		t.Error("expected Open breaker to block")
	}
}

func TestGoodSampleClosesOpenBreaker(t *testing.T) {
	c := clock.NewVirtual()
	b := NewDefaultBreakers(c)
	b.RecordSample(0xAA, -50)
	b.RecordSample(0xAA, -50) // Open
	b.RecordSample(0xAA, 20)  // good sample
	if b.StateOf(0xAA) != Closed {
		t.Errorf("expected Closed after good sample, got %v", b.StateOf(0xAA))
	}
}

func TestTickMovesOpenToHalfOpenAfterTimeout(t *testing.T) {
	c := clock.NewVirtual()
	b := NewDefaultBreakers(c)
	b.RecordSample(0xAA, -50)
	b.RecordSample(0xAA, -50) // Open

	c.Advance(OpenTimeoutMS + 1)
	b.Tick()
	if b.StateOf(0xAA) != HalfOpen {
		t.Errorf("expected HalfOpen after timeout tick, got %v", b.StateOf(0xAA))
	}
}

func TestTickBeforeTimeoutStaysOpen(t *testing.T) {
	c := clock.NewVirtual()
	b := NewDefaultBreakers(c)
	b.RecordSample(0xAA, -50)
	b.RecordSample(0xAA, -50) // Open

	c.Advance(OpenTimeoutMS - 1)
	b.Tick()
	if b.StateOf(0xAA) != Open {
		t.Errorf("expected still Open before timeout elapses, got %v", b.StateOf(0xAA))
	}
}

func TestOpenCount(t *testing.T) {
	c := clock.NewVirtual()
	b := NewDefaultBreakers(c)
	if b.OpenCount() != 0 {
		t.Fatalf("expected 0 open breakers initially, got %d", b.OpenCount())
	}
	b.RecordSample(0xAA, -50)
	b.RecordSample(0xAA, -50)
	if b.OpenCount() != 1 {
		t.Errorf("expected 1 open breaker, got %d", b.OpenCount())
	}
}

func TestTXPowerDefaultNoNeighbours(t *testing.T) {
	tx := NewTXPower()
	if tx.Current() != DefaultTXPowerDBm {
		t.Fatalf("expected default power %d, got %d", DefaultTXPowerDBm, tx.Current())
	}
	if got := tx.Evaluate(nil); got != NoChange {
		t.Errorf("expected NoChange with no neighbours, got %d", got)
	}
}

func TestTXPowerHighSNRReducesPower(t *testing.T) {
	tx := NewTXPower()
	got := tx.Evaluate([]int32{60, 52}) // avg 56 > HighSNRQuarterDB
	want := DefaultTXPowerDBm - TXPowerStepDBm
	if got != want || tx.Current() != want {
		t.Errorf("expected power reduced to %d, got %d (current=%d)", want, got, tx.Current())
	}
}

func TestTXPowerLowSNRIncreasesPower(t *testing.T) {
	tx := &TXPower{current: 10}
	got := tx.Evaluate([]int32{-30, -28}) // avg -29 < LowSNRQuarterDB
	want := 10 + TXPowerStepDBm
	if got != want {
		t.Errorf("expected power increased to %d, got %d", want, got)
	}
}

func TestTXPowerMiddleRangeNoChange(t *testing.T) {
	tx := NewTXPower()
	got := tx.Evaluate([]int32{10, 20})
	if got != NoChange || tx.Current() != DefaultTXPowerDBm {
		t.Errorf("expected NoChange at default power, got %d (current=%d)", got, tx.Current())
	}
}

func TestTXPowerFloorsAtMin(t *testing.T) {
	tx := &TXPower{current: MinTXPowerDBm}
	got := tx.Evaluate([]int32{60})
	if got != NoChange || tx.Current() != MinTXPowerDBm {
		t.Errorf("expected no change already at floor, got %d (current=%d)", got, tx.Current())
	}
}

func TestTXPowerCeilingsAtMax(t *testing.T) {
	tx := NewTXPower() // already at DefaultTXPowerDBm == MaxTXPowerDBm
	got := tx.Evaluate([]int32{-30})
	if got != NoChange || tx.Current() != DefaultTXPowerDBm {
		t.Errorf("expected no change already at ceiling, got %d (current=%d)", got, tx.Current())
	}
}

func TestTXPowerSuccessiveReductions(t *testing.T) {
	tx := NewTXPower()
	p1 := tx.Evaluate([]int32{60})
	if p1 != DefaultTXPowerDBm-TXPowerStepDBm {
		t.Fatalf("expected first reduction to %d, got %d", DefaultTXPowerDBm-TXPowerStepDBm, p1)
	}
	p2 := tx.Evaluate([]int32{60})
	if p2 != DefaultTXPowerDBm-2*TXPowerStepDBm {
		t.Errorf("expected second reduction to %d, got %d", DefaultTXPowerDBm-2*TXPowerStepDBm, p2)
	}
}
