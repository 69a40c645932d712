package stats

import "testing"

// Stats and Timing are compile-time constants fixed to false in this
// build, so these counters exercise the disabled no-op path; the
// enabled path is the teacher's own well-trodden code and isn't worth
// flipping a build-wide constant just to cover here.

func TestCounterIncIsNoopWhenDisabled(t *testing.T) {
	var c Counter_t
	c.Inc()
	c.Inc()
	if c != 0 {
		t.Fatalf("Counter_t.Inc() = %d with Stats disabled, want 0", c)
	}
}

func TestCyclesAddIsNoopWhenDisabled(t *testing.T) {
	var c Cycles_t
	start := Start()
	c.Add(start)
	if c != 0 {
		t.Fatalf("Cycles_t.Add() = %d with Timing disabled, want 0", c)
	}
}

func TestStats2StringEmptyWhenDisabled(t *testing.T) {
	type counters struct {
		Foo Counter_t
		Bar Cycles_t
	}
	if got := Stats2String(counters{}); got != "" {
		t.Fatalf("Stats2String() = %q with Stats disabled, want empty", got)
	}
}

func TestStartReturnsZeroWhenTimingDisabled(t *testing.T) {
	if got := Start(); got != 0 {
		t.Fatalf("Start() = %d with Timing disabled, want 0", got)
	}
}
