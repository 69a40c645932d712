package limits

import "testing"

func TestTakenSucceedsWithinBudget(t *testing.T) {
	var s Sysatomic_t
	s.Given(10)
	if !s.Taken(4) {
		t.Fatalf("Taken(4) failed against a budget of 10")
	}
	if s.Value() != 6 {
		t.Fatalf("Value() = %d, want 6", s.Value())
	}
}

func TestTakenFailsLeavesBudgetUnchanged(t *testing.T) {
	var s Sysatomic_t
	s.Given(3)
	if s.Taken(5) {
		t.Fatalf("Taken(5) succeeded against a budget of 3")
	}
	if s.Value() != 3 {
		t.Fatalf("Value() = %d after a failed Taken, want unchanged 3", s.Value())
	}
}

func TestTakeGiveRoundTrip(t *testing.T) {
	var s Sysatomic_t
	s.Given(1)
	if !s.Take() {
		t.Fatalf("Take() failed with one unit available")
	}
	if s.Value() != 0 {
		t.Fatalf("Value() = %d, want 0", s.Value())
	}
	if s.Take() {
		t.Fatalf("Take() succeeded with nothing left")
	}
	s.Give()
	if s.Value() != 1 {
		t.Fatalf("Value() = %d after Give, want 1", s.Value())
	}
}

func TestMkSysLimitDefaults(t *testing.T) {
	lim := MkSysLimit()
	if lim.ProcessSlots != 8 {
		t.Errorf("ProcessSlots = %d, want 8", lim.ProcessSlots)
	}
	if lim.CapabilitySlots != 512 {
		t.Errorf("CapabilitySlots = %d, want 512", lim.CapabilitySlots)
	}
}
