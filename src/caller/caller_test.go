package caller

import (
	"strings"
	"testing"
)

func TestTraceIncludesThisFrame(t *testing.T) {
	trace := Trace(0)
	if !strings.Contains(trace, "caller_test.go") {
		t.Fatalf("Trace(0) = %q, want it to mention this test file", trace)
	}
}

func TestDistinctFirstCallTrue(t *testing.T) {
	var dc Distinct_caller_t
	dc.Enabled = true
	first, trace := dc.Distinct()
	if !first {
		t.Fatalf("Distinct() on a fresh tracker reported not-first")
	}
	if trace == "" {
		t.Fatalf("Distinct() returned an empty trace on first sighting")
	}
}

func TestDistinctSamePathOnlyOnce(t *testing.T) {
	var dc Distinct_caller_t
	dc.Enabled = true
	callSamePath := func() (bool, string) { return dc.Distinct() }

	// Both calls go through one call site, so the recorded return PCs,
	// and therefore the path, are identical.
	var got [2]bool
	for i := range got {
		got[i], _ = callSamePath()
	}
	first, second := got[0], got[1]
	if !first {
		t.Fatalf("first call from this path reported not-first")
	}
	if second {
		t.Fatalf("second call from the identical path reported first again")
	}
	if dc.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 distinct path recorded", dc.Len())
	}
}

func TestDistinctDisabledAlwaysFalse(t *testing.T) {
	var dc Distinct_caller_t
	first, trace := dc.Distinct()
	if first || trace != "" {
		t.Fatalf("Distinct() on a disabled tracker = %v, %q, want false, \"\"", first, trace)
	}
}

func TestDistinctUnrelatedWhitelistEntryNotSuppressed(t *testing.T) {
	var dc Distinct_caller_t
	dc.Enabled = true
	dc.Whitel = map[string]bool{"module/caller.TestDistinctUnrelatedWhitelistEntryNotSuppressed": true}
	// Whichever function actually appears in the stack won't match this
	// made-up name, so Distinct still reports the call as new; this just
	// exercises the whitelist lookup path without asserting a brittle
	// fully-qualified function name.
	if first, _ := dc.Distinct(); !first {
		t.Fatalf("Distinct() with an unrelated whitelist entry reported not-first")
	}
}
