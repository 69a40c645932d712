package cap

import (
	"testing"

	"layout"
	"mem"
	"pagetable"
)

// setupCapPages builds a scratch address space with every pid's own
// capability page mapped read-write for itself and read-only for
// everyone else, matching proc.CreateProcess's cross-mapping rule
// (§4.8).
func setupCapPages(t *testing.T, pids ...layout.PID) (*mem.Physmem_t, map[layout.PID]mem.Pa_t) {
	t.Helper()
	phys := mem.Phys_init(64)
	roots := make(map[layout.PID]mem.Pa_t)
	for _, pid := range pids {
		roots[pid] = pagetable.NewRoot(phys)
	}
	for _, owner := range pids {
		pa, err := phys.AllocPages(1)
		if err != nil {
			t.Fatalf("AllocPages: %v", err)
		}
		for _, viewer := range pids {
			flags := pagetable.ReadOnly
			if viewer == owner {
				flags = pagetable.ReadWrite
			}
			pagetable.MapPages(phys, roots[viewer], layout.CapPageBase(int(owner)), pa, flags, 1)
		}
	}
	return phys, roots
}

func TestGrantAndValidateDirect(t *testing.T) {
	const a, b layout.PID = 0, 1
	phys, roots := setupCapPages(t, a, b)
	e := NewEngine()

	grant := e.Grant(phys, roots[a], a, b)
	root, err := e.Validate(phys, roots[b], a, grant, b)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if root != grant {
		t.Fatalf("Validate returned %#x, want root grant %#x", root, grant)
	}
}

func TestValidateWrongClaimerRejected(t *testing.T) {
	const a, b, mallory layout.PID = 0, 1, 2
	phys, roots := setupCapPages(t, a, b, mallory)
	e := NewEngine()

	grant := e.Grant(phys, roots[a], a, b)
	if _, err := e.Validate(phys, roots[mallory], a, grant, mallory); err != ErrUnauthorized {
		t.Fatalf("Validate by non-grantee = %v, want ErrUnauthorized", err)
	}
}

func TestForwardChain(t *testing.T) {
	const a, b, c layout.PID = 0, 1, 2
	phys, roots := setupCapPages(t, a, b, c)
	e := NewEngine()

	grant := e.Grant(phys, roots[a], a, b)
	forward := e.Forward(phys, roots[b], b, c, grant)

	root, err := e.Validate(phys, roots[c], a, forward, c)
	if err != nil {
		t.Fatalf("Validate forwarded chain: %v", err)
	}
	if root != grant {
		t.Fatalf("Validate(forward) returned %#x, want original grant %#x", root, grant)
	}

	// b itself can still validate its own direct grant.
	if root, err := e.Validate(phys, roots[b], a, grant, b); err != nil || root != grant {
		t.Fatalf("Validate(grant) by original grantee = %#x, %v", root, err)
	}
}

func TestValidateNotMyCapability(t *testing.T) {
	const a, b, c layout.PID = 0, 1, 2
	phys, roots := setupCapPages(t, a, b, c)
	e := NewEngine()

	grant := e.Grant(phys, roots[a], a, b)
	// b claims a's grant as if b itself were the certifier.
	if _, err := e.Validate(phys, roots[b], b, grant, b); err != ErrNotMyCapability {
		t.Fatalf("Validate with wrong validatingPID = %v, want ErrNotMyCapability", err)
	}
}

func TestValidateBadAddress(t *testing.T) {
	const a layout.PID = 0
	phys, roots := setupCapPages(t, a)
	e := NewEngine()
	if _, err := e.Validate(phys, roots[a], a, 0, a); err != ErrBadCapability {
		t.Fatalf("Validate(addr=0) = %v, want ErrBadCapability", err)
	}
}

func TestSetGetMeta(t *testing.T) {
	const a, b layout.PID = 0, 1
	phys, roots := setupCapPages(t, a, b)
	e := NewEngine()

	grant := e.Grant(phys, roots[a], a, b)
	e.SetMeta(a, grant, "hello.txt")
	v, ok := e.GetMeta(a, grant)
	if !ok || v != "hello.txt" {
		t.Fatalf("GetMeta = %v, %v, want \"hello.txt\", true", v, ok)
	}
}

func TestAllocSlotOverflowPanics(t *testing.T) {
	const a, b layout.PID = 0, 1
	phys, roots := setupCapPages(t, a, b)
	e := NewEngine()

	defer func() {
		if recover() == nil {
			t.Fatalf("Grant past CapSlotsPerPage did not panic")
		}
	}()
	for i := 0; i < layout.CapSlotsPerPage+1; i++ {
		e.Grant(phys, roots[a], a, b)
	}
}
