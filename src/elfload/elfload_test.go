package elfload_test

import (
	"testing"

	"elfload"
	"fixtures"
	"layout"
	"mem"
	"pagetable"
)

func TestLoadMapsHelloFixture(t *testing.T) {
	phys := mem.Phys_init(64)
	root := pagetable.NewRoot(phys)

	entry, err := elfload.Load(phys, root, fixtures.Hello())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if entry < layout.UserStart || entry >= layout.UserEnd {
		t.Fatalf("entry %#x outside the user address range", entry)
	}

	pa, flags, ok := pagetable.Lookup(phys, root, layout.UserStart)
	if !ok {
		t.Fatalf("Lookup: segment base not mapped")
	}
	if flags&pagetable.X == 0 {
		t.Fatalf("segment flags %v, want executable", flags)
	}
	if flags&pagetable.W != 0 {
		t.Fatalf("segment flags %v, want not writable (W^X)", flags)
	}
	if pa == 0 {
		t.Fatalf("mapped physical address is zero")
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	phys := mem.Phys_init(8)
	root := pagetable.NewRoot(phys)
	_, err := elfload.Load(phys, root, []byte("not an elf file"))
	if err != elfload.ErrBadMagic {
		t.Fatalf("Load on garbage = %v, want ErrBadMagic", err)
	}
}

func TestLoadRejectsTruncatedHeader(t *testing.T) {
	phys := mem.Phys_init(8)
	root := pagetable.NewRoot(phys)
	_, err := elfload.Load(phys, root, []byte{0x7f, 'E', 'L', 'F'})
	if err == nil {
		t.Fatalf("Load on a truncated header did not error")
	}
}
