// Package pagetable builds and walks three-level Sv39 page tables:
// 512-entry tables of 8-byte entries, a 39-bit virtual address space
// split into three 9-bit indices plus a 12-bit page offset.
package pagetable

import (
	"fmt"
	"unsafe"

	"mem"
)

// PageSize must match mem.PGSIZE; kept local so this package states
// its own contract explicitly.
const PageSize = mem.PGSIZE

// Flags is the set of Sv39 PTE permission bits this kernel uses.
type Flags uint64

const (
	V Flags = 1 << 0 // valid
	R Flags = 1 << 1 // readable
	W Flags = 1 << 2 // writable
	X Flags = 1 << 3 // executable
	U Flags = 1 << 4 // user-accessible
)

// Permission combinations named after the ELF loader's mapping rule
// (§4.3) and the kernel-memory mapping rule (§4.4).
const (
	ReadOnly            = V | R | U
	ReadWrite            = V | R | W | U
	ReadExecute          = V | R | X | U
	ReadWriteExecKernel  = V | R | W | X // no U: kernel-only
)

// entry is one Sv39 page table entry: physical page number in the high
// bits, permission flags in the low bits. An entry with R, W, and X all
// clear is a non-leaf pointer to the next level.
type entry uint64

func (e entry) valid() bool   { return Flags(e)&V != 0 }
func (e entry) isLeaf() bool  { return Flags(e)&(R|W|X) != 0 }
func (e entry) flags() Flags  { return Flags(e) & 0x1f }
func (e entry) ppn() uint64   { return uint64(e) >> 10 }

func makeEntry(ppn uint64, flags Flags) entry {
	return entry(ppn<<10) | entry(flags)
}

// table is the in-arena representation of one level of the page
// table: 512 entries, laid directly over a physical page.
type table [PageSize / 8]entry

func tableAt(phys *mem.Physmem_t, pa mem.Pa_t) *table {
	page := phys.Dmap(pa)
	return (*table)(unsafe.Pointer(&page[0]))
}

// NewRoot allocates a fresh, zeroed top-level table and returns its
// physical address.
func NewRoot(phys *mem.Physmem_t) mem.Pa_t {
	pa, err := phys.AllocPages(1)
	if err != nil {
		panic(fmt.Sprintf("pagetable: NewRoot: %v", err))
	}
	return pa
}

func vpn(va uintptr, level int) int {
	shift := 12 + 9*level
	return int((va >> shift) & 0x1ff)
}

// getOrCreateIndirect returns the next-level table reachable from t at
// index i, allocating and linking a fresh one if the slot is invalid.
func getOrCreateIndirect(phys *mem.Physmem_t, t *table, i int) *table {
	if !t[i].valid() {
		childPA, err := phys.AllocPages(1)
		if err != nil {
			panic(fmt.Sprintf("pagetable: out of memory creating table: %v", err))
		}
		t[i] = makeEntry(uint64(childPA)/uint64(PageSize), V)
		return tableAt(phys, childPA)
	}
	if t[i].isLeaf() {
		panic("pagetable: intermediate slot already holds a leaf")
	}
	childPA := mem.Pa_t(t[i].ppn() * uint64(PageSize))
	return tableAt(phys, childPA)
}

// mapOne maps one page. va and pa must be page-aligned. It panics if
// the target leaf is already valid — leaves are append-only in this
// design.
func mapOne(phys *mem.Physmem_t, root mem.Pa_t, va uintptr, pa mem.Pa_t, flags Flags) {
	if va%PageSize != 0 {
		panic("pagetable: unaligned virtual address")
	}
	if uintptr(pa)%PageSize != 0 {
		panic("pagetable: unaligned physical address")
	}

	t2 := tableAt(phys, root)
	t1 := getOrCreateIndirect(phys, t2, vpn(va, 2))
	t0 := getOrCreateIndirect(phys, t1, vpn(va, 1))

	i0 := vpn(va, 0)
	if t0[i0].valid() {
		panic("pagetable: double-mapping a leaf")
	}
	t0[i0] = makeEntry(uint64(pa)/uint64(PageSize), flags|V)
}

// MapPages maps count consecutive pages starting at va to count
// consecutive physical pages starting at pa, all with the same flags.
func MapPages(phys *mem.Physmem_t, root mem.Pa_t, va uintptr, pa mem.Pa_t, flags Flags, count int) {
	for i := 0; i < count; i++ {
		mapOne(phys, root, va+uintptr(i*PageSize), pa+mem.Pa_t(i*PageSize), flags)
	}
}

// Lookup translates va to its mapped physical address and permission
// flags. ok is false if no leaf is mapped for va.
func Lookup(phys *mem.Physmem_t, root mem.Pa_t, va uintptr) (pa mem.Pa_t, flags Flags, ok bool) {
	t2 := tableAt(phys, root)
	e2 := t2[vpn(va, 2)]
	if !e2.valid() {
		return 0, 0, false
	}
	t1 := tableAt(phys, mem.Pa_t(e2.ppn()*uint64(PageSize)))
	e1 := t1[vpn(va, 1)]
	if !e1.valid() {
		return 0, 0, false
	}
	t0 := tableAt(phys, mem.Pa_t(e1.ppn()*uint64(PageSize)))
	e0 := t0[vpn(va, 0)]
	if !e0.valid() || !e0.isLeaf() {
		return 0, 0, false
	}
	offset := mem.Pa_t(va % PageSize)
	return mem.Pa_t(e0.ppn()*uint64(PageSize)) + offset, e0.flags(), true
}
