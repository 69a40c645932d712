// Package cap implements the capability certificate engine: grant,
// forward, validate, and local_index, exactly as described in §4.8 of
// the design. A capability is the virtual address of one 8-byte
// certificate word inside a per-process capability page; its
// unforgeability comes entirely from the MMU permissions the process
// table sets up (own page read-write, everyone else's read-only), not
// from anything this package checks at runtime beyond address range
// and alignment.
package cap

import (
	"encoding/binary"
	"fmt"

	"hashtable"
	"layout"
	"mem"
	"pagetable"
)

var (
	ErrOverflow         = fmt.Errorf("cap: capability page full")
	ErrBadCapability    = fmt.Errorf("cap: address out of range or misaligned")
	ErrUnauthorized     = fmt.Errorf("cap: certificate does not authorize this claimer")
	ErrNotMyCapability  = fmt.Errorf("cap: root certifier is not the validating process")
	ErrCapabilityUnmapped = fmt.Errorf("cap: capability page not mapped in this address space")
)

// Engine owns the per-process bump index into each capability page and
// the local_index -> application metadata side tables. It holds no
// certificate data itself — that lives in the mapped physical pages —
// only the bookkeeping needed to allocate new slots and to let an
// owner attach meaning to a slot it issued.
type Engine struct {
	nextSlot [layout.ProcessCount]int
	meta     [layout.ProcessCount]*hashtable.Hashtable_t
}

// NewEngine returns a fresh capability engine for a new kernel run.
func NewEngine() *Engine {
	e := &Engine{}
	for i := range e.meta {
		e.meta[i] = hashtable.MkHash(16)
	}
	return e
}

// Grant writes a new grant certificate into owner's own capability
// page (via ownerRoot, the owner's address space, where that page must
// be mapped read-write) and returns its virtual address.
func (e *Engine) Grant(phys *mem.Physmem_t, ownerRoot mem.Pa_t, owner, grantee layout.PID) uintptr {
	if grantee < 0 || int(grantee) >= layout.ProcessCount {
		panic("cap: grantee PID out of range")
	}
	addr := e.allocSlot(phys, ownerRoot, owner)
	e.writeWord(phys, ownerRoot, addr, packGrant(grantee))
	return addr
}

// Forward writes a new forward certificate into owner's own capability
// page, re-authorizing inner (which must be 8-byte aligned, which it
// always is by construction) to forwardee.
func (e *Engine) Forward(phys *mem.Physmem_t, ownerRoot mem.Pa_t, owner, forwardee layout.PID, inner uintptr) uintptr {
	if forwardee < 0 || int(forwardee) >= layout.ProcessCount {
		panic("cap: forwardee PID out of range")
	}
	if inner%8 != 0 {
		panic("cap: inner capability address is not 8-byte aligned")
	}
	addr := e.allocSlot(phys, ownerRoot, owner)
	e.writeWord(phys, ownerRoot, addr, packForward(forwardee, inner))
	return addr
}

// Validate walks the certificate chain starting at addr, as seen
// through validatingRoot (the validating process's own address
// space — it must have every link in the chain mapped, at least
// read-only, which process creation guarantees). It returns the
// address of the root grant certificate if and only if the chain
// proves that validatingPID itself is the original issuer and that
// claimerPID is the party actually presenting the capability.
func (e *Engine) Validate(phys *mem.Physmem_t, validatingRoot mem.Pa_t, validatingPID layout.PID, addr uintptr, claimerPID layout.PID) (uintptr, error) {
	expected := claimerPID
	cur := addr
	for {
		if cur < layout.CapBase || cur >= layout.CapEnd || cur%8 != 0 {
			return 0, ErrBadCapability
		}
		certifier := layout.PID((cur - layout.CapBase) / layout.PageSize)

		word, err := e.readWord(phys, validatingRoot, cur)
		if err != nil {
			return 0, err
		}
		target, inner, isGrant := unpack(word)
		if target != expected {
			return 0, ErrUnauthorized
		}
		if isGrant {
			if certifier != validatingPID {
				return 0, ErrNotMyCapability
			}
			return cur, nil
		}
		expected = certifier
		cur = inner
	}
}

// LocalIndex returns the certificate slot's index within its owner's
// page: (cap mod PageSize) / 8.
func LocalIndex(addr uintptr) int {
	return int((addr % layout.PageSize) / 8)
}

// SetMeta associates application-level metadata with a capability slot
// the owner issued, keyed by local_index.
func (e *Engine) SetMeta(owner layout.PID, addr uintptr, value interface{}) {
	e.meta[owner].Set(LocalIndex(addr), value)
}

// GetMeta retrieves metadata previously associated via SetMeta.
func (e *Engine) GetMeta(owner layout.PID, addr uintptr) (interface{}, bool) {
	return e.meta[owner].Get(LocalIndex(addr))
}

func (e *Engine) allocSlot(phys *mem.Physmem_t, ownerRoot mem.Pa_t, owner layout.PID) uintptr {
	if e.nextSlot[owner] >= layout.CapSlotsPerPage {
		panic(ErrOverflow)
	}
	slot := e.nextSlot[owner]
	e.nextSlot[owner]++
	return layout.CapPageBase(int(owner)) + uintptr(slot*8)
}

func (e *Engine) writeWord(phys *mem.Physmem_t, root mem.Pa_t, addr uintptr, word uint64) {
	pa, flags, ok := pagetable.Lookup(phys, root, addr)
	if !ok {
		panic(ErrCapabilityUnmapped)
	}
	if flags&pagetable.W == 0 {
		panic("cap: capability page not writable in this address space")
	}
	binary.LittleEndian.PutUint64(phys.Bytes(pa, 8), word)
}

func (e *Engine) readWord(phys *mem.Physmem_t, root mem.Pa_t, addr uintptr) (uint64, error) {
	pa, flags, ok := pagetable.Lookup(phys, root, addr)
	if !ok {
		return 0, ErrCapabilityUnmapped
	}
	if flags&pagetable.R == 0 {
		return 0, ErrCapabilityUnmapped
	}
	return binary.LittleEndian.Uint64(phys.Bytes(pa, 8)), nil
}

// packGrant/packForward/unpack implement the certificate word's ABI:
// low 3 bits target_pid, remaining high bits zero (grant) or an
// 8-byte-aligned inner address (forward). This packing mirrors the
// device major/minor packing idiom (Mkdev/Unmkdev) the teacher uses
// elsewhere for small tagged identifiers inside one machine word.

func packGrant(grantee layout.PID) uint64 {
	return uint64(grantee)
}

func packForward(forwardee layout.PID, inner uintptr) uint64 {
	return uint64(forwardee) | uint64(inner)
}

func unpack(word uint64) (target layout.PID, inner uintptr, isGrant bool) {
	target = layout.PID(word & 0x7)
	raw := word &^ 0x7
	if raw == 0 {
		return target, 0, true
	}
	return target, uintptr(raw), false
}
