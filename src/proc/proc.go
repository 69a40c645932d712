// Package proc owns the fixed-size process table: process lifecycle,
// capability-page cross-mapping at creation time, and the cooperative
// round-robin scheduler (§3, §4.4, §4.5). Slots are never freed or
// reused once a process finishes — a PID is also a capability
// certifier identity, so recycling one would let a new, unrelated
// process inherit someone else's certificates.
package proc

import (
	"fmt"

	"accnt"
	"cap"
	"elfload"
	"layout"
	"mem"
	"pagetable"
	"rvasm"
	"ustr"
)

// State is a process's position in the Unused -> Runnable -> Finished
// lifecycle. There is no separate "blocked" state: a process waiting
// on ipc_recv stays Runnable and simply re-issues the same ecall every
// time the scheduler gives it a turn, until a message arrives.
type State int

const (
	Unused State = iota
	Runnable
	Finished
)

func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Runnable:
		return "runnable"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Mailbox is a process's single-slot IPC inbox. A second send before
// the first is received overwrites the pending message; this is a
// documented limitation, not a bug (see the design's IPC notes).
type Mailbox struct {
	Pending bool
	Sender  layout.PID
	Data    []byte
}

// NativeHandler services one IPC message for a process implemented
// directly in Go (fsservice, specifically) rather than loaded from an
// ELF image and stepped through rvasm. The scheduler calls it in place
// of RunUntilReschedule whenever such a process's mailbox is pending.
type NativeHandler func(sender layout.PID, msg []byte) []byte

// Process is one process table slot.
type Process struct {
	Name  string
	State State
	CPU   rvasm.CPU
	Root  mem.Pa_t

	Mailbox  Mailbox
	Accnt    accnt.Accnt_t
	HeapNext uintptr

	Native NativeHandler
}

// Table is the fixed N=8 process table plus the bookkeeping the
// scheduler and process-creation path need.
type Table struct {
	Slots   [layout.ProcessCount]Process
	Current layout.PID

	Phys *mem.Physmem_t
	Caps *cap.Engine

	// capPageArena backs every process's capability page with a fixed
	// physical allocation, made the first time any process is created,
	// so every process's view of slot i maps the same physical page.
	// It belongs to the table (not the package) since a host process
	// may run more than one Kernel, each over its own Physmem_t arena.
	capPageArena     [layout.ProcessCount]mem.Pa_t
	capPageArenaInit bool
}

// NewTable returns an empty table. Slot 0 is unused, not the idle
// process; FindRunnable skips every Unused and Finished slot.
func NewTable(phys *mem.Physmem_t, caps *cap.Engine) *Table {
	t := &Table{Phys: phys, Caps: caps, Current: layout.Sentinel}
	return t
}

func (t *Table) findFreeSlot() (layout.PID, bool) {
	for i := range t.Slots {
		if t.Slots[i].State == Unused {
			return layout.PID(i), true
		}
	}
	return layout.Sentinel, false
}

// CreateProcess allocates a free slot, builds a fresh Sv39 root for it,
// loads elfImage's PT_LOAD segments, and maps every process's
// capability page into the new address space: its own read-write, all
// others read-only. a0 is seeded with its own PID, matching the
// original kernel's process-discovers-its-own-identity convention.
func (t *Table) CreateProcess(phys *mem.Physmem_t, name string, elfImage []byte) (layout.PID, error) {
	pid, ok := t.findFreeSlot()
	if !ok {
		return layout.Sentinel, fmt.Errorf("proc: no free process slots")
	}

	root := pagetable.NewRoot(phys)
	entry, err := elfload.Load(phys, root, elfImage)
	if err != nil {
		return layout.Sentinel, fmt.Errorf("proc: loading %q: %w", name, err)
	}

	t.mapCapabilityMemory(phys, root, pid)

	p := &t.Slots[pid]
	*p = Process{Name: name, State: Runnable, Root: root, HeapNext: layout.UserHeapStart}
	p.CPU.PC = uint64(entry)
	p.CPU.X[rvasm.A0] = uint64(pid)
	return pid, nil
}

// mapCapabilityMemory maps every process's capability page into root:
// the slots before pid and after pid read-only, pid's own slot
// read-write. This is what lets Validate walk a certificate chain
// through any process's real page table and have the MMU enforce who
// may write versus merely read each link.
func (t *Table) mapCapabilityMemory(phys *mem.Physmem_t, root mem.Pa_t, pid layout.PID) {
	for i := 0; i < layout.ProcessCount; i++ {
		flags := pagetable.ReadOnly
		if layout.PID(i) == pid {
			flags = pagetable.ReadWrite
		}
		pa := t.capabilityPagePA(phys, i)
		pagetable.MapPages(phys, root, layout.CapPageBase(i), pa, flags, 1)
	}
}

// capabilityPagePA backs every process's capability page with a fixed
// physical allocation the first time it is needed, so every process's
// view of slot i maps the same physical page.
func (t *Table) capabilityPagePA(phys *mem.Physmem_t, i int) mem.Pa_t {
	if !t.capPageArenaInit {
		for j := 0; j < layout.ProcessCount; j++ {
			pa, err := phys.AllocPages(1)
			if err != nil {
				panic(fmt.Errorf("proc: out of memory allocating capability pages: %w", err))
			}
			t.capPageArena[j] = pa
		}
		t.capPageArenaInit = true
	}
	return t.capPageArena[i]
}

// CreateNativeProcess reserves a process slot for a service implemented
// directly in Go rather than loaded from an ELF image — the filesystem
// service, specifically. It still gets a real page table and
// capability-page mapping, so cap.Engine works on it exactly like any
// other process; it just has no instruction stream of its own, so the
// scheduler must recognize it and service its mailbox directly instead
// of stepping an interpreter.
func (t *Table) CreateNativeProcess(phys *mem.Physmem_t, name string) (layout.PID, mem.Pa_t, error) {
	pid, ok := t.findFreeSlot()
	if !ok {
		return layout.Sentinel, 0, fmt.Errorf("proc: no free process slots")
	}
	root := pagetable.NewRoot(phys)
	t.mapCapabilityMemory(phys, root, pid)
	t.Slots[pid] = Process{Name: name, State: Runnable, Root: root}
	return pid, root, nil
}

// FindRunnable scans forward from the slot after Current, wrapping
// around, and returns the next Runnable process. It returns
// (Sentinel, false) when no process is runnable, meaning the system
// should shut down.
func (t *Table) FindRunnable() (layout.PID, bool) {
	start := 0
	if t.Current != layout.Sentinel {
		start = int(t.Current) + 1
	}
	for offset := 0; offset < layout.ProcessCount; offset++ {
		idx := (start + offset) % layout.ProcessCount
		if t.Slots[idx].State == Runnable {
			return layout.PID(idx), true
		}
	}
	return layout.Sentinel, false
}

// AnyClientRunnable reports whether any non-native process is still
// Runnable. Native (Go-code) service processes such as fsservice never
// transition to Finished on their own — they idle forever waiting for
// messages, the same way a blocked ipc_recv idles — so they are
// excluded from the "is anything left to do" check the scheduler uses
// to decide when to shut down.
func (t *Table) AnyClientRunnable() bool {
	for i := range t.Slots {
		if t.Slots[i].State == Runnable && t.Slots[i].Native == nil {
			return true
		}
	}
	return false
}

// PidByName returns the PID of the first Runnable or Finished process
// with the given name, or Sentinel if none matches. Unused slots are
// never named and are skipped.
func (t *Table) PidByName(name string) layout.PID {
	want := ustr.Ustr(name)
	for i := range t.Slots {
		if t.Slots[i].State == Unused {
			continue
		}
		if ustr.Ustr(t.Slots[i].Name).Eq(want) {
			return layout.PID(i)
		}
	}
	return layout.Sentinel
}

// Get returns the process at pid. Callers only ever index with PIDs
// obtained from Current, FindRunnable, PidByName, or CreateProcess,
// all of which are in range by construction.
func (t *Table) Get(pid layout.PID) *Process {
	return &t.Slots[pid]
}

// SetNativeHandler installs h as pid's message handler, marking it a
// native (Go-code) process the scheduler services directly instead of
// stepping an interpreter.
func (t *Table) SetNativeHandler(pid layout.PID, h NativeHandler) {
	t.Slots[pid].Native = h
}
