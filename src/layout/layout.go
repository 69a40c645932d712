// Package layout defines the fixed address-space constants shared by
// the ELF loader, the process table, and the capability engine. They
// must agree across all three, which is why they live in one place
// rather than being duplicated per package.
package layout

const (
	// PageSize is the page granularity used throughout the kernel.
	PageSize = 4096

	// UserStart and UserEnd bound user code and data.
	UserStart = 0x1000000
	UserEnd   = 0x1800000

	// UserHeapStart is where a process's bump heap allocator begins;
	// it grows up from here, one allocate_pages syscall at a time.
	UserHeapStart = UserEnd

	// CapBase and CapEnd bound the capability-page region: one page
	// per process slot.
	CapBase = 0x2000000
	CapEnd  = 0x3000000

	// CapSlotsPerPage is the number of 8-byte certificate slots in one
	// process's capability page.
	CapSlotsPerPage = PageSize / 8

	// ProcessCount is the fixed size of the process table (N in the
	// design).
	ProcessCount = 8
)

// CapPageBase returns the virtual address of process pid's capability
// page.
func CapPageBase(pid int) uintptr {
	return CapBase + uintptr(pid)*PageSize
}

// PID identifies a process slot. It doubles as the capability system's
// certifier/grantee/forwardee identity, which is why it is packed into
// the low 3 bits of a certificate word (ProcessCount <= 8).
type PID int

// Sentinel is returned by pid_by_name when no process matches.
const Sentinel PID = -1
