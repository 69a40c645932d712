// Package accnt tracks lightweight per-process accounting: how long a
// process has held the processor and how many syscalls/IPC operations
// it has issued. There is no real timer in this design (the Non-goal
// list excludes timer readout), so "time" here is wall-clock time as
// observed by the host process, useful for diagnostics and for the
// debug dump in cmd/kernel, not for scheduling decisions.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt_t accumulates per-process accounting information. The embedded
// mutex lets callers take a consistent snapshot when exporting it.
type Accnt_t struct {
	// Runns is nanoseconds spent executing this process's user code,
	// as observed by the host.
	Runns int64
	// Syscalls counts completed syscalls.
	Syscalls int64
	// IpcSent and IpcRecvd count completed IPC operations.
	IpcSent  int64
	IpcRecvd int64
	sync.Mutex
}

// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt_t) Now() int64 {
	return time.Now().UnixNano()
}

// AddRun adds delta nanoseconds of run time.
func (a *Accnt_t) AddRun(delta int64) {
	atomic.AddInt64(&a.Runns, delta)
}

// Syscall records one completed syscall.
func (a *Accnt_t) Syscall() {
	atomic.AddInt64(&a.Syscalls, 1)
}

// Sent records one completed ipc_send.
func (a *Accnt_t) Sent() {
	atomic.AddInt64(&a.IpcSent, 1)
}

// Recvd records one completed ipc_recv.
func (a *Accnt_t) Recvd() {
	atomic.AddInt64(&a.IpcRecvd, 1)
}

// Snapshot_t is a consistent point-in-time copy of an Accnt_t.
type Snapshot_t struct {
	Runns    int64
	Syscalls int64
	IpcSent  int64
	IpcRecvd int64
}

// Snapshot returns a locked, consistent copy of the accounting record.
func (a *Accnt_t) Snapshot() Snapshot_t {
	a.Lock()
	defer a.Unlock()
	return Snapshot_t{
		Runns:    a.Runns,
		Syscalls: a.Syscalls,
		IpcSent:  a.IpcSent,
		IpcRecvd: a.IpcRecvd,
	}
}

// Add merges another accounting record into this one. Used when a
// diagnostics dump wants system-wide totals.
func (a *Accnt_t) Add(n *Accnt_t) {
	ns := n.Snapshot()
	a.Lock()
	a.Runns += ns.Runns
	a.Syscalls += ns.Syscalls
	a.IpcSent += ns.IpcSent
	a.IpcRecvd += ns.IpcRecvd
	a.Unlock()
}
