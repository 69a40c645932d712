// Package trap is the syscall dispatcher: it decodes the UserEnvCall
// trap (§4.6), services the twelve syscalls the design defines, and
// decides whether the calling process keeps running or the scheduler
// should pick someone else. There is no real supervisor-mode trap
// entry here — rvasm.Step stands in for the hart, and a syscall is
// simply the dispatcher noticing the interpreter stopped on ecall.
package trap

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"blockdev"
	"ipc"
	"layout"
	"mem"
	"pagetable"
	"proc"
	"rvasm"
	"sbi"
	"uspace"
)

// Syscall numbers, matching the a3 register value at trap time.
const (
	SysExit          = 1
	SysPutchar       = 2
	SysGetchar       = 3
	SysYield         = 4
	SysPidByName     = 5
	SysIPCSend       = 6
	SysIPCRecv       = 7
	SysLog           = 8
	SysDiskRead      = 9
	SysDiskWrite     = 10
	SysDiskCapacity  = 11
	SysAllocatePages = 12
)

// Context bundles everything the dispatcher needs to service a
// syscall: physical memory, the process table, firmware, and the disk.
type Context struct {
	Phys  *mem.Physmem_t
	Table *proc.Table
	Fw    sbi.Firmware
	Disk  blockdev.Device
	Log   *logrus.Entry
}

// RunUntilReschedule steps pid's interpreter, servicing every
// synchronous ecall itself and resuming the same process immediately,
// until a syscall demands the scheduler pick someone else (exit,
// yield, or a blocked recv) or the process faults.
func (ctx *Context) RunUntilReschedule(pid layout.PID) {
	p := ctx.Table.Get(pid)
	space := uspace.Memory{Phys: ctx.Phys, Root: p.Root}

	for {
		cause, err := rvasm.Step(&p.CPU, space)
		if err != nil {
			panic(fmt.Errorf("trap: process %d (%s): %w", pid, p.Name, err))
		}
		if cause != rvasm.ECall {
			continue
		}

		p.Accnt.Syscall()
		if ctx.dispatch(pid) {
			return
		}
	}
}

// dispatch services one ecall for pid and reports whether the
// scheduler should reschedule rather than resume this process.
func (ctx *Context) dispatch(pid layout.PID) (reschedule bool) {
	p := ctx.Table.Get(pid)
	cpu := &p.CPU
	num := cpu.X[rvasm.A3]
	a0, a1, a2 := cpu.X[rvasm.A0], cpu.X[rvasm.A1], cpu.X[rvasm.A2]

	switch num {
	case SysExit:
		p.State = proc.Finished
		return true

	case SysPutchar:
		ctx.Fw.PutChar(byte(a0))

	case SysGetchar:
		cpu.X[rvasm.A0] = uint64(ctx.Fw.GetChar())

	case SysYield:
		rvasm.Advance(cpu)
		return true

	case SysPidByName:
		name, err := uspace.ReadAll(ctx.Phys, p.Root, uintptr(a0), int(a1))
		if err != nil {
			panic(fmt.Errorf("trap: pid_by_name: %w", err))
		}
		cpu.X[rvasm.A0] = uint64(int64(ctx.Table.PidByName(string(name))))

	case SysIPCSend:
		if err := ipc.Send(ctx.Phys, ctx.Table, pid, layout.PID(a2), uintptr(a0), int(a1)); err != nil {
			panic(fmt.Errorf("trap: ipc_send: %w", err))
		}

	case SysIPCRecv:
		n, sender, ok, err := ipc.TryRecv(ctx.Phys, ctx.Table, pid, uintptr(a0), int(a1))
		if err != nil {
			panic(fmt.Errorf("trap: ipc_recv: %w", err))
		}
		if !ok {
			// Mailbox empty: leave pc at the ecall so the next turn
			// retries the same call, and hand control back to the
			// scheduler so another process can make progress.
			return true
		}
		cpu.X[rvasm.A0] = uint64(n)
		cpu.X[rvasm.A1] = uint64(int64(sender))

	case SysLog:
		text, err := uspace.ReadAll(ctx.Phys, p.Root, uintptr(a0), int(a1))
		if err != nil {
			panic(fmt.Errorf("trap: log: %w", err))
		}
		level := logrus.Level(a2)
		if ctx.Log != nil {
			ctx.Log.WithFields(logrus.Fields{"pid": pid, "process": p.Name}).Log(level, string(text))
		}

	case SysDiskRead:
		sector := a0
		buf := make([]byte, blockdev.SectorSize)
		if err := ctx.Disk.ReadSector(sector, buf); err != nil {
			panic(fmt.Errorf("trap: disk_read: %w", err))
		}
		if err := uspace.WriteAll(ctx.Phys, p.Root, uintptr(a1), buf); err != nil {
			panic(fmt.Errorf("trap: disk_read: %w", err))
		}

	case SysDiskWrite:
		sector := a0
		buf, err := uspace.ReadAll(ctx.Phys, p.Root, uintptr(a1), blockdev.SectorSize)
		if err != nil {
			panic(fmt.Errorf("trap: disk_write: %w", err))
		}
		if err := ctx.Disk.WriteSector(sector, buf); err != nil {
			panic(fmt.Errorf("trap: disk_write: %w", err))
		}

	case SysDiskCapacity:
		cpu.X[rvasm.A0] = ctx.Disk.Capacity()

	case SysAllocatePages:
		count := int(a0)
		base := p.HeapNext
		pa, err := ctx.Phys.AllocPages(count)
		if err != nil {
			panic(fmt.Errorf("trap: allocate_pages: %w", err))
		}
		mapUserHeap(ctx, p, base, pa, count)
		p.HeapNext += uintptr(count) * layout.PageSize
		cpu.X[rvasm.A0] = uint64(base)

	default:
		panic(fmt.Errorf("trap: process %d (%s): unknown syscall number %d", pid, p.Name, num))
	}

	rvasm.Advance(cpu)
	return false
}

// mapUserHeap maps count freshly allocated pages read-write at base in
// p's address space, backing the allocate_pages syscall's bump heap.
func mapUserHeap(ctx *Context, p *proc.Process, base uintptr, pa mem.Pa_t, count int) {
	pagetable.MapPages(ctx.Phys, p.Root, base, pa, pagetable.ReadWrite, count)
}
