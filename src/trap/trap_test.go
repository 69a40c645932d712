package trap_test

import (
	"encoding/binary"
	"testing"

	"blockdev"
	"cap"
	"fixtures"
	"layout"
	"mem"
	"pagetable"
	"proc"
	"sbi"
	"trap"

	"github.com/sirupsen/logrus"
)

func newContext(t *testing.T) (*trap.Context, *proc.Table, *sbi.Fake) {
	t.Helper()
	phys := mem.Phys_init(256)
	table := proc.NewTable(phys, cap.NewEngine())
	fw := sbi.NewFake(logrus.NewEntry(logrus.New()))
	ctx := &trap.Context{Phys: phys, Table: table, Fw: fw, Disk: blockdev.NewMemory(4)}
	return ctx, table, fw
}

func TestHelloPrintsAndExits(t *testing.T) {
	ctx, table, fw := newContext(t)
	pid, err := table.CreateProcess(table.Phys, "hello", fixtures.Hello())
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}

	ctx.RunUntilReschedule(pid)

	if got := string(fw.ConsoleOutput()); got != "Hi" {
		t.Fatalf("console output = %q, want \"Hi\"", got)
	}
	if table.Get(pid).State != proc.Finished {
		t.Fatalf("process state = %v, want Finished", table.Get(pid).State)
	}
}

func TestPidByNameResolvesPeer(t *testing.T) {
	ctx, table, _ := newContext(t)
	bob, err := table.CreateProcess(table.Phys, "bob", fixtures.Bob())
	if err != nil {
		t.Fatalf("CreateProcess(bob): %v", err)
	}
	alice, err := table.CreateProcess(table.Phys, "alice", fixtures.Alice())
	if err != nil {
		t.Fatalf("CreateProcess(alice): %v", err)
	}

	ctx.RunUntilReschedule(alice)

	if got := table.Get(alice).CPU.X[5]; got != uint64(bob) { // t0 = x5
		t.Fatalf("alice stashed pid %d in t0, want bob's pid %d", got, bob)
	}
}

func TestIPCRoundTrip(t *testing.T) {
	ctx, table, _ := newContext(t)
	b, err := table.CreateProcess(table.Phys, "ipc-b", fixtures.IPCB())
	if err != nil {
		t.Fatalf("CreateProcess(ipc-b): %v", err)
	}
	a, err := table.CreateProcess(table.Phys, "ipc-a", fixtures.IPCA())
	if err != nil {
		t.Fatalf("CreateProcess(ipc-a): %v", err)
	}

	// a sends then yields; give b a turn to receive, then resume a to exit.
	ctx.RunUntilReschedule(a)
	if table.Get(a).State != proc.Runnable {
		t.Fatalf("ipc-a state after yield = %v, want Runnable", table.Get(a).State)
	}
	ctx.RunUntilReschedule(b)
	if table.Get(b).State != proc.Finished {
		t.Fatalf("ipc-b state = %v, want Finished", table.Get(b).State)
	}
	ctx.RunUntilReschedule(a)
	if table.Get(a).State != proc.Finished {
		t.Fatalf("ipc-a state after resuming = %v, want Finished", table.Get(a).State)
	}
}

func TestUnknownSyscallPanics(t *testing.T) {
	// Every fixture program issues only known syscalls, so an unknown
	// one is built by hand here: a single ECALL instruction mapped
	// directly into a fresh process's address space, with a3 poked to
	// an unassigned syscall number right before resuming it.
	ctx, table, _ := newContext(t)
	pid, _, err := table.CreateNativeProcess(table.Phys, "raw")
	if err != nil {
		t.Fatalf("CreateNativeProcess: %v", err)
	}
	p := table.Get(pid)

	pa, err := table.Phys.AllocPages(1)
	if err != nil {
		t.Fatalf("AllocPages: %v", err)
	}
	const va = uintptr(layout.UserStart)
	pagetable.MapPages(table.Phys, p.Root, va, pa, pagetable.ReadExecute, 1)

	code := table.Phys.Bytes(pa, 4)
	binary.LittleEndian.PutUint32(code, 0x00000073) // ECALL

	p.CPU.PC = uint64(va)
	p.CPU.X[13] = 0xff // a3 = x13, an unassigned syscall number

	defer func() {
		if recover() == nil {
			t.Fatalf("dispatch of an unknown syscall number did not panic")
		}
	}()
	ctx.RunUntilReschedule(pid)
}
