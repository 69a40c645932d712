// Package kernel wires mem, pagetable, proc, trap, ipc, cap, sbi, and
// blockdev together into a runnable system: it boots a fixed set of
// processes from embedded ELF images and round-robins them until none
// are left runnable, exactly as the scheduler loop in the original
// kernel's main function does, just without a naked boot stub since
// there is no real hart to jump to.
package kernel

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"accnt"
	"blockdev"
	"cap"
	"caller"
	"ipc"
	"layout"
	"mem"
	"proc"
	"sbi"
	"stats"
	"trap"
)

// Image names one embedded process image to load at boot.
type Image struct {
	Name string
	ELF  []byte
}

// Kernel is one boot instance: its own physical memory arena, process
// table, capability engine, firmware, and disk.
type Kernel struct {
	Phys  *mem.Physmem_t
	Table *proc.Table
	Caps  *cap.Engine
	Fw    sbi.Firmware
	Disk  blockdev.Device

	RunID string
	Log   *logrus.Entry

	// Stats holds the scheduler's zero-cost-when-disabled counters
	// (see the stats package); they only actually count when built
	// with stats.Stats/stats.Timing turned on.
	Stats SchedulerStats

	// dropWarn throttles the "native process reply dropped" warning to
	// its first occurrence per distinct call path, so a persistently
	// unreachable sender doesn't flood the log once per message.
	dropWarn caller.Distinct_caller_t

	ctx *trap.Context
}

// SchedulerStats are the scheduler-wide counters Run maintains across
// a boot, separate from each process's own accnt.Accnt_t.
type SchedulerStats struct {
	ContextSwitches stats.Counter_t
	NativeMessages  stats.Counter_t
}

// Config controls how a Kernel is built.
type Config struct {
	PhysicalPages int
	Firmware      sbi.Firmware
	Disk          blockdev.Device
	Logger        *logrus.Logger
}

// New builds a Kernel ready to load processes into, but does not boot
// any yet.
func New(cfg Config) *Kernel {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	runID := uuid.NewString()
	log := cfg.Logger.WithField("run_id", runID)

	phys := mem.Phys_init(cfg.PhysicalPages)
	caps := cap.NewEngine()
	table := proc.NewTable(phys, caps)

	k := &Kernel{
		Phys:  phys,
		Table: table,
		Caps:  caps,
		Fw:    cfg.Firmware,
		Disk:  cfg.Disk,
		RunID: runID,
		Log:   log,
	}
	k.ctx = &trap.Context{Phys: phys, Table: table, Fw: cfg.Firmware, Disk: cfg.Disk, Log: log}
	k.dropWarn.Enabled = true

	sbi.LogMetadata(cfg.Firmware, log)
	return k
}

// Boot loads every image as a process, in order, matching the original
// kernel's one-shot "create these processes, then schedule" startup.
func (k *Kernel) Boot(images []Image) error {
	for _, img := range images {
		pid, err := k.Table.CreateProcess(k.Phys, img.Name, img.ELF)
		if err != nil {
			return fmt.Errorf("kernel: booting %q: %w", img.Name, err)
		}
		k.Log.WithFields(logrus.Fields{"pid": pid, "process": img.Name}).Info("kernel: process created")
	}
	return nil
}

// Run schedules processes round-robin until none are left runnable,
// recovering any panic exactly once — at this single point — so a
// kernel invariant violation logs and requests a SystemFailure reset
// instead of crashing the host process.
func (k *Kernel) Run() {
	defer func() {
		if r := recover(); r != nil {
			k.Log.WithFields(logrus.Fields{
				"panic":    r,
				"location": caller.Trace(2),
			}).Error("kernel: invariant violation, halting")
			k.Fw.SystemReset(sbi.Shutdown, sbi.SystemFailure)
		}
	}()

	for {
		if !k.Table.AnyClientRunnable() {
			k.shutdown(sbi.NoReason, "no runnable client processes")
			return
		}
		pid, ok := k.Table.FindRunnable()
		if !ok {
			k.shutdown(sbi.NoReason, "no runnable processes")
			return
		}
		k.Table.Current = pid
		k.Stats.ContextSwitches.Inc()

		if p := k.Table.Get(pid); p.Native != nil {
			k.serviceNative(pid, p)
		} else {
			k.ctx.RunUntilReschedule(pid)
		}

		if fake, ok := k.Fw.(*sbi.Fake); ok && fake.Halted() {
			return
		}
	}
}

// shutdown logs why the scheduler is stopping, along with the
// accumulated stats counters, and requests an SBI reset.
func (k *Kernel) shutdown(reason sbi.ResetReason, why string) {
	k.Log.WithField("stats", stats.Stats2String(k.Stats)).Info("kernel: " + why + ", shutting down")
	k.Fw.SystemReset(sbi.Shutdown, reason)
}

// serviceNative delivers one pending message, if any, to a native
// (Go-code) process's handler and mails back its reply. Native
// processes never exit on their own; they simply idle when their
// mailbox is empty, the same way a blocked ipc_recv idles an
// interpreted process.
func (k *Kernel) serviceNative(pid layout.PID, p *proc.Process) {
	data, sender, ok := ipc.TryRecvRaw(k.Table, pid)
	if !ok {
		return
	}
	k.Stats.NativeMessages.Inc()
	resp := p.Native(sender, data)
	if resp == nil {
		return
	}
	if err := ipc.SendRaw(k.Table, pid, sender, resp); err != nil {
		if first, trace := k.dropWarn.Distinct(); first {
			k.Log.WithFields(logrus.Fields{"pid": pid, "process": p.Name, "error": err, "callers": trace}).
				Warn("kernel: native process reply dropped")
		}
	}
}

// ProcessSummary is a snapshot of one process slot safe to copy and
// hand out, unlike proc.Process itself (which carries accounting
// locks).
type ProcessSummary struct {
	Name  string
	State proc.State
	Accnt accnt.Snapshot_t
}

// Snapshot returns every process's current state and accounting
// counters, keyed by PID, for diagnostics and tests.
func (k *Kernel) Snapshot() map[layout.PID]ProcessSummary {
	out := make(map[layout.PID]ProcessSummary, layout.ProcessCount)
	for i := range k.Table.Slots {
		p := &k.Table.Slots[i]
		out[layout.PID(i)] = ProcessSummary{Name: p.Name, State: p.State, Accnt: p.Accnt.Snapshot()}
	}
	return out
}
