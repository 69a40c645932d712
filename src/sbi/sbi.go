// Package sbi specifies the firmware interface the kernel consumes:
// console I/O, version/implementation metadata, and system reset. The
// real SBI is out of scope (§1); this package is the Go interface the
// core depends on plus an in-memory fake (a ring buffer for console
// input, a growing byte slice for console output), so the core can be
// driven and observed without real firmware.
package sbi

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"circbuf"
)

// ResetType is the reset-type tag passed to SystemReset.
type ResetType int

const (
	Shutdown ResetType = iota
	ColdReboot
	WarmReboot
)

func (t ResetType) String() string {
	switch t {
	case Shutdown:
		return "shutdown"
	case ColdReboot:
		return "cold-reboot"
	case WarmReboot:
		return "warm-reboot"
	default:
		return fmt.Sprintf("ResetType(%d)", int(t))
	}
}

// ResetReason is the reason tag passed to SystemReset.
type ResetReason int

const (
	NoReason ResetReason = iota
	SystemFailure
)

func (r ResetReason) String() string {
	switch r {
	case NoReason:
		return "no-reason"
	case SystemFailure:
		return "system-failure"
	default:
		return fmt.Sprintf("ResetReason(%d)", int(r))
	}
}

// knownImplementations mirrors the original firmware's table of known
// SBI implementation IDs, used only for a diagnostic log line at boot.
var knownImplementations = map[uint32]string{
	0:  "Berkeley Boot Loader (BBL)",
	1:  "OpenSBI",
	2:  "Xvisor",
	3:  "KVM",
	4:  "RustSBI",
	5:  "Diosix",
	6:  "Coffer",
	7:  "Xen Project",
	8:  "PolarFire Hart Software Services",
	9:  "coreboot",
	10: "oreboot",
	11: "bhyve",
}

// ImplementationName looks up a human-readable name for an
// implementation ID, for boot-time logging only.
func ImplementationName(id uint32) string {
	if name, ok := knownImplementations[id]; ok {
		return name
	}
	return fmt.Sprintf("unknown (%#x)", id)
}

// Firmware is everything the kernel core needs from SBI.
type Firmware interface {
	PutChar(b byte)
	GetChar() byte
	SpecVersion() (major, minor uint32)
	ImplID() uint32
	ImplVersion() uint32
	SystemReset(t ResetType, r ResetReason)
}

// ResetEvent records one SystemReset call, for tests to assert on.
type ResetEvent struct {
	Type   ResetType
	Reason ResetReason
}

// Fake is an in-memory stand-in for real firmware: console output is
// captured verbatim, console input is fed in by the test driver ahead
// of time (or concurrently, from another goroutine) and GetChar blocks
// until a byte is available.
type Fake struct {
	mu   sync.Mutex
	cond *sync.Cond
	in   circbuf.Circbuf_t
	out  []byte

	implID      uint32
	implVersion uint32
	specMajor   uint32
	specMinor   uint32

	resets []ResetEvent
	log    *logrus.Entry
}

// NewFake returns a fake firmware instance identifying itself as
// implementation id 4 (RustSBI) spec version 2.0, which is a
// reasonable default for an RV64/Sv39 target. These values are fixed;
// Fake has no setters for them.
func NewFake(log *logrus.Entry) *Fake {
	f := &Fake{
		implID:      4,
		implVersion: 1,
		specMajor:   2,
		specMinor:   0,
		log:         log,
	}
	f.in.Cb_init(256)
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *Fake) PutChar(b byte) {
	f.mu.Lock()
	f.out = append(f.out, b)
	f.mu.Unlock()
}

// GetChar blocks until a byte has been queued via PushInput.
func (f *Fake) GetChar() byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.in.Empty() {
		f.cond.Wait()
	}
	b, _ := f.in.GetByte()
	return b
}

// PushInput queues bytes for future GetChar calls and wakes any
// blocked reader.
func (f *Fake) PushInput(bytes []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range bytes {
		if !f.in.PutByte(b) {
			panic("sbi: fake console input buffer full")
		}
	}
	f.cond.Broadcast()
}

func (f *Fake) SpecVersion() (uint32, uint32) { return f.specMajor, f.specMinor }
func (f *Fake) ImplID() uint32                { return f.implID }
func (f *Fake) ImplVersion() uint32           { return f.implVersion }

// SystemReset records the request. It does not terminate the process;
// the kernel's run loop is expected to check Halted and stop scheduling
// after calling this.
func (f *Fake) SystemReset(t ResetType, r ResetReason) {
	f.mu.Lock()
	f.resets = append(f.resets, ResetEvent{Type: t, Reason: r})
	f.cond.Broadcast()
	f.mu.Unlock()
	if f.log != nil {
		f.log.WithFields(logrus.Fields{"type": t, "reason": r}).Info("sbi: system reset requested")
	}
}

// Halted reports whether SystemReset has been called.
func (f *Fake) Halted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resets) > 0
}

// LastReset returns the most recent reset event, if any.
func (f *Fake) LastReset() (ResetEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.resets) == 0 {
		return ResetEvent{}, false
	}
	return f.resets[len(f.resets)-1], true
}

// ConsoleOutput returns everything written via PutChar so far.
func (f *Fake) ConsoleOutput() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.out))
	copy(out, f.out)
	return out
}

// LogMetadata logs the firmware's version/implementation metadata
// once, mirroring the original kernel's boot-time diagnostic.
func LogMetadata(fw Firmware, log *logrus.Entry) {
	major, minor := fw.SpecVersion()
	log.WithFields(logrus.Fields{
		"spec_major":  major,
		"spec_minor":  minor,
		"impl_id":     fw.ImplID(),
		"impl_name":   ImplementationName(fw.ImplID()),
		"impl_version": fw.ImplVersion(),
	}).Info("sbi: firmware metadata")
}
