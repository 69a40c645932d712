package rvasm

import "testing"

// flatMemory is a byte-addressable window over a plain slice, used to
// drive Step without needing a real page table.
type flatMemory struct {
	base uint64
	buf  []byte
}

func (m *flatMemory) ReadByte(addr uint64) (byte, bool) {
	if addr < m.base || addr-m.base >= uint64(len(m.buf)) {
		return 0, false
	}
	return m.buf[addr-m.base], true
}

func (m *flatMemory) WriteByte(addr uint64, b byte) bool {
	if addr < m.base || addr-m.base >= uint64(len(m.buf)) {
		return false
	}
	m.buf[addr-m.base] = b
	return true
}

func run(t *testing.T, p *Program) (*CPU, *flatMemory) {
	t.Helper()
	code, err := p.Link()
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	mem := &flatMemory{base: 0x1000, buf: append(code, make([]byte, 64)...)}
	cpu := &CPU{PC: mem.base}
	for {
		cause, err := Step(cpu, mem)
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if cause == ECall {
			return cpu, mem
		}
	}
}

func TestADDIImmediate(t *testing.T) {
	p := NewProgram()
	p.ADDI(A0, Zero, 41)
	p.ADDI(A0, A0, 1)
	p.ECALL()
	cpu, _ := run(t, p)
	if cpu.X[A0] != 42 {
		t.Fatalf("a0 = %d, want 42", cpu.X[A0])
	}
}

func TestZeroRegisterStaysZero(t *testing.T) {
	p := NewProgram()
	p.ADDI(Zero, Zero, 99)
	p.ECALL()
	cpu, _ := run(t, p)
	if cpu.X[Zero] != 0 {
		t.Fatalf("x0 = %d, want 0 regardless of writes", cpu.X[Zero])
	}
}

func TestBranchTaken(t *testing.T) {
	p := NewProgram()
	p.ADDI(A0, Zero, 1)
	p.ADDI(T0, Zero, 1)
	p.BEQ(A0, T0, "skip")
	p.ADDI(A0, Zero, 0xdead) // skipped
	p.Label("skip")
	p.ECALL()
	cpu, _ := run(t, p)
	if cpu.X[A0] != 1 {
		t.Fatalf("a0 = %#x, want 1 (branch should have been taken)", cpu.X[A0])
	}
}

func TestBranchNotTaken(t *testing.T) {
	p := NewProgram()
	p.ADDI(A0, Zero, 1)
	p.ADDI(T0, Zero, 2)
	p.BEQ(A0, T0, "skip")
	p.ADDI(A0, Zero, 7)
	p.Label("skip")
	p.ECALL()
	cpu, _ := run(t, p)
	if cpu.X[A0] != 7 {
		t.Fatalf("a0 = %d, want 7 (branch should not have been taken)", cpu.X[A0])
	}
}

func TestJumpAndLink(t *testing.T) {
	p := NewProgram()
	p.JAL(RA, "target")
	p.ADDI(A0, Zero, 0xdead) // skipped
	p.Label("target")
	p.ADDI(A0, Zero, 5)
	p.ECALL()
	cpu, _ := run(t, p)
	if cpu.X[A0] != 5 {
		t.Fatalf("a0 = %#x, want 5", cpu.X[A0])
	}
	if cpu.X[RA] == 0 {
		t.Fatalf("ra not set by JAL")
	}
}

func TestStoreThenLoad(t *testing.T) {
	p := NewProgram()
	p.LA(T0, 0x1000) // base address, points at code start
	p.ADDI(A0, Zero, 123)
	p.SD(T0, A0, 32) // store below the code, in the padding area
	p.LD(A1, T0, 32)
	p.ECALL()
	cpu, _ := run(t, p)
	if cpu.X[A1] != 123 {
		t.Fatalf("a1 = %d, want 123 (round trip through memory)", cpu.X[A1])
	}
}

func TestLAComputesAbsoluteAddress(t *testing.T) {
	p := NewProgram()
	p.LA(A0, 0x1000+40)
	p.ECALL()
	cpu, _ := run(t, p)
	if cpu.X[A0] != 0x1000+40 {
		t.Fatalf("a0 = %#x, want %#x", cpu.X[A0], 0x1000+40)
	}
}

func TestStepFaultsOnUnmappedFetch(t *testing.T) {
	mem := &flatMemory{base: 0x1000, buf: make([]byte, 4)}
	cpu := &CPU{PC: 0x2000}
	cause, err := Step(cpu, mem)
	if cause != Fault || err == nil {
		t.Fatalf("Step at an unmapped PC = %v, %v, want Fault, non-nil", cause, err)
	}
}

func TestStepIllegalOpcode(t *testing.T) {
	mem := &flatMemory{base: 0, buf: []byte{0xff, 0xff, 0xff, 0xff}}
	cpu := &CPU{PC: 0}
	cause, err := Step(cpu, mem)
	if cause != Illegal || err == nil {
		t.Fatalf("Step on a bogus opcode = %v, %v, want Illegal, non-nil", cause, err)
	}
}

func TestAdvancePastECall(t *testing.T) {
	p := NewProgram()
	p.ECALL()
	p.ADDI(A0, Zero, 9)
	p.ECALL()
	code, err := p.Link()
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	mem := &flatMemory{base: 0, buf: code}
	cpu := &CPU{PC: 0}

	cause, _ := Step(cpu, mem)
	if cause != ECall {
		t.Fatalf("first Step cause = %v, want ECall", cause)
	}
	pcAtCall := cpu.PC
	Advance(cpu)
	if cpu.PC != pcAtCall+4 {
		t.Fatalf("Advance moved PC to %#x, want %#x", cpu.PC, pcAtCall+4)
	}

	cause, _ = Step(cpu, mem)
	if cause != None {
		t.Fatalf("second Step cause = %v, want None", cause)
	}
	cause, _ = Step(cpu, mem)
	if cause != ECall {
		t.Fatalf("third Step cause = %v, want ECall", cause)
	}
	if cpu.X[A0] != 9 {
		t.Fatalf("a0 = %d, want 9", cpu.X[A0])
	}
}

func TestLinkUndefinedLabelErrors(t *testing.T) {
	p := NewProgram()
	p.JAL(RA, "nowhere")
	if _, err := p.Link(); err == nil {
		t.Fatalf("Link with an undefined label target did not error")
	}
}
