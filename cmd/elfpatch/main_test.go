package main

import (
	"debug/elf"
	"testing"

	"layout"
)

func TestValidateEntryAcceptsAddressWithinUserRegion(t *testing.T) {
	if err := validateEntry(uint64(layout.UserStart)); err != nil {
		t.Fatalf("validateEntry(UserStart) = %v, want nil", err)
	}
	if err := validateEntry(uint64(layout.UserStart + 4)); err != nil {
		t.Fatalf("validateEntry(UserStart+4) = %v, want nil", err)
	}
}

func TestValidateEntryRejectsMisalignedAddress(t *testing.T) {
	if err := validateEntry(uint64(layout.UserStart) + 2); err == nil {
		t.Fatalf("validateEntry accepted a non-4-byte-aligned address")
	}
}

func TestValidateEntryRejectsOutOfRangeAddress(t *testing.T) {
	if err := validateEntry(uint64(layout.UserEnd)); err == nil {
		t.Fatalf("validateEntry accepted an address at UserEnd (exclusive bound)")
	}
	if err := validateEntry(uint64(layout.CapBase)); err == nil {
		t.Fatalf("validateEntry accepted an address in the capability-page region")
	}
	if err := validateEntry(0); err == nil {
		t.Fatalf("validateEntry accepted the null address")
	}
}

func TestChkELFRejectsWrongMachine(t *testing.T) {
	eh := elf.FileHeader{
		Class:     elf.ELFCLASS64,
		Data:      elf.ELFDATA2LSB,
		Type:      elf.ET_EXEC,
		Machine:   elf.EM_X86_64,
		ByteOrder: elf.ELFDATA2LSB,
	}
	eh.Ident[0] = 0x7f
	eh.Ident[1] = 'E'
	eh.Ident[2] = 'L'
	eh.Ident[3] = 'F'
	eh.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	eh.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)

	if err := chkELF(&eh); err == nil {
		t.Fatalf("chkELF accepted an x86_64 header")
	}
}

func TestChkELFAcceptsWellFormedRISCVHeader(t *testing.T) {
	var eh elf.FileHeader
	eh.Ident[0] = 0x7f
	eh.Ident[1] = 'E'
	eh.Ident[2] = 'L'
	eh.Ident[3] = 'F'
	eh.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	eh.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	eh.Type = elf.ET_EXEC
	eh.Machine = elf.EM_RISCV

	if err := chkELF(&eh); err != nil {
		t.Fatalf("chkELF rejected a well-formed RISC-V header: %v", err)
	}
}
