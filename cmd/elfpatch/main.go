// Command elfpatch modifies the entry address of an ELF binary.
//
// It exists for the same reason fixtures.buildELF exists: there is no
// cross toolchain on hand to recompile a demo image with a different
// entry point, so this patches the e_entry field of an already-built
// RV64 ELF in place. Unlike a generic entry patcher, it knows this
// kernel's address-space layout (§3) and refuses to write an entry
// point elfload.Load could never reach: one outside
// [layout.UserStart, layout.UserEnd), or one that isn't 4-byte
// aligned, which every RV64I instruction (this hart has no C
// extension) must be.
package main

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"strconv"

	"layout"
)

func usage(me string) {
	fmt.Printf("%s <filename> <addr>\n\nChange the ELF entry point of <filename> to <addr>\n", me)
	os.Exit(1)
}

// chkELF validates that the file is a 64-bit little-endian RISC-V
// executable before we touch its header.
func chkELF(eh *elf.FileHeader) error {
	if eh.Ident[0] != 0x7f || string(eh.Ident[1:4]) != "ELF" {
		return fmt.Errorf("not an elf")
	}
	if eh.Ident[elf.EI_DATA] != elf.ELFDATA2LSB {
		return fmt.Errorf("not little-endian")
	}
	if eh.Ident[elf.EI_CLASS] != elf.ELFCLASS64 {
		return fmt.Errorf("not a 64 bit elf")
	}
	if eh.Type != elf.ET_EXEC {
		return fmt.Errorf("not an executable elf")
	}
	if eh.Machine != elf.EM_RISCV {
		return fmt.Errorf("not a RISC-V elf")
	}
	return nil
}

// validateEntry rejects addresses elfload.Load would never actually
// reach: outside the user region this design maps code and data into,
// or not instruction-aligned. A real bootloader would trap on a
// misaligned or wild fetch; this tool catches the mistake at patch
// time instead of at first instruction fetch.
func validateEntry(addr uint64) error {
	if addr%4 != 0 {
		return fmt.Errorf("entry %#x is not 4-byte aligned (no compressed-instruction support)", addr)
	}
	if addr < uint64(layout.UserStart) || addr >= uint64(layout.UserEnd) {
		return fmt.Errorf("entry %#x outside user region [%#x, %#x)", addr, layout.UserStart, layout.UserEnd)
	}
	return nil
}

func main() {
	if len(os.Args) != 3 {
		usage(os.Args[0])
	}
	fn := os.Args[1]
	addr, err := parseAddr(os.Args[2])
	if err != nil {
		log.Fatal(err)
	}
	if err := validateEntry(addr); err != nil {
		log.Fatal(err)
	}

	f, err := os.OpenFile(fn, os.O_RDWR, 0)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		log.Fatal(err)
	}
	if err := chkELF(&ef.FileHeader); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("using entry address 0x%x\n", addr)
	ef.FileHeader.Entry = addr

	if _, err := f.Seek(0, 0); err != nil {
		log.Fatal(err)
	}
	if err := binary.Write(f, binary.LittleEndian, &ef.FileHeader); err != nil {
		log.Fatal(err)
	}
}

// parseAddr accepts decimal or 0x-prefixed hexadecimal addresses.
func parseAddr(s string) (uint64, error) {
	a, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return a, nil
}
