// Package fixtures builds the demo application ELF images (§4.11) from
// rvasm-assembled machine code. There is no cross toolchain available
// to compile real RISC-V binaries for this hosted kernel, so this
// package plays that role: it wraps a flat code blob in the minimal
// ELF64 container elfload.Load already knows how to parse.
package fixtures

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"layout"
	"util"
)

// buildELF wraps image as a single PT_LOAD, read+execute (never
// read+write+execute — elfload rejects W^X violations, and these
// fixtures never self-modify) segment starting at layout.UserStart.
// entryOffset is where execution begins, relative to the segment's
// start; fixtures place read-only string data at offset 0 and code
// after it, so string addresses are known before any code referencing
// them is assembled.
func buildELF(image []byte, entryOffset uint64) []byte {
	const vaddr = uint64(layout.UserStart)
	pageSize := uint64(layout.PageSize)
	memsz := util.Roundup(uint64(len(image)), pageSize)
	padded := make([]byte, memsz)
	copy(padded, image)

	var buf bytes.Buffer

	const ehsize = 64
	const phsize = 56
	phoff := uint64(ehsize)
	dataOff := phoff + phsize

	var ident [elf.EI_NIDENT]byte
	ident[elf.EI_MAG0] = '\x7f'
	ident[elf.EI_MAG1] = 'E'
	ident[elf.EI_MAG2] = 'L'
	ident[elf.EI_MAG3] = 'F'
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(elf.ET_EXEC))
	binary.Write(&buf, binary.LittleEndian, uint16(elf.EM_RISCV))
	binary.Write(&buf, binary.LittleEndian, uint32(elf.EV_CURRENT))
	binary.Write(&buf, binary.LittleEndian, vaddr+entryOffset) // e_entry
	binary.Write(&buf, binary.LittleEndian, phoff)      // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint64(0))  // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))  // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehsize))
	binary.Write(&buf, binary.LittleEndian, uint16(phsize))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shstrndx

	binary.Write(&buf, binary.LittleEndian, uint32(elf.PT_LOAD))
	binary.Write(&buf, binary.LittleEndian, uint32(elf.PF_R|elf.PF_X))
	binary.Write(&buf, binary.LittleEndian, dataOff)          // p_offset
	binary.Write(&buf, binary.LittleEndian, vaddr)            // p_vaddr
	binary.Write(&buf, binary.LittleEndian, vaddr)            // p_paddr
	binary.Write(&buf, binary.LittleEndian, uint64(len(padded))) // p_filesz
	binary.Write(&buf, binary.LittleEndian, uint64(len(padded))) // p_memsz
	binary.Write(&buf, binary.LittleEndian, pageSize)         // p_align

	buf.Write(padded)
	return buf.Bytes()
}
