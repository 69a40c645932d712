// Package elfload parses a 64-bit little-endian RISC-V executable and
// maps its loadable segments into a fresh address space.
package elfload

import (
	"bytes"
	"debug/elf"
	"fmt"

	"layout"
	"mem"
	"pagetable"
)

// Errors signaled by Load, matching the design's failure taxonomy
// (§4.3).
var (
	ErrBadMagic           = fmt.Errorf("elfload: bad magic")
	ErrUnsupportedClass   = fmt.Errorf("elfload: unsupported class/machine/type")
	ErrSegmentOutOfRange  = fmt.Errorf("elfload: segment out of range")
	ErrWritableExecutable = fmt.Errorf("elfload: segment is both writable and executable")
)

// Load parses raw, an in-memory ELF64 RISC-V executable, and maps its
// PT_LOAD segments into the address space rooted at root. It returns
// the entry point.
func Load(phys *mem.Physmem_t, root mem.Pa_t, raw []byte) (entry uintptr, err error) {
	if len(raw) < 4 || !bytes.Equal(raw[:4], []byte{0x7f, 'E', 'L', 'F'}) {
		return 0, ErrBadMagic
	}

	f, ferr := elf.NewFile(bytes.NewReader(raw))
	if ferr != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadMagic, ferr)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB ||
		f.Type != elf.ET_EXEC || f.Machine != elf.EM_RISCV {
		return 0, ErrUnsupportedClass
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if err := loadSegment(phys, root, raw, prog); err != nil {
			return 0, err
		}
	}

	return uintptr(f.Entry), nil
}

func loadSegment(phys *mem.Physmem_t, root mem.Pa_t, raw []byte, prog *elf.Prog) error {
	vaddr := uintptr(prog.Vaddr)
	filesz := prog.Filesz
	memsz := prog.Memsz

	if vaddr%layout.PageSize != 0 {
		return fmt.Errorf("%w: vaddr %#x not page-aligned", ErrSegmentOutOfRange, vaddr)
	}
	if vaddr < layout.UserStart {
		return fmt.Errorf("%w: vaddr %#x below USER_START", ErrSegmentOutOfRange, vaddr)
	}
	if filesz > memsz {
		return fmt.Errorf("%w: filesz > memsz", ErrSegmentOutOfRange)
	}
	if vaddr+uintptr(memsz) > layout.UserEnd {
		return fmt.Errorf("%w: segment extends past USER_END", ErrSegmentOutOfRange)
	}
	if prog.Align != layout.PageSize {
		return fmt.Errorf("%w: alignment %#x != page size", ErrSegmentOutOfRange, prog.Align)
	}
	writable := prog.Flags&elf.PF_W != 0
	executable := prog.Flags&elf.PF_X != 0
	if writable && executable {
		return ErrWritableExecutable
	}

	flags := pagetable.ReadOnly
	if writable {
		flags = pagetable.ReadWrite
	} else if executable {
		flags = pagetable.ReadExecute
	}

	pageCount := int((memsz + layout.PageSize - 1) / layout.PageSize)
	if pageCount == 0 {
		return nil
	}
	basePA, err := phys.AllocPages(pageCount)
	if err != nil {
		return fmt.Errorf("elfload: %w", err)
	}

	dst := phys.Bytes(basePA, pageCount*layout.PageSize)
	off := prog.Off
	if int(off)+int(filesz) > len(raw) {
		return fmt.Errorf("%w: segment file range exceeds image", ErrSegmentOutOfRange)
	}
	copy(dst[:filesz], raw[off:off+filesz])
	for i := filesz; i < uint64(len(dst)); i++ {
		dst[i] = 0
	}

	pagetable.MapPages(phys, root, vaddr, basePA, flags, pageCount)
	return nil
}
