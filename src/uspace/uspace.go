// Package uspace copies bytes between the kernel and a process's user
// address space, one page at a time, the same scatter/gather shape the
// teacher kernel uses for its user buffers — adapted here to walk an
// Sv39 page table instead of a demand-paged Vm_t.
package uspace

import (
	"fmt"

	"layout"
	"mem"
	"pagetable"
)

// Buffer addresses a byte range [VA, VA+Len) in one process's address
// space. It carries no read progress of its own; Read/Write always
// start at VA and copy min(len(dst_or_src), Len) bytes.
type Buffer struct {
	Phys *mem.Physmem_t
	Root mem.Pa_t
	VA   uintptr
	Len  int
}

// Read copies up to len(dst) bytes from the user buffer into dst and
// returns how many bytes were copied. It stops early, without error,
// at the end of the buffer; it returns an error only when a page in
// range is unmapped or lacks read permission.
func (b Buffer) Read(dst []byte) (int, error) {
	return b.tx(dst, false)
}

// Write copies up to len(src) bytes from src into the user buffer.
func (b Buffer) Write(src []byte) (int, error) {
	return b.tx(src, true)
}

func (b Buffer) tx(buf []byte, write bool) (int, error) {
	n := len(buf)
	if n > b.Len {
		n = b.Len
	}
	copied := 0
	for copied < n {
		va := b.VA + uintptr(copied)
		pageOff := va % layout.PageSize
		chunk := layout.PageSize - int(pageOff)
		if remain := n - copied; chunk > remain {
			chunk = remain
		}

		pa, flags, ok := pagetable.Lookup(b.Phys, b.Root, va-pageOff)
		if !ok {
			return copied, fmt.Errorf("uspace: address %#x not mapped", va)
		}
		if write && flags&pagetable.W == 0 {
			return copied, fmt.Errorf("uspace: address %#x not writable", va)
		}
		if !write && flags&pagetable.R == 0 {
			return copied, fmt.Errorf("uspace: address %#x not readable", va)
		}

		page := b.Phys.Bytes(pa, layout.PageSize)
		if write {
			copy(page[pageOff:pageOff+uintptr(chunk)], buf[copied:copied+chunk])
		} else {
			copy(buf[copied:copied+chunk], page[pageOff:pageOff+uintptr(chunk)])
		}
		copied += chunk
	}
	return copied, nil
}

// ReadAll reads exactly n bytes starting at va, erroring if the buffer
// region is shorter than n or any page in range is unmapped.
func ReadAll(phys *mem.Physmem_t, root mem.Pa_t, va uintptr, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := (Buffer{Phys: phys, Root: root, VA: va, Len: n}).Read(buf)
	if err != nil {
		return nil, err
	}
	if got != n {
		return nil, fmt.Errorf("uspace: short read at %#x: got %d want %d", va, got, n)
	}
	return buf, nil
}

// WriteAll writes all of data starting at va, erroring if any page in
// range is unmapped or read-only.
func WriteAll(phys *mem.Physmem_t, root mem.Pa_t, va uintptr, data []byte) error {
	got, err := (Buffer{Phys: phys, Root: root, VA: va, Len: len(data)}).Write(data)
	if err != nil {
		return err
	}
	if got != len(data) {
		return fmt.Errorf("uspace: short write at %#x: wrote %d want %d", va, got, len(data))
	}
	return nil
}

// Memory adapts a process's address space to rvasm.Memory, so the
// interpreter can fetch instructions and perform loads/stores directly
// against user memory with real permission checks. It checks R/W but
// not X on fetch, since rvasm.Step reads instruction and data bytes
// through the same interface; pages are never both W and X anyway
// (elfload rejects that), so this does not let a process do anything
// the loader did not already allow.
type Memory struct {
	Phys *mem.Physmem_t
	Root mem.Pa_t
}

func (m Memory) ReadByte(addr uint64) (byte, bool) {
	pa, flags, ok := pagetable.Lookup(m.Phys, m.Root, uintptr(addr)-uintptr(addr)%layout.PageSize)
	if !ok || flags&pagetable.R == 0 {
		return 0, false
	}
	page := m.Phys.Bytes(pa, layout.PageSize)
	return page[uintptr(addr)%layout.PageSize], true
}

func (m Memory) WriteByte(addr uint64, b byte) bool {
	pa, flags, ok := pagetable.Lookup(m.Phys, m.Root, uintptr(addr)-uintptr(addr)%layout.PageSize)
	if !ok || flags&pagetable.W == 0 {
		return false
	}
	page := m.Phys.Bytes(pa, layout.PageSize)
	page[uintptr(addr)%layout.PageSize] = b
	return true
}
