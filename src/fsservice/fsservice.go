// Package fsservice implements a read-only ustar filesystem service
// (§4.10): it scans a block device for USTAR headers at startup and
// answers codec-encoded FilesystemRequest messages delivered over IPC.
// It runs as a native (Go-code) process rather than an interpreted
// rvasm program — the instruction subset rvasm implements is
// deliberately too small to make parsing ustar headers worth
// expressing as hand-assembled machine code.
package fsservice

import (
	"fmt"
	"strings"

	"cap"
	"codec"
	"layout"
	"mem"

	"blockdev"
)

// Request variant tags.
const (
	ReqRead          = 1
	ReqWrite         = 2
	ReqSubcapability = 3
)

// Response variant tags.
const (
	RespOK         = 1
	RespErr        = 2
	RespCapability = 3
)

// Error strings returned in RespErr payloads.
const (
	ErrNotFound  = "not found"
	ErrReadOnly  = "filesystem is read only"
	ErrCorrupt   = "corrupt archive"
)

// entry is one parsed ustar header: enough to serve Read without
// re-parsing headers on every request.
type entry struct {
	name   string
	size   int64
	sector uint64 // first data sector
}

// ustarBlockSize is the tar record size; USTAR headers and file data
// are both padded to multiples of it.
const ustarBlockSize = 512

// Service owns a block device and the directory scanned from it.
type Service struct {
	disk blockdev.Device
	dir  map[string]entry

	phys *mem.Physmem_t
	root mem.Pa_t
	caps *cap.Engine
	self layout.PID
}

// New scans disk for USTAR headers and returns a ready service. pid and
// root are the service's own process slot and page-table root (it has
// one, like any other process, even though nothing executes rvasm code
// in it), needed to issue forwarded capabilities under its own
// certifier identity.
func New(phys *mem.Physmem_t, caps *cap.Engine, pid layout.PID, root mem.Pa_t, disk blockdev.Device) (*Service, error) {
	s := &Service{
		disk: disk, dir: map[string]entry{},
		phys: phys, root: root, caps: caps, self: pid,
	}
	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) scan() error {
	sector := uint64(0)
	total := s.disk.Capacity()
	buf := make([]byte, ustarBlockSize)

	for sector < total {
		if err := s.disk.ReadSector(sector, buf); err != nil {
			return fmt.Errorf("fsservice: scanning sector %d: %w", sector, err)
		}
		if allZero(buf) {
			sector++
			continue
		}
		if string(buf[257:263]) != "ustar\x00" {
			return fmt.Errorf("fsservice: %w at sector %d", fmt.Errorf(ErrCorrupt), sector)
		}

		name := cstring(buf[0:100])
		size := parseOctal(buf[124:136])
		dataSectors := uint64((size + ustarBlockSize - 1) / ustarBlockSize)

		s.dir[name] = entry{name: name, size: size, sector: sector + 1}
		sector += 1 + dataSectors
	}
	return nil
}

// HandleMessage services one FilesystemRequest and returns the encoded
// response. It is called by the kernel's scheduler in place of
// stepping an interpreter, once per turn that this service's mailbox
// holds a pending message.
func (s *Service) HandleMessage(sender layout.PID, msg []byte) []byte {
	dec, err := codec.NewDecoder(msg)
	if err != nil {
		return errorResponse(err.Error())
	}

	switch dec.Tag {
	case ReqRead:
		path, err := dec.String()
		if err != nil {
			return errorResponse(err.Error())
		}
		data, err := s.read(path)
		if err != nil {
			return errorResponse(err.Error())
		}
		return codec.NewEncoder(RespOK).Bytes(data).Finish()

	case ReqWrite:
		return errorResponse(ErrReadOnly)

	case ReqSubcapability:
		path, err := dec.String()
		if err != nil {
			return errorResponse(err.Error())
		}
		addr := s.caps.Grant(s.phys, s.root, s.self, sender)
		s.caps.SetMeta(s.self, addr, path)
		return codec.NewEncoder(RespCapability).Capability(addr).Finish()

	default:
		return errorResponse(fmt.Sprintf("unknown request tag %d", dec.Tag))
	}
}

func (s *Service) read(path string) ([]byte, error) {
	e, ok := s.dir[path]
	if !ok {
		return nil, fmt.Errorf(ErrNotFound)
	}
	out := make([]byte, 0, e.size)
	buf := make([]byte, ustarBlockSize)
	remaining := e.size
	sector := e.sector
	for remaining > 0 {
		if err := s.disk.ReadSector(sector, buf); err != nil {
			return nil, fmt.Errorf("fsservice: reading %q: %w", path, err)
		}
		n := int64(ustarBlockSize)
		if remaining < n {
			n = remaining
		}
		out = append(out, buf[:n]...)
		remaining -= n
		sector++
	}
	return out, nil
}

// PathForCapability reports the path prefix a subcapability this
// service issued authorizes, for a holder that wants to describe what
// it was granted.
func (s *Service) PathForCapability(addr uintptr) (string, bool) {
	v, ok := s.caps.GetMeta(s.self, addr)
	if !ok {
		return "", false
	}
	path, ok := v.(string)
	return path, ok
}

func errorResponse(msg string) []byte {
	return codec.NewEncoder(RespErr).String(msg).Finish()
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func cstring(b []byte) string {
	if i := indexZero(b); i >= 0 {
		b = b[:i]
	}
	return strings.TrimRight(string(b), "/")
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

func parseOctal(b []byte) int64 {
	var v int64
	for _, c := range b {
		if c < '0' || c > '7' {
			continue
		}
		v = v*8 + int64(c-'0')
	}
	return v
}
