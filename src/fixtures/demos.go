package fixtures

import (
	"codec"
	"fsservice"
	"layout"
	"rvasm"
	"trap"
	"util"
)

func alignUp4(n int) int { return util.Roundup(n, 4) }

// assemble lays out data (read-only constants, e.g. process names)
// at the start of the segment and appends code right after it, so
// any LA referencing an address inside data can be computed before
// the code that follows it is assembled.
func assemble(data []byte, build func(p *rvasm.Program, dataAddr uint64)) []byte {
	dataLen := alignUp4(len(data))
	padded := make([]byte, dataLen)
	copy(padded, data)

	prog := rvasm.NewProgram()
	build(prog, uint64(layout.UserStart))
	code, err := prog.Link()
	if err != nil {
		panic(err)
	}

	image := make([]byte, dataLen+len(code))
	copy(image, padded)
	copy(image[dataLen:], code)
	return buildELF(image, uint64(dataLen))
}

// Hello is S1: print "Hi" one byte at a time via putchar, then exit.
func Hello() []byte {
	return assemble(nil, func(p *rvasm.Program, _ uint64) {
		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysPutchar)
		p.ADDI(rvasm.A0, rvasm.Zero, 'H')
		p.ECALL()
		p.ADDI(rvasm.A0, rvasm.Zero, 'i')
		p.ECALL()
		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysExit)
		p.ECALL()
	})
}

// nameProgram builds a process that calls pid_by_name(peerName), copies
// the returned PID into t0, then exits. A test reads the resolved PID
// from the process's saved registers rather than needing a second
// syscall.
func nameProgram(peerName string) []byte {
	data := append([]byte(peerName), 0)
	return assemble(data, func(p *rvasm.Program, dataAddr uint64) {
		p.LA(rvasm.A0, dataAddr)
		p.ADDI(rvasm.A1, rvasm.Zero, int64(len(peerName)))
		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysPidByName)
		p.ECALL()
		// Keep the resolved pid in t0, where it can be read from the
		// saved registers after the process exits.
		p.ADDI(rvasm.T0, rvasm.A0, 0)
		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysExit)
		p.ECALL()
	})
}

// Alice is S2: resolves "bob" by name, then exits.
func Alice() []byte { return nameProgram("bob") }

// Bob is S2's peer: a plain process with a stable name for Alice to
// resolve, idling immediately via exit since only its existence and
// name matter to the scenario.
func Bob() []byte {
	return assemble(nil, func(p *rvasm.Program, _ uint64) {
		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysExit)
		p.ECALL()
	})
}

// ipcSender builds a process that sends payload to the process named
// peerName (resolved via pid_by_name), then yields so the scheduler
// can run the peer, then exits.
func ipcSender(peerName string, payload []byte) []byte {
	data := append([]byte(peerName), 0)
	bufOff := alignUp4(len(data))
	data = append(make([]byte, 0, bufOff+len(payload)), data...)
	for len(data) < bufOff {
		data = append(data, 0)
	}
	data = append(data, payload...)

	return assemble(data, func(p *rvasm.Program, dataAddr uint64) {
		nameAddr := dataAddr
		bufAddr := dataAddr + uint64(bufOff)

		p.LA(rvasm.A0, nameAddr)
		p.ADDI(rvasm.A1, rvasm.Zero, int64(len(peerName)))
		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysPidByName)
		p.ECALL()
		p.ADDI(rvasm.T0, rvasm.A0, 0) // stash resolved dest pid

		p.LA(rvasm.A0, bufAddr)
		p.ADDI(rvasm.A1, rvasm.Zero, int64(len(payload)))
		p.ADDI(rvasm.A2, rvasm.T0, 0)
		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysIPCSend)
		p.ECALL()

		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysYield)
		p.ECALL()
		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysExit)
		p.ECALL()
	})
}

// ipcReceiver builds a process that blocks in ipc_recv into a scratch
// buffer, then exits once a message arrives. The buffer is a heap page
// from allocate_pages, since the image's own segment is read+execute.
func ipcReceiver(bufLen int) []byte {
	return assemble(nil, func(p *rvasm.Program, _ uint64) {
		p.ADDI(rvasm.A0, rvasm.Zero, 1)
		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysAllocatePages)
		p.ECALL() // a0 = base of one read-write page
		p.ADDI(rvasm.A1, rvasm.Zero, int64(bufLen))
		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysIPCRecv)
		p.ECALL()
		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysExit)
		p.ECALL()
	})
}

// IPCA and IPCB are S3's round-trip pair: A sends [0x01,0x02,0x03] to
// "ipc-b" and yields; B receives it, then would send [0x04] back in a
// fuller build of the ABI plan. This minimal straight-line version
// (no branches) has each side perform one send or
// one recv, which is enough to exercise the mailbox end to end.
func IPCA() []byte { return ipcSender("ipc-b", []byte{0x01, 0x02, 0x03}) }
func IPCB() []byte { return ipcReceiver(8) }

// capProgram builds a process that, once granted a capability address
// in a0 via an earlier IPC message (written into its own capability
// page by the sender's own Grant/Forward call, per §4.8 — the process
// itself does nothing at the assembly level to receive one, since
// capability transfer is a direct memory operation, not a syscall),
// simply exits. The capability chain itself (S4) is exercised at the
// Go level in tests against the cap package directly, the same way
// the capability pages are written outside of any syscall.
func capProgram() []byte {
	return assemble(nil, func(p *rvasm.Program, _ uint64) {
		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysExit)
		p.ECALL()
	})
}

// CapA, CapB, and CapC are S4's three-party forwarding demo processes.
// Their rvasm bodies are intentionally trivial placeholders: the
// forwarding chain itself is Grant/Forward/Validate calls made
// directly against the cap engine (see cap's tests), since that is
// exactly how the design says capability operations work — in memory,
// not through a syscall.
func CapA() []byte { return capProgram() }
func CapB() []byte { return capProgram() }
func CapC() []byte { return capProgram() }

// FSClient is S5's filesystem client: it resolves "fsservice" by name,
// sends it a codec-encoded Read request for path, and blocks in
// ipc_recv for the reply (into a heap page from allocate_pages, since
// the image's own segment is read+execute) before exiting. The blocked recv is what
// gives the native fsservice process a scheduler turn to answer, the
// same way any other blocked receiver yields to the rest of the table.
func FSClient(path string) []byte {
	const peerName = "fsservice"
	const respBufLen = 256

	name := append([]byte(peerName), 0)
	req := codec.NewEncoder(fsservice.ReqRead).String(path).Finish()

	nameOff := 0
	reqOff := alignUp4(nameOff + len(name))
	total := reqOff + len(req)

	data := make([]byte, total)
	copy(data[nameOff:], name)
	copy(data[reqOff:], req)

	return assemble(data, func(p *rvasm.Program, dataAddr uint64) {
		nameAddr := dataAddr + uint64(nameOff)
		reqAddr := dataAddr + uint64(reqOff)

		p.LA(rvasm.A0, nameAddr)
		p.ADDI(rvasm.A1, rvasm.Zero, int64(len(peerName)))
		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysPidByName)
		p.ECALL()
		p.ADDI(rvasm.T0, rvasm.A0, 0)

		p.LA(rvasm.A0, reqAddr)
		p.ADDI(rvasm.A1, rvasm.Zero, int64(len(req)))
		p.ADDI(rvasm.A2, rvasm.T0, 0)
		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysIPCSend)
		p.ECALL()

		p.ADDI(rvasm.A0, rvasm.Zero, 1)
		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysAllocatePages)
		p.ECALL() // a0 = base of one read-write page
		p.ADDI(rvasm.A1, rvasm.Zero, respBufLen)
		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysIPCRecv)
		p.ECALL()

		p.ADDI(rvasm.A3, rvasm.Zero, trap.SysExit)
		p.ECALL()
	})
}
