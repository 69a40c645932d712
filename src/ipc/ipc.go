// Package ipc implements the single-slot mailbox each process owns
// (§4.7). There is no kernel-managed wait queue: the mailbox itself is
// the rendezvous, and a blocked receiver simply keeps re-issuing the
// same ecall until a sender writes to its slot.
package ipc

import (
	"fmt"

	"layout"
	"mem"
	"proc"
	"uspace"
)

// ErrNoSuchProcess is returned when dest names a slot that has never
// held a process.
var ErrNoSuchProcess = fmt.Errorf("ipc: destination process does not exist")

// Send copies length bytes from sender's address space at ptr into
// dest's mailbox, overwriting whatever was pending. This is the
// documented limitation the design calls out: a second send before the
// first is received loses the first message, with no backpressure.
func Send(phys *mem.Physmem_t, table *proc.Table, sender, dest layout.PID, ptr uintptr, length int) error {
	if dest < 0 || int(dest) >= layout.ProcessCount || table.Get(dest).State == proc.Unused {
		return ErrNoSuchProcess
	}
	senderRoot := table.Get(sender).Root
	data, err := uspace.ReadAll(phys, senderRoot, ptr, length)
	if err != nil {
		return fmt.Errorf("ipc: reading send buffer: %w", err)
	}

	dp := table.Get(dest)
	dp.Mailbox = proc.Mailbox{Pending: true, Sender: sender, Data: data}
	table.Get(sender).Accnt.Sent()
	return nil
}

// TryRecv attempts to drain receiver's mailbox into its buffer at
// ptr/bufLen. It reports ok=false when the mailbox is empty, in which
// case the caller must not advance its own program counter so the next
// scheduler turn retries the same ecall.
//
// Per §4.7, the receiver's buffer must be at least as large as the
// pending message; a short buffer is not a recoverable condition on
// the receiver's part (it already knows what it sent to itself as the
// expected reply size) but a violated contract, so this panics rather
// than silently truncating the message.
func TryRecv(phys *mem.Physmem_t, table *proc.Table, receiver layout.PID, ptr uintptr, bufLen int) (length int, sender layout.PID, ok bool, err error) {
	rp := table.Get(receiver)
	if !rp.Mailbox.Pending {
		return 0, layout.Sentinel, false, nil
	}

	data := rp.Mailbox.Data
	if len(data) > bufLen {
		panic(fmt.Sprintf("ipc: TryRecv buffer too small: have %d bytes, need %d", bufLen, len(data)))
	}
	if werr := uspace.WriteAll(phys, rp.Root, ptr, data); werr != nil {
		return 0, layout.Sentinel, false, fmt.Errorf("ipc: writing recv buffer: %w", werr)
	}

	sender = rp.Mailbox.Sender
	rp.Mailbox = proc.Mailbox{}
	rp.Accnt.Recvd()
	return len(data), sender, true, nil
}

// SendRaw delivers data directly into dest's mailbox without reading
// it out of anyone's user address space. It is for native (Go-code)
// services such as fsservice that have no address space of their own
// to copy from.
func SendRaw(table *proc.Table, sender, dest layout.PID, data []byte) error {
	if dest < 0 || int(dest) >= layout.ProcessCount || table.Get(dest).State == proc.Unused {
		return ErrNoSuchProcess
	}
	table.Get(dest).Mailbox = proc.Mailbox{Pending: true, Sender: sender, Data: data}
	table.Get(sender).Accnt.Sent()
	return nil
}

// TryRecvRaw drains receiver's mailbox into a freshly returned slice,
// without copying through any user address space.
func TryRecvRaw(table *proc.Table, receiver layout.PID) (data []byte, sender layout.PID, ok bool) {
	rp := table.Get(receiver)
	if !rp.Mailbox.Pending {
		return nil, layout.Sentinel, false
	}
	data = rp.Mailbox.Data
	sender = rp.Mailbox.Sender
	rp.Mailbox = proc.Mailbox{}
	rp.Accnt.Recvd()
	return data, sender, true
}
