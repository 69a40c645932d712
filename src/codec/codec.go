// Package codec implements the canonical byte encoding user-level
// libraries wrap around ipc_send/ipc_recv (§4.9): deterministic,
// self-describing, externally-tagged sum types. The kernel never
// parses these bytes; only IPC endpoints (the demo apps, the
// filesystem service) do.
//
// Wire format: [1-byte variant tag][4-byte little-endian length][payload].
// Within a payload, byte strings are [4-byte len][bytes], sequences are
// [4-byte count][elements...], integers are fixed-width little-endian,
// and capability addresses are 8-byte little-endian machine words.
package codec

import (
	"encoding/binary"
	"fmt"
)

// Encoder builds one externally-tagged message.
type Encoder struct {
	tag     uint8
	payload []byte
}

// NewEncoder starts encoding a message with the given variant tag.
func NewEncoder(tag uint8) *Encoder {
	return &Encoder{tag: tag}
}

// Bytes appends a length-prefixed byte string field.
func (e *Encoder) Bytes(b []byte) *Encoder {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	e.payload = append(e.payload, lenBuf[:]...)
	e.payload = append(e.payload, b...)
	return e
}

// String appends a length-prefixed string field.
func (e *Encoder) String(s string) *Encoder {
	return e.Bytes([]byte(s))
}

// Uint64 appends a fixed-width little-endian integer field.
func (e *Encoder) Uint64(v uint64) *Encoder {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	e.payload = append(e.payload, buf[:]...)
	return e
}

// Uint32 appends a fixed-width little-endian 32-bit integer field.
func (e *Encoder) Uint32(v uint32) *Encoder {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	e.payload = append(e.payload, buf[:]...)
	return e
}

// Capability appends a capability address, encoded as a raw 8-byte
// machine word.
func (e *Encoder) Capability(addr uintptr) *Encoder {
	return e.Uint64(uint64(addr))
}

// Finish returns the complete, self-describing message.
func (e *Encoder) Finish() []byte {
	var header [5]byte
	header[0] = e.tag
	binary.LittleEndian.PutUint32(header[1:], uint32(len(e.payload)))
	return append(header[:], e.payload...)
}

// Decoder reads fields back out of a message produced by Encoder, in
// the same order they were written.
type Decoder struct {
	Tag     uint8
	payload []byte
	off     int
}

// NewDecoder parses the envelope of msg and returns a Decoder
// positioned at the start of its payload.
func NewDecoder(msg []byte) (*Decoder, error) {
	if len(msg) < 5 {
		return nil, fmt.Errorf("codec: message shorter than envelope")
	}
	tag := msg[0]
	n := binary.LittleEndian.Uint32(msg[1:5])
	if 5+int(n) > len(msg) {
		return nil, fmt.Errorf("codec: declared length %d exceeds message", n)
	}
	return &Decoder{Tag: tag, payload: msg[5 : 5+int(n)]}, nil
}

func (d *Decoder) need(n int) error {
	if d.off+n > len(d.payload) {
		return fmt.Errorf("codec: short read wanting %d bytes at offset %d", n, d.off)
	}
	return nil
}

// Bytes reads back a length-prefixed byte string field.
func (d *Decoder) Bytes() ([]byte, error) {
	if err := d.need(4); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(d.payload[d.off:])
	d.off += 4
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	b := d.payload[d.off : d.off+int(n)]
	d.off += int(n)
	return b, nil
}

// String reads back a length-prefixed string field.
func (d *Decoder) String() (string, error) {
	b, err := d.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Uint64 reads back a fixed-width little-endian integer field.
func (d *Decoder) Uint64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.payload[d.off:])
	d.off += 8
	return v, nil
}

// Uint32 reads back a fixed-width little-endian 32-bit integer field.
func (d *Decoder) Uint32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.payload[d.off:])
	d.off += 4
	return v, nil
}

// Capability reads back a capability address.
func (d *Decoder) Capability() (uintptr, error) {
	v, err := d.Uint64()
	return uintptr(v), err
}
