package edits

//
// Wire format for inbound edit packets and outbound NACKs.
//
// An edit datagram looks like:
//
//	[outer framing header][sequence: uint16][sentAt: uint64 usec][edit records...]
//
// where each edit record is self-delimiting: its length is only known after
// the shared tree attempts to apply it. A NACK datagram looks like:
//
//	[outer framing header][count: uint16][sequence: uint16]...
//
// Multi-byte fields are little-endian. The outer framing header is owned by
// the surrounding server; this package talks to it through a HeaderCodec.
//

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// PacketType tags the kind of payload a datagram carries. The tree decides
// which of these are edit types; the pipeline only needs the tag itself and
// the NACK type for outbound datagrams.
type PacketType byte

const (
	TypeUnknown PacketType = iota
	TypeEntityAdd
	TypeEntityEdit
	TypeEntityErase
	TypeEntityNack
)

// SenderID identifies a connected client session.
type SenderID = uuid.UUID

// DefaultSenderID is the sentinel identity used to track datagrams whose
// sender is anonymous or already disconnected. Tracking against it is an
// explicit fallback, not an error.
var DefaultSenderID = uuid.Nil

// Datagram is one received datagram plus its originating sender. Datagrams
// are queued by value and consumed exactly once.
type Datagram struct {
	Sender  SenderID
	Payload []byte
}

// HeaderCodec encodes and decodes the outer framing header, which is opaque
// to this package and variable in length.
type HeaderCodec interface {
	// DecodeHeader reads the framing header at the start of b and returns
	// the packet type and the number of header bytes consumed.
	DecodeHeader(b []byte) (PacketType, int, error)

	// AppendHeader appends a framing header for the given packet type to
	// dst and returns the extended slice.
	AppendHeader(dst []byte, t PacketType) []byte
}

// minimalHeaderCodec is a two-byte framing header: packet type followed by a
// protocol version. It is the codec used by the demo server and the tests.
type minimalHeaderCodec struct {
	version byte
}

// NewMinimalHeaderCodec returns a HeaderCodec for the two-byte
// type+version framing header.
func NewMinimalHeaderCodec(version byte) HeaderCodec {
	return &minimalHeaderCodec{version: version}
}

func (c *minimalHeaderCodec) DecodeHeader(b []byte) (PacketType, int, error) {
	if len(b) < 2 {
		return TypeUnknown, 0, fmt.Errorf("%w: short framing header", errBadInput)
	}
	if b[1] != c.version {
		return TypeUnknown, 0, fmt.Errorf("%w: framing version %d, want %d", errBadInput, b[1], c.version)
	}
	return PacketType(b[0]), 2, nil
}

func (c *minimalHeaderCodec) AppendHeader(dst []byte, t PacketType) []byte {
	return append(dst, byte(t), c.version)
}

// reader is a bounds-checked cursor over a datagram. Every read validates
// the remaining length first, so a truncated datagram surfaces as a decode
// error instead of a slice panic.
type reader struct {
	buf []byte
	off int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) skip(n int) error {
	if n < 0 || n > r.remaining() {
		return fmt.Errorf("%w: cannot skip %d bytes, %d remain", errBadInput, n, r.remaining())
	}
	r.off += n
	return nil
}

func (r *reader) readUint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, fmt.Errorf("%w: need 2 bytes, %d remain", errBadInput, r.remaining())
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) readUint64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, fmt.Errorf("%w: need 8 bytes, %d remain", errBadInput, r.remaining())
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}
