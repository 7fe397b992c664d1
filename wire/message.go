// Package wire defines the overlay's on-the-wire message framing: a
// fixed big-endian header followed by a content-specific payload
// (spec.md §6.2). The header is hand-rolled with encoding/binary
// rather than a general-purpose serializer because its layout is a
// small, permanently fixed byte budget — the same reasoning the
// teacher applies to its own encoding/binary call sites scattered
// across core (state_channel.go, transactions.go, rollups.go).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"teapotnet/identity"
)

// Type is the envelope routing discriminant (spec.md §6.2 "type").
type Type uint8

const (
	Forward Type = iota
	Broadcast
	Lookup
	TunnelEnvelope
)

func (t Type) String() string {
	switch t {
	case Forward:
		return "Forward"
	case Broadcast:
		return "Broadcast"
	case Lookup:
		return "Lookup"
	case TunnelEnvelope:
		return "Tunnel"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Content is the payload discriminant (spec.md §6.2 "content").
type Content uint8

const (
	Notify Content = iota
	Ack
	Call
	Cancel
	Data
	Publish
	Subscribe
	TunnelContent
)

func (c Content) String() string {
	switch c {
	case Notify:
		return "Notify"
	case Ack:
		return "Ack"
	case Call:
		return "Call"
	case Cancel:
		return "Cancel"
	case Data:
		return "Data"
	case Publish:
		return "Publish"
	case Subscribe:
		return "Subscribe"
	case TunnelContent:
		return "Tunnel"
	default:
		return fmt.Sprintf("Content(%d)", uint8(c))
	}
}

// ProtocolVersion is the only version this implementation emits or
// accepts.
const ProtocolVersion = 1

// MaxPayloadSize is the largest payload a header's 16-bit size field
// can describe (spec.md §6.2).
const MaxPayloadSize = 1<<16 - 1

// HeaderSize is the fixed byte width of a Message header, per the
// field table in spec.md §6.2: version(1) flags(1) type(1) content(1)
// hops(1) size(2) source(32) destination(32).
const HeaderSize = 1 + 1 + 1 + 1 + 1 + 2 + identity.Size + identity.Size

// Message is one routed overlay frame.
type Message struct {
	Version     uint8
	Flags       uint8
	Type        Type
	Content     Content
	Hops        uint8
	Source      identity.Identifier
	Destination identity.Identifier
	Payload     []byte
}

var (
	// ErrPayloadTooLarge is returned by Encode when Payload exceeds
	// MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("wire: payload exceeds maximum frame size")
	// ErrShortHeader is returned by Decode when fewer than HeaderSize
	// bytes are available.
	ErrShortHeader = errors.New("wire: short header")
	// ErrShortPayload is returned by Decode when the declared payload
	// size exceeds the bytes actually available.
	ErrShortPayload = errors.New("wire: short payload")
)

// Encode serializes m into its fixed-header wire form.
func (m Message) Encode() ([]byte, error) {
	if len(m.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderSize+len(m.Payload))
	buf[0] = m.Version
	buf[1] = m.Flags
	buf[2] = uint8(m.Type)
	buf[3] = uint8(m.Content)
	buf[4] = m.Hops
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(m.Payload)))
	copy(buf[7:7+identity.Size], m.Source[:])
	copy(buf[7+identity.Size:7+2*identity.Size], m.Destination[:])
	copy(buf[HeaderSize:], m.Payload)
	return buf, nil
}

// Decode parses a Message from the front of data, returning the
// number of bytes consumed. It performs no interpretation of the
// payload — callers decode Content-specific payloads separately via
// this package's DecodeX helpers.
func Decode(data []byte) (Message, int, error) {
	if len(data) < HeaderSize {
		return Message{}, 0, ErrShortHeader
	}
	size := binary.BigEndian.Uint16(data[5:7])
	total := HeaderSize + int(size)
	if len(data) < total {
		return Message{}, 0, ErrShortPayload
	}

	var m Message
	m.Version = data[0]
	m.Flags = data[1]
	m.Type = Type(data[2])
	m.Content = Content(data[3])
	m.Hops = data[4]
	copy(m.Source[:], data[7:7+identity.Size])
	copy(m.Destination[:], data[7+identity.Size:7+2*identity.Size])
	if size > 0 {
		m.Payload = append([]byte(nil), data[HeaderSize:total]...)
	}
	return m, total, nil
}

// ReadMessage decodes exactly one Message from r, a convenience over
// Decode for stream carriers: it reads the fixed header first to
// learn the payload length, then reads exactly that many more bytes.
func ReadMessage(r interface {
	Read(p []byte) (int, error)
}) (Message, error) {
	header := make([]byte, HeaderSize)
	if _, err := readFull(r, header); err != nil {
		return Message{}, err
	}
	size := binary.BigEndian.Uint16(header[5:7])
	payload := make([]byte, size)
	if size > 0 {
		if _, err := readFull(r, payload); err != nil {
			return Message{}, err
		}
	}
	full := append(header, payload...)
	msg, _, err := Decode(full)
	return msg, err
}

func readFull(r interface {
	Read(p []byte) (int, error)
}, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
