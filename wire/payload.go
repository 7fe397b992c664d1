package wire

import (
	"encoding/binary"
	"errors"

	"teapotnet/blockstore"
)

// ErrMalformedPayload is returned by the DecodeX helpers when a
// payload is shorter than its content type requires.
var ErrMalformedPayload = errors.New("wire: malformed payload")

// NotifyPayload is the Notify/Ack content: a sequence number (0 means
// unacknowledged for Notify; the acknowledged sequence for Ack)
// followed by opaque application bytes.
type NotifyPayload struct {
	Sequence uint32
	Body     []byte
}

func EncodeNotifyPayload(p NotifyPayload) []byte {
	buf := make([]byte, 4+len(p.Body))
	binary.BigEndian.PutUint32(buf[:4], p.Sequence)
	copy(buf[4:], p.Body)
	return buf
}

func DecodeNotifyPayload(data []byte) (NotifyPayload, error) {
	if len(data) < 4 {
		return NotifyPayload{}, ErrMalformedPayload
	}
	p := NotifyPayload{Sequence: binary.BigEndian.Uint32(data[:4])}
	if len(data) > 4 {
		p.Body = append([]byte(nil), data[4:]...)
	}
	return p, nil
}

// CallPayload requests up to Tokens deliveries of the block named by
// Digest.
type CallPayload struct {
	Digest blockstore.Digest
	Tokens uint16
}

func EncodeCallPayload(p CallPayload) []byte {
	buf := make([]byte, blockstore.Size+2)
	copy(buf[:blockstore.Size], p.Digest[:])
	binary.BigEndian.PutUint16(buf[blockstore.Size:], p.Tokens)
	return buf
}

func DecodeCallPayload(data []byte) (CallPayload, error) {
	if len(data) < blockstore.Size+2 {
		return CallPayload{}, ErrMalformedPayload
	}
	var p CallPayload
	copy(p.Digest[:], data[:blockstore.Size])
	p.Tokens = binary.BigEndian.Uint16(data[blockstore.Size:])
	return p, nil
}

// CancelPayload names the block whose outstanding Call should stop.
type CancelPayload struct {
	Digest blockstore.Digest
}

func EncodeCancelPayload(p CancelPayload) []byte {
	buf := make([]byte, blockstore.Size)
	copy(buf, p.Digest[:])
	return buf
}

func DecodeCancelPayload(data []byte) (CancelPayload, error) {
	if len(data) < blockstore.Size {
		return CancelPayload{}, ErrMalformedPayload
	}
	var p CancelPayload
	copy(p.Digest[:], data[:blockstore.Size])
	return p, nil
}

// DataPayload carries one block's bytes in response to a Call.
type DataPayload struct {
	Digest blockstore.Digest
	Bytes  []byte
}

func EncodeDataPayload(p DataPayload) []byte {
	buf := make([]byte, blockstore.Size+len(p.Bytes))
	copy(buf[:blockstore.Size], p.Digest[:])
	copy(buf[blockstore.Size:], p.Bytes)
	return buf
}

func DecodeDataPayload(data []byte) (DataPayload, error) {
	if len(data) < blockstore.Size {
		return DataPayload{}, ErrMalformedPayload
	}
	p := DataPayload{}
	copy(p.Digest[:], data[:blockstore.Size])
	if len(data) > blockstore.Size {
		p.Bytes = append([]byte(nil), data[blockstore.Size:]...)
	}
	return p, nil
}

// SubscribePayload names a path a remote peer wants publishes for.
type SubscribePayload struct {
	Path string
}

func EncodeSubscribePayload(p SubscribePayload) []byte {
	return []byte(p.Path)
}

func DecodeSubscribePayload(data []byte) (SubscribePayload, error) {
	return SubscribePayload{Path: string(data)}, nil
}

// PublishPayload advertises zero or more block digests as the answer
// to a subscription on Path. The wire form is a u16 path length, the
// path bytes, then as many 32-byte digests as remain.
type PublishPayload struct {
	Path    string
	Digests []blockstore.Digest
}

func EncodePublishPayload(p PublishPayload) []byte {
	pathBytes := []byte(p.Path)
	buf := make([]byte, 2+len(pathBytes)+len(p.Digests)*blockstore.Size)
	binary.BigEndian.PutUint16(buf[:2], uint16(len(pathBytes)))
	offset := 2
	copy(buf[offset:], pathBytes)
	offset += len(pathBytes)
	for _, d := range p.Digests {
		copy(buf[offset:offset+blockstore.Size], d[:])
		offset += blockstore.Size
	}
	return buf
}

func DecodePublishPayload(data []byte) (PublishPayload, error) {
	if len(data) < 2 {
		return PublishPayload{}, ErrMalformedPayload
	}
	pathLen := int(binary.BigEndian.Uint16(data[:2]))
	if len(data) < 2+pathLen {
		return PublishPayload{}, ErrMalformedPayload
	}
	p := PublishPayload{Path: string(data[2 : 2+pathLen])}
	rest := data[2+pathLen:]
	if len(rest)%blockstore.Size != 0 {
		return PublishPayload{}, ErrMalformedPayload
	}
	for i := 0; i+blockstore.Size <= len(rest); i += blockstore.Size {
		var d blockstore.Digest
		copy(d[:], rest[i:i+blockstore.Size])
		p.Digests = append(p.Digests, d)
	}
	return p, nil
}
