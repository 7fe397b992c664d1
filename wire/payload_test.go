package wire

import (
	"bytes"
	"testing"

	"teapotnet/blockstore"
)

func TestNotifyPayloadRoundTrip(t *testing.T) {
	p := NotifyPayload{Sequence: 42, Body: []byte("payload bytes")}
	decoded, err := DecodeNotifyPayload(EncodeNotifyPayload(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Sequence != p.Sequence || !bytes.Equal(decoded.Body, p.Body) {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestCallPayloadRoundTrip(t *testing.T) {
	var digest blockstore.Digest
	digest[0] = 0xAB
	p := CallPayload{Digest: digest, Tokens: 7}
	decoded, err := DecodeCallPayload(EncodeCallPayload(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Digest != p.Digest || decoded.Tokens != p.Tokens {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestDataPayloadRoundTrip(t *testing.T) {
	var digest blockstore.Digest
	digest[31] = 0x01
	p := DataPayload{Digest: digest, Bytes: []byte("block contents")}
	decoded, err := DecodeDataPayload(EncodeDataPayload(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Digest != p.Digest || !bytes.Equal(decoded.Bytes, p.Bytes) {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestPublishPayloadRoundTrip(t *testing.T) {
	var d1, d2 blockstore.Digest
	d1[0] = 1
	d2[0] = 2
	p := PublishPayload{Path: "/music/rock/song.mp3", Digests: []blockstore.Digest{d1, d2}}
	decoded, err := DecodePublishPayload(EncodePublishPayload(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Path != p.Path || len(decoded.Digests) != 2 {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
	if decoded.Digests[0] != d1 || decoded.Digests[1] != d2 {
		t.Fatalf("digest order mismatch: %+v", decoded.Digests)
	}
}

func TestPublishPayloadEmptyDigests(t *testing.T) {
	p := PublishPayload{Path: "/a/b"}
	decoded, err := DecodePublishPayload(EncodePublishPayload(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Path != "/a/b" || len(decoded.Digests) != 0 {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
}

func TestSubscribePayloadRoundTrip(t *testing.T) {
	p := SubscribePayload{Path: "/a/b/c"}
	decoded, _ := DecodeSubscribePayload(EncodeSubscribePayload(p))
	if decoded.Path != p.Path {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}
