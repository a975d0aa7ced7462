package wire

import (
	"bytes"
	"testing"

	"tunvpn/application/network/connection"
)

func TestRoundTripHandshakeInitial(t *testing.T) {
	opaque := []byte{1, 2, 3, 4, 5}
	enc, err := EncodeHandshakeInitial(opaque)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	pkt, err := Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pkt.Tag != TagHandshakeInitial || !bytes.Equal(pkt.Payload, opaque) {
		t.Fatalf("round-trip mismatch: %+v", pkt)
	}
}

func TestRoundTripDataClient(t *testing.T) {
	ct := []byte{0xAA, 0xBB, 0xCC}
	enc, err := EncodeDataClient(connection.SessionID(0x1A2B3C4D), ct)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	pkt, err := Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pkt.Tag != TagDataClient || pkt.SID != 0x1A2B3C4D || !bytes.Equal(pkt.Payload, ct) {
		t.Fatalf("round-trip mismatch: %+v", pkt)
	}
}

func TestDecodeEmptyPacketDropped(t *testing.T) {
	if _, err := Decode(nil); err != ErrMalformedPacket {
		t.Fatalf("expected ErrMalformedPacket, got %v", err)
	}
}

func TestDecodeUnknownDiscriminant(t *testing.T) {
	if _, err := Decode([]byte{0xFF, 0, 0}); err != ErrMalformedPacket {
		t.Fatalf("expected ErrMalformedPacket, got %v", err)
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	enc, _ := EncodeHandshakeInitial([]byte{1, 2, 3})
	enc = append(enc, 0xFF) // trailing byte beyond declared length
	if _, err := Decode(enc); err != ErrMalformedPacket {
		t.Fatalf("expected ErrMalformedPacket for trailing byte, got %v", err)
	}
}

func TestDecodeLengthOverrunsDatagram(t *testing.T) {
	// declare a length prefix bigger than what follows
	buf := []byte{byte(TagHandshakeInitial), 0xFF, 0xFF}
	if _, err := Decode(buf); err != ErrMalformedPacket {
		t.Fatalf("expected ErrMalformedPacket for overrun length, got %v", err)
	}
}

func TestClientBodyRoundTrip(t *testing.T) {
	p, err := EncodeClientPayload([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	body, err := DecodeClientBody(p)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Kind != KindPayload || !bytes.Equal(body.Payload, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Fatalf("mismatch: %+v", body)
	}

	ka := EncodeClientKeepAlive(1234)
	body, err = DecodeClientBody(ka)
	if err != nil {
		t.Fatalf("decode keepalive: %v", err)
	}
	if body.Kind != KindKeepAlive || body.ClientMicros != 1234 {
		t.Fatalf("keepalive mismatch: %+v", body)
	}

	body, err = DecodeClientBody(EncodeClientDisconnect())
	if err != nil || body.Kind != KindDisconnect {
		t.Fatalf("disconnect mismatch: %+v, %v", body, err)
	}
}

func TestResponderBodyRoundTripV4(t *testing.T) {
	addr := mustAddr("10.8.0.1")
	enc := EncodeResponderComplete(0x1A2B3C4D, addr)
	body, err := DecodeResponderBody(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Kind != ResponderComplete || body.SID != 0x1A2B3C4D || body.Addr != addr {
		t.Fatalf("mismatch: %+v", body)
	}
}

func TestResponderBodyDisconnect(t *testing.T) {
	enc := EncodeResponderDisconnect(ReasonServerOverloaded)
	body, err := DecodeResponderBody(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Kind != ResponderDisconnect || body.Reason != ReasonServerOverloaded {
		t.Fatalf("mismatch: %+v", body)
	}
}
