package wire

import (
	"encoding/binary"
	"net/netip"
)

// Plaintext body kinds, decrypted from a DataClient/DataServer ciphertext.
type BodyKind byte

const (
	KindPayload    BodyKind = 0x00
	KindKeepAlive  BodyKind = 0x01
	KindDisconnect BodyKind = 0x02
)

// ClientBody is the plaintext carried inside a DataClient ciphertext.
type ClientBody struct {
	Kind         BodyKind
	Payload      []byte
	ClientMicros uint64 // low 64 bits of the u128 wire field; micros fit comfortably
}

// ServerBody is the plaintext carried inside a DataServer ciphertext.
type ServerBody struct {
	Kind         BodyKind
	Payload      []byte
	EchoedMicros uint64
	DisconnectReason byte
}

// DisconnectReason codes for ServerBody.Kind == KindDisconnect.
const (
	ReasonNone             byte = 0x00
	ReasonServerOverloaded byte = 0x01
	ReasonSessionReset     byte = 0x02
)

func EncodeClientPayload(data []byte) ([]byte, error) {
	if len(data) > maxOpaqueLen {
		return nil, ErrMalformedPacket
	}
	out := make([]byte, 1+2+len(data))
	out[0] = byte(KindPayload)
	binary.LittleEndian.PutUint16(out[1:3], uint16(len(data)))
	copy(out[3:], data)
	return out, nil
}

func EncodeClientKeepAlive(micros uint64) []byte {
	out := make([]byte, 1+16)
	out[0] = byte(KindKeepAlive)
	binary.LittleEndian.PutUint64(out[1:9], micros)
	// upper 64 bits of the u128 are always zero: we never produce values
	// that need them, but the field stays wire-compatible with a u128 peer.
	return out
}

func EncodeClientDisconnect() []byte {
	return []byte{byte(KindDisconnect)}
}

func DecodeClientBody(b []byte) (ClientBody, error) {
	if len(b) == 0 {
		return ClientBody{}, ErrMalformedPacket
	}
	switch BodyKind(b[0]) {
	case KindPayload:
		if len(b) < 3 {
			return ClientBody{}, ErrMalformedPacket
		}
		n := int(binary.LittleEndian.Uint16(b[1:3]))
		if 3+n != len(b) {
			return ClientBody{}, ErrMalformedPacket
		}
		return ClientBody{Kind: KindPayload, Payload: b[3:]}, nil
	case KindKeepAlive:
		if len(b) != 1+16 {
			return ClientBody{}, ErrMalformedPacket
		}
		return ClientBody{Kind: KindKeepAlive, ClientMicros: binary.LittleEndian.Uint64(b[1:9])}, nil
	case KindDisconnect:
		if len(b) != 1 {
			return ClientBody{}, ErrMalformedPacket
		}
		return ClientBody{Kind: KindDisconnect}, nil
	default:
		return ClientBody{}, ErrMalformedPacket
	}
}

func EncodeServerPayload(data []byte) ([]byte, error) {
	if len(data) > maxOpaqueLen {
		return nil, ErrMalformedPacket
	}
	out := make([]byte, 1+2+len(data))
	out[0] = byte(KindPayload)
	binary.LittleEndian.PutUint16(out[1:3], uint16(len(data)))
	copy(out[3:], data)
	return out, nil
}

func EncodeServerKeepAlive(echoedMicros uint64) []byte {
	out := make([]byte, 1+16)
	out[0] = byte(KindKeepAlive)
	binary.LittleEndian.PutUint64(out[1:9], echoedMicros)
	return out
}

func EncodeServerDisconnect(reason byte) []byte {
	return []byte{byte(KindDisconnect), reason}
}

func DecodeServerBody(b []byte) (ServerBody, error) {
	if len(b) == 0 {
		return ServerBody{}, ErrMalformedPacket
	}
	switch BodyKind(b[0]) {
	case KindPayload:
		if len(b) < 3 {
			return ServerBody{}, ErrMalformedPacket
		}
		n := int(binary.LittleEndian.Uint16(b[1:3]))
		if 3+n != len(b) {
			return ServerBody{}, ErrMalformedPacket
		}
		return ServerBody{Kind: KindPayload, Payload: b[3:]}, nil
	case KindKeepAlive:
		if len(b) != 1+16 {
			return ServerBody{}, ErrMalformedPacket
		}
		return ServerBody{Kind: KindKeepAlive, EchoedMicros: binary.LittleEndian.Uint64(b[1:9])}, nil
	case KindDisconnect:
		if len(b) != 2 {
			return ServerBody{}, ErrMalformedPacket
		}
		return ServerBody{Kind: KindDisconnect, DisconnectReason: b[1]}, nil
	default:
		return ServerBody{}, ErrMalformedPacket
	}
}

// Handshake responder body kinds (spec §6).
type ResponderKind byte

const (
	ResponderComplete    ResponderKind = 0x00
	ResponderDisconnect  ResponderKind = 0x01
)

// ResponderBody is the plaintext carried by a Noise message 2 payload.
// Failures before the handshake state exists produce no responder body at
// all; the server drops the exchange.
type ResponderBody struct {
	Kind    ResponderKind
	SID     uint32
	Addr    netip.Addr
	Reason  byte
}

func EncodeResponderComplete(sid uint32, addr netip.Addr) []byte {
	if addr.Is4() {
		a4 := addr.As4()
		out := make([]byte, 1+4+1+4)
		out[0] = byte(ResponderComplete)
		binary.LittleEndian.PutUint32(out[1:5], sid)
		out[5] = 4
		copy(out[6:], a4[:])
		return out
	}
	a16 := addr.As16()
	out := make([]byte, 1+4+1+16)
	out[0] = byte(ResponderComplete)
	binary.LittleEndian.PutUint32(out[1:5], sid)
	out[5] = 16
	copy(out[6:], a16[:])
	return out
}

func EncodeResponderDisconnect(reason byte) []byte {
	return []byte{byte(ResponderDisconnect), reason}
}

func DecodeResponderBody(b []byte) (ResponderBody, error) {
	if len(b) == 0 {
		return ResponderBody{}, ErrMalformedPacket
	}
	switch ResponderKind(b[0]) {
	case ResponderComplete:
		if len(b) < 6 {
			return ResponderBody{}, ErrMalformedPacket
		}
		sid := binary.LittleEndian.Uint32(b[1:5])
		family := b[5]
		switch family {
		case 4:
			if len(b) != 6+4 {
				return ResponderBody{}, ErrMalformedPacket
			}
			addr := netip.AddrFrom4([4]byte(b[6:10]))
			return ResponderBody{Kind: ResponderComplete, SID: sid, Addr: addr}, nil
		case 16:
			if len(b) != 6+16 {
				return ResponderBody{}, ErrMalformedPacket
			}
			addr := netip.AddrFrom16([16]byte(b[6:22]))
			return ResponderBody{Kind: ResponderComplete, SID: sid, Addr: addr}, nil
		default:
			return ResponderBody{}, ErrMalformedPacket
		}
	case ResponderDisconnect:
		if len(b) != 2 {
			return ResponderBody{}, ErrMalformedPacket
		}
		return ResponderBody{Kind: ResponderDisconnect, Reason: b[1]}, nil
	default:
		return ResponderBody{}, ErrMalformedPacket
	}
}
