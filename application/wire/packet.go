// Package wire implements the tagged-union wire format described in spec §6:
// one packet per UDP datagram, little-endian length prefixes, a leading
// discriminant byte selecting the variant.
package wire

import (
	"encoding/binary"
	"errors"
	"tunvpn/application/network/connection"
)

// ErrMalformedPacket covers every decode failure: unknown discriminant, a
// length prefix that overruns the datagram, or trailing bytes.
var ErrMalformedPacket = errors.New("wire: malformed packet")

// MaxDatagramSize bounds a single encoded packet; larger input is dropped
// with a warning by callers, per spec §8.
const MaxDatagramSize = 65536

// Tag is the leading discriminant byte of a Packet.
type Tag byte

const (
	TagHandshakeInitial   Tag = 0x00
	TagHandshakeResponder Tag = 0x01
	TagDataClient         Tag = 0x02
	TagDataServer         Tag = 0x03
)

// Packet is the decoded tagged-union wire frame.
type Packet struct {
	Tag     Tag
	SID     connection.SessionID // populated for TagDataClient only
	Payload []byte               // opaque (handshake) or ciphertext (data)
}

// maxOpaqueLen is the ceiling the u16 length prefix can express.
const maxOpaqueLen = 1<<16 - 1

// EncodeHandshakeInitial builds a HandshakeInitial frame.
func EncodeHandshakeInitial(opaque []byte) ([]byte, error) {
	return encodeLenPrefixed(TagHandshakeInitial, opaque)
}

// EncodeHandshakeResponder builds a HandshakeResponder frame.
func EncodeHandshakeResponder(opaque []byte) ([]byte, error) {
	return encodeLenPrefixed(TagHandshakeResponder, opaque)
}

// EncodeDataClient builds a DataClient frame.
func EncodeDataClient(sid connection.SessionID, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) > maxOpaqueLen {
		return nil, ErrMalformedPacket
	}
	out := make([]byte, 1+4+2+len(ciphertext))
	out[0] = byte(TagDataClient)
	binary.LittleEndian.PutUint32(out[1:5], uint32(sid))
	binary.LittleEndian.PutUint16(out[5:7], uint16(len(ciphertext)))
	copy(out[7:], ciphertext)
	return out, nil
}

// EncodeDataServer builds a DataServer frame.
func EncodeDataServer(ciphertext []byte) ([]byte, error) {
	return encodeLenPrefixed(TagDataServer, ciphertext)
}

func encodeLenPrefixed(tag Tag, body []byte) ([]byte, error) {
	if len(body) > maxOpaqueLen {
		return nil, ErrMalformedPacket
	}
	out := make([]byte, 1+2+len(body))
	out[0] = byte(tag)
	binary.LittleEndian.PutUint16(out[1:3], uint16(len(body)))
	copy(out[3:], body)
	return out, nil
}

// Decode parses exactly one packet from datagram. Any unconsumed trailing
// byte, any length prefix that would read past the datagram's end, or an
// unknown discriminant is ErrMalformedPacket.
func Decode(datagram []byte) (Packet, error) {
	if len(datagram) == 0 {
		return Packet{}, ErrMalformedPacket
	}
	if len(datagram) > MaxDatagramSize {
		return Packet{}, ErrMalformedPacket
	}

	tag := Tag(datagram[0])
	rest := datagram[1:]

	switch tag {
	case TagHandshakeInitial, TagHandshakeResponder, TagDataServer:
		body, err := readLenPrefixed(rest)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Tag: tag, Payload: body}, nil
	case TagDataClient:
		if len(rest) < 4 {
			return Packet{}, ErrMalformedPacket
		}
		sid := connection.SessionID(binary.LittleEndian.Uint32(rest[:4]))
		body, err := readLenPrefixed(rest[4:])
		if err != nil {
			return Packet{}, err
		}
		return Packet{Tag: tag, SID: sid, Payload: body}, nil
	default:
		return Packet{}, ErrMalformedPacket
	}
}

func readLenPrefixed(b []byte) ([]byte, error) {
	if len(b) < 2 {
		return nil, ErrMalformedPacket
	}
	n := int(binary.LittleEndian.Uint16(b[:2]))
	rest := b[2:]
	if n > len(rest) {
		return nil, ErrMalformedPacket
	}
	if n < len(rest) {
		// Trailing bytes beyond the declared length: malformed.
		return nil, ErrMalformedPacket
	}
	body := make([]byte, n)
	copy(body, rest)
	return body, nil
}
