package noise

import (
	"net/netip"

	noiselib "github.com/flynn/noise"

	"tunvpn/application/network/connection"
	"tunvpn/application/wire"
	"tunvpn/infrastructure/cryptography/transport"
)

// responderPayload builds the plaintext carried inside Noise message 2: the
// allocated session id and inner IP on success.
func responderPayload(sid connection.SessionID, innerIP netip.Addr) []byte {
	return wire.EncodeResponderComplete(uint32(sid), innerIP)
}

// responderFailurePayload builds the plaintext for a typed failure (spec
// §4.2 edge case: server overloaded). It still completes the Noise
// handshake — only the caller-visible result differs.
func responderFailurePayload(reason byte) []byte {
	return wire.EncodeResponderDisconnect(reason)
}

type decodedResponderBody struct {
	sid     connection.SessionID
	innerIP netip.Addr
	failure connection.HandshakeFailure
}

func decodeResponderPayload(payload []byte) (decodedResponderBody, error) {
	body, err := wire.DecodeResponderBody(payload)
	if err != nil {
		return decodedResponderBody{}, err
	}
	switch body.Kind {
	case wire.ResponderComplete:
		return decodedResponderBody{sid: connection.SessionID(body.SID), innerIP: body.Addr}, nil
	case wire.ResponderDisconnect:
		failure := connection.HandshakeFailureNone
		if body.Reason != 0 {
			failure = connection.HandshakeFailureServerOverloaded
		}
		return decodedResponderBody{failure: failure}, nil
	default:
		return decodedResponderBody{}, wire.ErrMalformedPacket
	}
}

// newTransportState wraps the two split CipherStates flynn/noise hands back
// on handshake completion into a connection.TransportState. sendCS encrypts
// outbound traffic for this party; recvCS decrypts inbound traffic.
func newTransportState(sid connection.SessionID, sendCS, recvCS *noiselib.CipherState, algorithm connection.Algorithm, isServer bool) (connection.TransportState, error) {
	sendKey := sendCS.UnsafeKey()
	recvKey := recvCS.UnsafeKey()
	return transport.NewState(sid, sendKey[:], recvKey[:], algorithm, isServer)
}
