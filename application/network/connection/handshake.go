package connection

import (
	"net/netip"
	"time"
)

// HandshakeFailure is the typed failure a server can report to a client
// inside the encrypted responder message (Noise message 2).
type HandshakeFailure uint8

const (
	HandshakeFailureNone HandshakeFailure = iota
	HandshakeFailureServerOverloaded
	HandshakeFailureMaxConnectedDevices // reserved: unenforced, see spec §9
)

// ServerHandshakeResult carries everything the session table needs to
// install a newly negotiated session.
type ServerHandshakeResult struct {
	SID        SessionID
	InnerIP    netip.Addr
	Algorithm  Algorithm
	State      TransportState
	ClientKey  []byte // client's X25519 static public key
}

// ClientHandshakeResult carries what the client learns from the responder.
type ClientHandshakeResult struct {
	SID       SessionID
	InnerIP   netip.Addr
	Algorithm Algorithm
	State     TransportState
	Failure   HandshakeFailure
}

// ServerEngine runs the responder side of the Noise IK+PSK2 handshake
// described in spec §4.2. A single ServerEngine value is stateless across
// calls: each ServerHandshake call is one complete exchange given the raw
// bytes of a client's initial message.
type ServerEngine interface {
	// ServerHandshake processes one HandshakeInitial payload and returns
	// the responder's reply bytes plus the negotiated result. ok is false
	// whenever no session was negotiated. With a nil reply (unknown peer or
	// unreadable message) the caller drops silently and sends nothing; with
	// a non-nil reply (allocation exhausted) the caller sends the reply,
	// which carries a typed failure, and installs no session.
	ServerHandshake(initialMsg []byte, peerAddr netip.AddrPort) (reply []byte, result ServerHandshakeResult, ok bool, err error)
}

// ClientEngine runs the initiator side: build the initial message to send,
// then parse the responder's reply once received.
type ClientEngine interface {
	BuildInitial() ([]byte, error)
	ParseResponse(reply []byte) (ClientHandshakeResult, error)
}

// Allocator hands out the server-side identifiers installed during a
// successful handshake (spec §4.3's allocate()).
type Allocator interface {
	Allocate() (SessionID, netip.Addr, error)
	Release(SessionID, netip.Addr)
}

// HandshakeTimeout is the client's default deadline for a full exchange.
const HandshakeTimeout = 3 * time.Second

// KeepaliveInterval is the client's default keepalive cadence.
const KeepaliveInterval = 5 * time.Second

// ReconnectDelay is the client's default pause between a dropped tunnel
// and the next handshake attempt (spec §4.7's "sleep and retry").
const ReconnectDelay = 2 * time.Second
