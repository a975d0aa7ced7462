package connection

import (
	"net/netip"
	"time"
)

// SessionID is the 32-bit session identifier. Zero is reserved as the
// "no session" sentinel and must never be issued or used as a map key.
type SessionID uint32

// Session is the server-side record of one established tunnel. Sessions
// are owned by the session table; callers receive ref-counted handles
// whose lifetime is independent of the table's own mutations.
type Session interface {
	ID() SessionID
	InnerIP() netip.Addr
	// PeerAddr returns the session's current external address. It may be
	// updated concurrently by roaming; callers must not cache it across
	// suspension points.
	PeerAddr() netip.AddrPort
	// SetPeerAddr atomically updates the external address (roaming).
	SetPeerAddr(netip.AddrPort)
	// LastSeen returns the last touch time, monotonic-seconds resolution.
	LastSeen() int64
	// Touch bumps LastSeen to at least the current monotonic second.
	Touch()
	CreatedAt() time.Time
	Algorithm() Algorithm
	TransportState() TransportState
}
