package connection

import (
	"context"
	"net/netip"
)

// Transport is a bound datagram endpoint. It exposes only send/recv of
// opaque frames; framing and addressing concerns live one layer up.
//
// The reference implementation (infrastructure/network/udp) is UDP; the
// shape also admits a WebSocket implementation without any change to
// callers, per spec's polymorphic-transport design note.
type Transport interface {
	// Send writes one frame to addr. A client-side implementation backed by
	// a connected socket may ignore addr (it only ever has one peer); a
	// server-side implementation backed by one shared socket serving many
	// sessions uses it to reach the right peer.
	Send(ctx context.Context, frame []byte, addr netip.AddrPort) (int, error)
	// Recv reads one frame into buf, returning its length and the sender's
	// address.
	Recv(ctx context.Context, buf []byte) (int, netip.AddrPort, error)
	// Close releases the underlying socket/connection.
	Close() error
}
