package session

import (
	"net/netip"
	"sync/atomic"
	"time"

	"tunvpn/application/network/connection"
)

// processStart anchors LastSeen's clock: Touch records elapsed time since
// this instant rather than a wall-clock Unix timestamp, so an NTP step or
// other backward wall-clock adjustment can never move LastSeen backward
// (spec §3's monotonic-seconds requirement). time.Since reads the
// monotonic component Go attaches to time.Time values, which system clock
// changes do not affect.
var processStart = time.Now()

func monotonicSeconds() int64 {
	return int64(time.Since(processStart) / time.Second)
}

// sessionImpl implements connection.Session. lastSeen and the peer address
// are updated from the data-plane hot path without taking the table's
// shard lock (spec §4.3).
type sessionImpl struct {
	id        connection.SessionID
	innerIP   netip.Addr
	algorithm connection.Algorithm
	state     connection.TransportState
	createdAt time.Time

	peerAddr packedAddr
	lastSeen atomic.Int64 // monotonic seconds, set by Touch
}

func newSession(id connection.SessionID, innerIP netip.Addr, peerAddr netip.AddrPort, algorithm connection.Algorithm, state connection.TransportState, now time.Time) *sessionImpl {
	s := &sessionImpl{
		id:        id,
		innerIP:   innerIP,
		algorithm: algorithm,
		state:     state,
		createdAt: now,
	}
	s.peerAddr.store(peerAddr)
	s.lastSeen.Store(monotonicSeconds())
	return s
}

func (s *sessionImpl) ID() connection.SessionID           { return s.id }
func (s *sessionImpl) InnerIP() netip.Addr                { return s.innerIP }
func (s *sessionImpl) PeerAddr() netip.AddrPort           { return s.peerAddr.load() }
func (s *sessionImpl) SetPeerAddr(ap netip.AddrPort)      { s.peerAddr.store(ap) }
func (s *sessionImpl) LastSeen() int64                    { return s.lastSeen.Load() }
func (s *sessionImpl) Touch()                             { s.lastSeen.Store(monotonicSeconds()) }
func (s *sessionImpl) CreatedAt() time.Time               { return s.createdAt }
func (s *sessionImpl) Algorithm() connection.Algorithm    { return s.algorithm }
func (s *sessionImpl) TransportState() connection.TransportState { return s.state }
