package session

import (
	"net/netip"
	"testing"
	"time"

	"tunvpn/application/network/connection"
)

type fakeTransportState struct{}

func (fakeTransportState) Encrypt(p []byte) ([]byte, error) { return p, nil }
func (fakeTransportState) Decrypt(p []byte) ([]byte, error) { return p, nil }
func (fakeTransportState) Algorithm() connection.Algorithm   { return connection.AlgorithmChaCha20Poly1305 }

func TestAllocateInstallGetRoundTrip(t *testing.T) {
	tbl := NewTable(netip.MustParsePrefix("10.8.0.0/24"))

	sid, innerIP, err := tbl.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if sid == 0 {
		t.Fatal("sid must never be zero")
	}

	peerAddr := netip.MustParseAddrPort("203.0.113.5:51820")
	s := tbl.Install(sid, innerIP, peerAddr, connection.AlgorithmChaCha20Poly1305, fakeTransportState{})
	if s.ID() != sid {
		t.Fatalf("installed session id mismatch")
	}

	got, err := tbl.GetBySID(sid)
	if err != nil {
		t.Fatalf("get by sid: %v", err)
	}
	if got.InnerIP() != innerIP {
		t.Fatalf("inner ip mismatch")
	}

	byIP, err := tbl.GetByInnerIP(innerIP)
	if err != nil {
		t.Fatalf("get by inner ip: %v", err)
	}
	if byIP.ID() != sid {
		t.Fatalf("dual index mismatch")
	}
}

func TestAllocateNeverReturnsZeroSID(t *testing.T) {
	tbl := NewTable(netip.MustParsePrefix("10.8.0.0/24"))
	for i := 0; i < 200; i++ {
		sid, innerIP, err := tbl.Allocate()
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if sid == 0 {
			t.Fatal("got reserved sentinel sid 0")
		}
		tbl.Install(sid, innerIP, netip.MustParseAddrPort("203.0.113.5:1"), connection.AlgorithmAES256GCM, fakeTransportState{})
	}
}

func TestReleaseSessionRemovesBothIndices(t *testing.T) {
	tbl := NewTable(netip.MustParsePrefix("10.8.0.0/30"))
	sid, innerIP, err := tbl.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	tbl.Install(sid, innerIP, netip.MustParseAddrPort("203.0.113.5:1"), connection.AlgorithmAES256GCM, fakeTransportState{})

	tbl.ReleaseSession(sid)

	if _, err := tbl.GetBySID(sid); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := tbl.GetByInnerIP(innerIP); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound for inner ip, got %v", err)
	}
}

func TestReapIdleRemovesStaleSessions(t *testing.T) {
	tbl := NewTable(netip.MustParsePrefix("10.8.0.0/24"))
	sid, innerIP, _ := tbl.Allocate()
	s := tbl.Install(sid, innerIP, netip.MustParseAddrPort("203.0.113.5:1"), connection.AlgorithmAES256GCM, fakeTransportState{})

	impl := s.(*sessionImpl)
	// lastSeen is elapsed monotonic seconds since process start, not a
	// wall-clock Unix timestamp; back-date it by an hour relative to that
	// clock so it reads as stale regardless of actual process uptime.
	impl.lastSeen.Store(monotonicSeconds() - int64(time.Hour/time.Second))

	n := tbl.ReapIdle(time.Minute)
	if n != 1 {
		t.Fatalf("expected 1 reaped session, got %d", n)
	}
	if _, err := tbl.GetBySID(sid); err != ErrSessionNotFound {
		t.Fatalf("expected session to be gone after reap")
	}
}

func TestReapIdleZeroTimeoutDisabled(t *testing.T) {
	tbl := NewTable(netip.MustParsePrefix("10.8.0.0/24"))
	sid, innerIP, _ := tbl.Allocate()
	s := tbl.Install(sid, innerIP, netip.MustParseAddrPort("203.0.113.5:1"), connection.AlgorithmAES256GCM, fakeTransportState{})

	impl := s.(*sessionImpl)
	impl.lastSeen.Store(monotonicSeconds() - int64(time.Hour/time.Second))

	if n := tbl.ReapIdle(0); n != 0 {
		t.Fatalf("expected ReapIdle(0) to reap nothing, got %d", n)
	}
	if _, err := tbl.GetBySID(sid); err != nil {
		t.Fatalf("expected session to survive ReapIdle(0): %v", err)
	}
}

func TestIPPoolExhaustion(t *testing.T) {
	tbl := NewTable(netip.MustParsePrefix("10.8.0.0/30")) // 2 usable host addresses
	var sids []connection.SessionID
	for i := 0; i < 2; i++ {
		sid, innerIP, err := tbl.Allocate()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		tbl.Install(sid, innerIP, netip.MustParseAddrPort("203.0.113.5:1"), connection.AlgorithmAES256GCM, fakeTransportState{})
		sids = append(sids, sid)
	}
	if _, _, err := tbl.Allocate(); err != ErrNoFreeAddress {
		t.Fatalf("expected ErrNoFreeAddress, got %v", err)
	}
	_ = sids
}

func TestPeerAddrRoamingUpdate(t *testing.T) {
	tbl := NewTable(netip.MustParsePrefix("10.8.0.0/24"))
	sid, innerIP, _ := tbl.Allocate()
	s := tbl.Install(sid, innerIP, netip.MustParseAddrPort("203.0.113.5:51820"), connection.AlgorithmAES256GCM, fakeTransportState{})

	newAddr := netip.MustParseAddrPort("198.51.100.9:4444")
	s.SetPeerAddr(newAddr)
	if s.PeerAddr() != newAddr {
		t.Fatalf("roaming update not reflected: got %v want %v", s.PeerAddr(), newAddr)
	}
}
