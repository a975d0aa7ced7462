package worker

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"tunvpn/application/logging"
	"tunvpn/application/network/connection"
	"tunvpn/application/wire"
	"tunvpn/infrastructure/tunnel/session"
)

type nullLogger struct{}

func (nullLogger) Infof(string, ...any)  {}
func (nullLogger) Warnf(string, ...any)  {}
func (nullLogger) Errorf(string, ...any) {}
func (nullLogger) Debugf(string, ...any) {}

var _ logging.Logger = nullLogger{}

// echoState is a TransportState that XORs nothing: Encrypt/Decrypt are
// identity, which is enough to exercise the worker's plumbing without
// pulling in real AEAD machinery.
type echoState struct{ algo connection.Algorithm }

func (echoState) Encrypt(p []byte) ([]byte, error) { return append([]byte(nil), p...), nil }
func (echoState) Decrypt(p []byte) ([]byte, error) { return append([]byte(nil), p...), nil }
func (e echoState) Algorithm() connection.Algorithm { return e.algo }

type fakeTransport struct {
	sent chan udpFrame
}

func (f *fakeTransport) Send(_ context.Context, frame []byte, _ netip.AddrPort) (int, error) {
	f.sent <- udpFrame{payload: append([]byte(nil), frame...)}
	return len(frame), nil
}
func (f *fakeTransport) Recv(ctx context.Context, buf []byte) (int, netip.AddrPort, error) {
	<-ctx.Done()
	return 0, netip.AddrPort{}, ctx.Err()
}
func (f *fakeTransport) Close() error { return nil }

type fakeTUN struct {
	written chan []byte
}

func (f *fakeTUN) Read(buf []byte) (int, error) {
	select {} // never produces data in these tests; tunListener is not exercised
}
func (f *fakeTUN) Write(p []byte) (int, error) {
	f.written <- append([]byte(nil), p...)
	return len(p), nil
}

func newTestWorker(t *testing.T) (*Worker, *session.Table) {
	t.Helper()
	tbl := session.NewTable(netip.MustParsePrefix("10.8.0.0/24"))
	tr := &fakeTransport{sent: make(chan udpFrame, 4)}
	tun := &fakeTUN{written: make(chan []byte, 4)}
	w := New(1, tr, tun, tbl, nil, nullLogger{}, 16)
	return w, tbl
}

func TestRunDecryptDeliversPayloadToTUN(t *testing.T) {
	w, tbl := newTestWorker(t)

	innerIP := netip.MustParseAddr("10.8.0.5")
	peerAddr := netip.MustParseAddrPort("203.0.113.7:4000")
	s := tbl.Install(42, innerIP, peerAddr, connection.AlgorithmChaCha20Poly1305, echoState{algo: connection.AlgorithmChaCha20Poly1305})

	ipPacket := buildIPv4Packet(t, innerIP, netip.MustParseAddr("10.8.0.1"))
	body, err := wire.EncodeClientPayload(ipPacket)
	if err != nil {
		t.Fatalf("encode client payload: %v", err)
	}

	w.runDecrypt(decryptJob{sid: s.ID(), ciphertext: body, fromAddr: peerAddr})

	select {
	case got := <-w.outTUNQ:
		if string(got) != string(ipPacket) {
			t.Fatalf("tun payload mismatch")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tun delivery")
	}
}

func TestRunDecryptDropsSpoofedSourceIP(t *testing.T) {
	w, tbl := newTestWorker(t)

	innerIP := netip.MustParseAddr("10.8.0.5")
	peerAddr := netip.MustParseAddrPort("203.0.113.7:4000")
	s := tbl.Install(42, innerIP, peerAddr, connection.AlgorithmChaCha20Poly1305, echoState{algo: connection.AlgorithmChaCha20Poly1305})

	spoofed := buildIPv4Packet(t, netip.MustParseAddr("10.8.0.99"), netip.MustParseAddr("10.8.0.1"))
	body, _ := wire.EncodeClientPayload(spoofed)

	w.runDecrypt(decryptJob{sid: s.ID(), ciphertext: body, fromAddr: peerAddr})

	select {
	case <-w.outTUNQ:
		t.Fatal("spoofed source IP should have been dropped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunEncryptRoutesByInnerIP(t *testing.T) {
	w, tbl := newTestWorker(t)

	innerIP := netip.MustParseAddr("10.8.0.5")
	peerAddr := netip.MustParseAddrPort("203.0.113.7:4000")
	tbl.Install(42, innerIP, peerAddr, connection.AlgorithmAES256GCM, echoState{algo: connection.AlgorithmAES256GCM})

	ipPacket := buildIPv4Packet(t, netip.MustParseAddr("10.8.0.1"), innerIP)
	w.runEncrypt(encryptJob{plaintext: ipPacket})

	select {
	case frame := <-w.outUDPQ:
		pkt, err := wire.Decode(frame.payload)
		if err != nil {
			t.Fatalf("decode outbound frame: %v", err)
		}
		if pkt.Tag != wire.TagDataServer {
			t.Fatalf("expected TagDataServer, got %v", pkt.Tag)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for encrypted frame")
	}
}

func TestRunEncryptDropsUnknownDestination(t *testing.T) {
	w, _ := newTestWorker(t)
	ipPacket := buildIPv4Packet(t, netip.MustParseAddr("10.8.0.1"), netip.MustParseAddr("10.8.0.250"))
	w.runEncrypt(encryptJob{plaintext: ipPacket})

	select {
	case <-w.outUDPQ:
		t.Fatal("expected drop for unknown destination session")
	case <-time.After(50 * time.Millisecond):
	}
}

// buildIPv4Packet constructs a minimal 20-byte IPv4 header (no payload)
// with the given source/destination, matching application/network/ip's
// fixed-offset parsing.
func buildIPv4Packet(t *testing.T, src, dst netip.Addr) []byte {
	t.Helper()
	buf := make([]byte, 20)
	buf[0] = 0x45 // version 4, IHL 5
	s4 := src.As4()
	d4 := dst.As4()
	copy(buf[12:16], s4[:])
	copy(buf[16:20], d4[:])
	return buf
}
