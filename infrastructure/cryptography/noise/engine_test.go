package noise

import (
	"crypto/rand"
	"net/netip"
	"testing"

	noiselib "github.com/flynn/noise"

	"tunvpn/application/network/connection"
	"tunvpn/infrastructure/storage/clientstore"
)

type fakeAllocator struct {
	next    connection.SessionID
	innerIP netip.Addr
	fail    bool
}

func (a *fakeAllocator) Allocate() (connection.SessionID, netip.Addr, error) {
	if a.fail {
		return 0, netip.Addr{}, errOverloaded
	}
	a.next++
	return a.next, a.innerIP, nil
}

func (a *fakeAllocator) Release(connection.SessionID, netip.Addr) {}

var errOverloaded = &overloadedError{}

type overloadedError struct{}

func (*overloadedError) Error() string { return "allocator overloaded" }

func genKeypair(t *testing.T) noiselib.DHKey {
	t.Helper()
	kp, err := noiselib.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return kp
}

func setup(t *testing.T, algorithm connection.Algorithm) (*ServerEngine, *ClientEngine, noiselib.DHKey) {
	t.Helper()
	serverKP := genKeypair(t)
	clientKP := genKeypair(t)

	psk := make([]byte, 32)
	for i := range psk {
		psk[i] = byte(i)
	}

	store := clientstore.NewMemoryStore()
	var clientPub [32]byte
	copy(clientPub[:], clientKP.Public)
	var pskArr [32]byte
	copy(pskArr[:], psk)
	if err := store.Insert(clientstore.ClientRecord{PeerPublicKey: clientPub, PreSharedKey: pskArr}); err != nil {
		t.Fatalf("insert client record: %v", err)
	}

	alloc := &fakeAllocator{innerIP: netip.MustParseAddr("10.8.0.2")}
	server := NewServerEngine(serverKP.Private, serverKP.Public, store, alloc)
	client := NewClientEngine(clientKP.Private, clientKP.Public, serverKP.Public, psk, algorithm)
	return server, client, serverKP
}

func runHandshake(t *testing.T, server *ServerEngine, client *ClientEngine) (connection.ServerHandshakeResult, connection.ClientHandshakeResult) {
	t.Helper()
	initial, err := client.BuildInitial()
	if err != nil {
		t.Fatalf("build initial: %v", err)
	}
	reply, serverResult, ok, err := server.ServerHandshake(initial, netip.MustParseAddrPort("203.0.113.1:51820"))
	if err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	if !ok {
		t.Fatalf("server handshake unexpectedly rejected")
	}
	clientResult, err := client.ParseResponse(reply)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	return serverResult, clientResult
}

func TestHandshakeRoundTripChaCha(t *testing.T) {
	server, client, _ := setup(t, connection.AlgorithmChaCha20Poly1305)
	serverResult, clientResult := runHandshake(t, server, client)

	if serverResult.SID != clientResult.SID {
		t.Fatalf("sid mismatch: server=%v client=%v", serverResult.SID, clientResult.SID)
	}
	if serverResult.Algorithm != connection.AlgorithmChaCha20Poly1305 {
		t.Fatalf("expected chacha20, got %v", serverResult.Algorithm)
	}
	if clientResult.Failure != connection.HandshakeFailureNone {
		t.Fatalf("unexpected failure: %v", clientResult.Failure)
	}

	ct, err := serverResult.State.Encrypt([]byte("ping"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	pt, err := clientResult.State.Decrypt(ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(pt) != "ping" {
		t.Fatalf("got %q", pt)
	}
}

func TestHandshakeRoundTripAES(t *testing.T) {
	server, client, _ := setup(t, connection.AlgorithmAES256GCM)
	serverResult, clientResult := runHandshake(t, server, client)

	if serverResult.Algorithm != connection.AlgorithmAES256GCM {
		t.Fatalf("expected aes-256-gcm, got %v", serverResult.Algorithm)
	}
	if clientResult.Algorithm != connection.AlgorithmAES256GCM {
		t.Fatalf("client expected aes-256-gcm, got %v", clientResult.Algorithm)
	}
}

func TestServerHandshakeDropsUnknownPeer(t *testing.T) {
	serverKP := genKeypair(t)
	store := clientstore.NewMemoryStore()
	alloc := &fakeAllocator{innerIP: netip.MustParseAddr("10.8.0.2")}
	server := NewServerEngine(serverKP.Private, serverKP.Public, store, alloc)

	strangerKP := genKeypair(t)
	psk := make([]byte, 32)
	client := NewClientEngine(strangerKP.Private, strangerKP.Public, serverKP.Public, psk, connection.AlgorithmChaCha20Poly1305)

	initial, err := client.BuildInitial()
	if err != nil {
		t.Fatalf("build initial: %v", err)
	}
	reply, _, ok, err := server.ServerHandshake(initial, netip.MustParseAddrPort("203.0.113.9:4000"))
	if err != nil {
		t.Fatalf("unexpected error (should be a silent drop): %v", err)
	}
	if ok {
		t.Fatal("expected unknown peer to be rejected")
	}
	if reply != nil {
		t.Fatal("expected no reply for an unknown peer")
	}
}

func TestServerHandshakeOverloaded(t *testing.T) {
	server, client, _ := setup(t, connection.AlgorithmChaCha20Poly1305)
	server.allocator.(*fakeAllocator).fail = true

	initial, err := client.BuildInitial()
	if err != nil {
		t.Fatalf("build initial: %v", err)
	}
	reply, _, ok, err := server.ServerHandshake(initial, netip.MustParseAddrPort("203.0.113.1:51820"))
	if err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false on overload")
	}
	result, err := client.ParseResponse(reply)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if result.Failure != connection.HandshakeFailureServerOverloaded {
		t.Fatalf("expected ServerOverloaded, got %v", result.Failure)
	}
}
