// Package noise implements the Noise_IK_25519_*_BLAKE2s handshake (spec
// §4.2) with a PSK mixed at message 2 (IKpsk2), grounded on the teacher's
// infrastructure/cryptography/noise/ik_handshake.go. Two cipher suites are
// supported, identical except for the AEAD; the responder discovers which
// one a client speaks by attempting AES first and falling back to ChaCha on
// an authentication failure, which is safe because the Noise transcript
// hash binds the cipher suite's name — an attacker cannot downgrade a
// client silently.
package noise

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"

	noiselib "github.com/flynn/noise"

	"tunvpn/application/network/connection"
	"tunvpn/infrastructure/storage/clientstore"
)

// pskPlacement mixes the PSK into message 2 (IKpsk2): the responder does not
// know which client (and therefore which PSK) it is talking to until it has
// read message 1's encrypted static key, so the PSK cannot be bound any
// earlier than this.
const pskPlacement = 2

var (
	cipherSuiteAES    = noiselib.NewCipherSuite(noiselib.DH25519, noiselib.CipherAESGCM, noiselib.HashBLAKE2s)
	cipherSuiteChaCha = noiselib.NewCipherSuite(noiselib.DH25519, noiselib.CipherChaChaPoly, noiselib.HashBLAKE2s)
)

// ErrUnknownPeer names the case where the client's static key is not in the
// client store (spec §4.2 edge case). ServerHandshake does not return it:
// an unknown peer yields a nil reply, ok=false and a nil error, and the
// caller drops the message silently.
var ErrUnknownPeer = errors.New("noise: unknown peer")

// ErrHandshakeFailed wraps any Noise-layer processing failure.
var ErrHandshakeFailed = errors.New("noise: handshake failed")

// zeroPSK is used for the throwaway "peek" handshake state: it exists only
// to read message 1 far enough to learn the client's static key, never to
// derive real transport keys.
var zeroPSK = make([]byte, 32)

// ServerEngine implements connection.ServerEngine.
type ServerEngine struct {
	staticPriv []byte
	staticPub  []byte
	store      clientstore.Store
	allocator  connection.Allocator
}

func NewServerEngine(staticPriv, staticPub []byte, store clientstore.Store, allocator connection.Allocator) *ServerEngine {
	return &ServerEngine{staticPriv: staticPriv, staticPub: staticPub, store: store, allocator: allocator}
}

func serverConfig(cs noiselib.CipherSuite, staticPriv, staticPub, psk []byte) noiselib.Config {
	return noiselib.Config{
		CipherSuite:           cs,
		Pattern:               noiselib.HandshakeIK,
		Initiator:             false,
		StaticKeypair:         noiselib.DHKey{Private: staticPriv, Public: staticPub},
		PresharedKey:          psk,
		PresharedKeyPlacement: pskPlacement,
	}
}

// peekClientKey runs message 1 against a throwaway handshake state (with a
// dummy PSK, which message 1 never consumes — the PSK token lives on
// message 2) purely to learn the client's static key and which cipher
// suite it used. Noise message processing is a deterministic function of
// the message bytes and static config, so replaying message 1 against a
// second, correctly-keyed state below is equivalent to processing it once
// with foreknowledge of the PSK.
func (e *ServerEngine) peekClientKey(cs noiselib.CipherSuite, initialMsg []byte) ([]byte, error) {
	hs, err := noiselib.NewHandshakeState(serverConfig(cs, e.staticPriv, e.staticPub, zeroPSK))
	if err != nil {
		return nil, err
	}
	if _, _, _, err := hs.ReadMessage(nil, initialMsg); err != nil {
		return nil, err
	}
	return hs.PeerStatic(), nil
}

// ServerHandshake implements connection.ServerEngine.
func (e *ServerEngine) ServerHandshake(initialMsg []byte, peerAddr netip.AddrPort) ([]byte, connection.ServerHandshakeResult, bool, error) {
	cs, clientKey, err := e.detectSuiteAndPeek(initialMsg)
	if err != nil {
		return nil, connection.ServerHandshakeResult{}, false, nil // malformed or unreadable: drop silently
	}

	var clientKeyArr [32]byte
	copy(clientKeyArr[:], clientKey)
	record, err := e.store.Get(clientKeyArr)
	if err != nil {
		return nil, connection.ServerHandshakeResult{}, false, nil // unknown peer: drop silently
	}

	hs, err := noiselib.NewHandshakeState(serverConfig(cs, e.staticPriv, e.staticPub, record.PreSharedKey[:]))
	if err != nil {
		return nil, connection.ServerHandshakeResult{}, false, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if _, _, _, err := hs.ReadMessage(nil, initialMsg); err != nil {
		return nil, connection.ServerHandshakeResult{}, false, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if !bytes.Equal(hs.PeerStatic(), clientKey) {
		return nil, connection.ServerHandshakeResult{}, false, fmt.Errorf("%w: peer static key mismatch on replay", ErrHandshakeFailed)
	}

	sid, innerIP, err := e.allocator.Allocate()
	if err != nil {
		// Allocation exhausted (spec §4.3): still complete the Noise
		// handshake so the client learns *why* it was rejected, rather
		// than silently timing out.
		reply, _, _, werr := hs.WriteMessage(nil, responderFailurePayload(byte(connection.HandshakeFailureServerOverloaded)))
		if werr != nil {
			return nil, connection.ServerHandshakeResult{}, false, fmt.Errorf("%w: %v", ErrHandshakeFailed, werr)
		}
		return reply, connection.ServerHandshakeResult{}, false, nil
	}

	payload := responderPayload(sid, innerIP)
	reply, cs1, cs2, err := hs.WriteMessage(nil, payload)
	if err != nil {
		e.allocator.Release(sid, innerIP)
		return nil, connection.ServerHandshakeResult{}, false, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if cs1 == nil || cs2 == nil {
		e.allocator.Release(sid, innerIP)
		return nil, connection.ServerHandshakeResult{}, false, fmt.Errorf("%w: handshake incomplete after message 2", ErrHandshakeFailed)
	}

	algorithm := algorithmOf(cs)
	state, err := newTransportState(sid, cs1, cs2, algorithm, true)
	if err != nil {
		e.allocator.Release(sid, innerIP)
		return nil, connection.ServerHandshakeResult{}, false, err
	}

	result := connection.ServerHandshakeResult{
		SID:       sid,
		InnerIP:   innerIP,
		Algorithm: algorithm,
		State:     state,
		ClientKey: append([]byte(nil), clientKey...),
	}
	return reply, result, true, nil
}

// detectSuiteAndPeek tries AES first, then ChaCha, returning the suite that
// successfully read message 1 along with the client's static key.
func (e *ServerEngine) detectSuiteAndPeek(initialMsg []byte) (noiselib.CipherSuite, []byte, error) {
	if key, err := e.peekClientKey(cipherSuiteAES, initialMsg); err == nil {
		return cipherSuiteAES, key, nil
	}
	key, err := e.peekClientKey(cipherSuiteChaCha, initialMsg)
	if err != nil {
		return nil, nil, err
	}
	return cipherSuiteChaCha, key, nil
}

// ClientEngine implements connection.ClientEngine.
type ClientEngine struct {
	staticPriv []byte
	staticPub  []byte
	serverPub  []byte
	psk        []byte
	algorithm  connection.Algorithm

	hs *noiselib.HandshakeState
}

func NewClientEngine(staticPriv, staticPub, serverPub, psk []byte, algorithm connection.Algorithm) *ClientEngine {
	return &ClientEngine{staticPriv: staticPriv, staticPub: staticPub, serverPub: serverPub, psk: psk, algorithm: algorithm}
}

func (e *ClientEngine) cipherSuite() (noiselib.CipherSuite, error) {
	switch e.algorithm {
	case connection.AlgorithmAES256GCM:
		return cipherSuiteAES, nil
	case connection.AlgorithmChaCha20Poly1305:
		return cipherSuiteChaCha, nil
	default:
		return nil, fmt.Errorf("noise: unsupported algorithm %v", e.algorithm)
	}
}

// BuildInitial implements connection.ClientEngine.
func (e *ClientEngine) BuildInitial() ([]byte, error) {
	cs, err := e.cipherSuite()
	if err != nil {
		return nil, err
	}
	hs, err := noiselib.NewHandshakeState(noiselib.Config{
		CipherSuite:           cs,
		Pattern:               noiselib.HandshakeIK,
		Initiator:             true,
		StaticKeypair:         noiselib.DHKey{Private: e.staticPriv, Public: e.staticPub},
		PeerStatic:            e.serverPub,
		PresharedKey:          e.psk,
		PresharedKeyPlacement: pskPlacement,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	e.hs = hs
	return msg, nil
}

// ParseResponse implements connection.ClientEngine.
func (e *ClientEngine) ParseResponse(reply []byte) (connection.ClientHandshakeResult, error) {
	if e.hs == nil {
		return connection.ClientHandshakeResult{}, fmt.Errorf("%w: BuildInitial not called", ErrHandshakeFailed)
	}
	payload, cs1, cs2, err := e.hs.ReadMessage(nil, reply)
	if err != nil {
		return connection.ClientHandshakeResult{}, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if cs1 == nil || cs2 == nil {
		return connection.ClientHandshakeResult{}, fmt.Errorf("%w: handshake incomplete after message 2", ErrHandshakeFailed)
	}
	if !bytes.Equal(e.hs.PeerStatic(), e.serverPub) {
		return connection.ClientHandshakeResult{}, fmt.Errorf("%w: server static key mismatch", ErrHandshakeFailed)
	}

	body, err := decodeResponderPayload(payload)
	if err != nil {
		return connection.ClientHandshakeResult{}, err
	}
	if body.failure != connection.HandshakeFailureNone {
		return connection.ClientHandshakeResult{Failure: body.failure}, nil
	}

	state, err := newTransportState(body.sid, cs2, cs1, e.algorithm, false)
	if err != nil {
		return connection.ClientHandshakeResult{}, err
	}
	return connection.ClientHandshakeResult{
		SID:       body.sid,
		InnerIP:   body.innerIP,
		Algorithm: e.algorithm,
		State:     state,
		Failure:   connection.HandshakeFailureNone,
	}, nil
}

func algorithmOf(cs noiselib.CipherSuite) connection.Algorithm {
	if cs == cipherSuiteAES {
		return connection.AlgorithmAES256GCM
	}
	return connection.AlgorithmChaCha20Poly1305
}
