// Package transport implements the stateless, post-handshake AEAD transport
// state: two directional keys, explicit per-direction nonce counters, and a
// sliding-window replay check on receive. Grounded on the teacher's
// infrastructure/cryptography/chacha20/udp_session.go, stripped of that
// file's rekey/epoch-ring machinery (out of spec's scope) and generalized to
// support either negotiated AEAD (spec §4.2).
package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"

	"tunvpn/application/network/connection"
)

// ErrAuthenticationFailed is returned by Decrypt on any AEAD open failure:
// wrong key or tampered ciphertext. A replayed or out-of-window nonce is
// rejected before the AEAD open with a separate error. It is distinguishable from
// structural errors so the handshake responder can use AEAD-failure
// discrimination to try the other cipher suite (spec §4.2).
var ErrAuthenticationFailed = errors.New("transport: AEAD authentication failed")

var errCiphertextTooShort = errors.New("transport: ciphertext shorter than nonce")
var errReplay = errors.New("transport: nonce replayed or out of window")

const nonceSize = 12

// replayWindowSize is the width of the sliding bitmap used to reject
// already-seen nonces while tolerating UDP reordering.
const replayWindowSize = 2048

// State implements connection.TransportState for one session.
type State struct {
	sid        connection.SessionID
	algorithm  connection.Algorithm
	isServer   bool
	sendCipher cipher.AEAD
	recvCipher cipher.AEAD

	sendCounter uint64 // atomic
	mu          sync.Mutex
	window      replayWindow
}

// NewState builds a transport state from the two directional keys the
// handshake produced, instantiating AES-256-GCM or ChaCha20-Poly1305
// depending on algorithm.
func NewState(sid connection.SessionID, sendKey, recvKey []byte, algorithm connection.Algorithm, isServer bool) (*State, error) {
	sendAEAD, err := newAEAD(algorithm, sendKey)
	if err != nil {
		return nil, fmt.Errorf("transport: send cipher: %w", err)
	}
	recvAEAD, err := newAEAD(algorithm, recvKey)
	if err != nil {
		return nil, fmt.Errorf("transport: recv cipher: %w", err)
	}
	return &State{
		sid:        sid,
		algorithm:  algorithm,
		isServer:   isServer,
		sendCipher: sendAEAD,
		recvCipher: recvAEAD,
	}, nil
}

func newAEAD(algorithm connection.Algorithm, key []byte) (cipher.AEAD, error) {
	switch algorithm {
	case connection.AlgorithmChaCha20Poly1305:
		return chacha20poly1305.New(key)
	case connection.AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	default:
		return nil, fmt.Errorf("transport: unsupported algorithm %v", algorithm)
	}
}

func (s *State) Algorithm() connection.Algorithm { return s.algorithm }

// Encrypt seals plaintext, prefixing the output with a fresh 12-byte nonce
// derived from a monotonically increasing counter unique to this
// direction. The AAD binds the session id and direction so a ciphertext
// cannot be replayed onto the other direction or another session.
func (s *State) Encrypt(plaintext []byte) ([]byte, error) {
	n := atomic.AddUint64(&s.sendCounter, 1) - 1
	var nonce [nonceSize]byte
	binary.LittleEndian.PutUint64(nonce[:8], n)

	aad := s.aad(s.isServer, nonce[:])
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+s.sendCipher.Overhead())
	copy(out, nonce[:])
	out = s.sendCipher.Seal(out, nonce[:], plaintext, aad)
	return out, nil
}

// Decrypt opens a frame produced by the peer's Encrypt. Nonce replay is
// rejected via a sliding bitmap window.
func (s *State) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, errCiphertextTooShort
	}
	nonce := ciphertext[:nonceSize]
	body := ciphertext[nonceSize:]
	counter := binary.LittleEndian.Uint64(nonce[:8])

	s.mu.Lock()
	allowed := s.window.accept(counter)
	s.mu.Unlock()
	if !allowed {
		return nil, errReplay
	}

	aad := s.aad(!s.isServer, nonce)
	plaintext, err := s.recvCipher.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

func (s *State) aad(isServerToClient bool, nonce []byte) []byte {
	out := make([]byte, 0, 4+1+len(nonce))
	var sidBuf [4]byte
	binary.LittleEndian.PutUint32(sidBuf[:], uint32(s.sid))
	out = append(out, sidBuf[:]...)
	if isServerToClient {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = append(out, nonce...)
	return out
}

// replayWindow is a sliding bitmap of the highest replayWindowSize counters
// seen, rejecting duplicates while tolerating UDP-level reordering.
type replayWindow struct {
	highest uint64
	bitmap  [replayWindowSize / 64]uint64
	seeded  bool
}

func (w *replayWindow) accept(counter uint64) bool {
	if !w.seeded {
		w.seeded = true
		w.highest = counter
		w.setBit(counter)
		return true
	}
	if counter > w.highest {
		shift := counter - w.highest
		w.advance(shift)
		w.highest = counter
		w.setBit(counter)
		return true
	}
	diff := w.highest - counter
	if diff >= replayWindowSize {
		return false
	}
	if w.testBit(counter) {
		return false
	}
	w.setBit(counter)
	return true
}

func (w *replayWindow) advance(shift uint64) {
	if shift >= replayWindowSize {
		for i := range w.bitmap {
			w.bitmap[i] = 0
		}
		return
	}
	words := shift / 64
	bits := shift % 64
	// Bit offset o (highest - counter) moves to o+shift: words move toward
	// higher indices and carries flow from word i into word i+1.
	if words > 0 {
		copy(w.bitmap[words:], w.bitmap[:len(w.bitmap)-int(words)])
		for i := 0; i < int(words); i++ {
			w.bitmap[i] = 0
		}
	}
	if bits > 0 {
		carry := uint64(0)
		for i := 0; i < len(w.bitmap); i++ {
			next := w.bitmap[i] >> (64 - bits)
			w.bitmap[i] = (w.bitmap[i] << bits) | carry
			carry = next
		}
	}
}

func (w *replayWindow) setBit(counter uint64) {
	offset := w.highest - counter
	if offset >= replayWindowSize {
		return
	}
	idx := offset / 64
	bit := offset % 64
	w.bitmap[idx] |= 1 << bit
}

func (w *replayWindow) testBit(counter uint64) bool {
	offset := w.highest - counter
	if offset >= replayWindowSize {
		return false
	}
	idx := offset / 64
	bit := offset % 64
	return w.bitmap[idx]&(1<<bit) != 0
}
