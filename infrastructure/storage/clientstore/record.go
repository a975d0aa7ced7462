// Package clientstore persists the server's known-client table — the
// peer_public_key -> ClientRecord mapping spec §3 and §6 describe as an
// external collaborator backed by "an embedded LSM store". Pebble
// (github.com/cockroachdb/pebble) is exactly that: an embedded LSM-tree
// key-value store, grounded on gosuda-portal's direct dependency on it.
package clientstore

import (
	"encoding/binary"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup key has no record.
var ErrNotFound = errors.New("clientstore: not found")

// ErrDuplicateKey is returned by Insert when a record with the same
// peer_public_key already exists (spec §3: "uniqueness enforced at
// insertion").
var ErrDuplicateKey = errors.New("clientstore: duplicate peer public key")

// ClientRecord is the server-side persisted record for one known client,
// keyed by PeerPublicKey (spec §3).
type ClientRecord struct {
	PeerPublicKey [32]byte
	PreSharedKey  [32]byte
	CreatedAt     time.Time
}

// Store is the logical interface spec §6 names: get, put, delete, iter.
type Store interface {
	Get(peerPublicKey [32]byte) (ClientRecord, error)
	// Insert adds a new record, failing with ErrDuplicateKey if one exists.
	Insert(record ClientRecord) error
	Delete(peerPublicKey [32]byte) error
	Iter(fn func(ClientRecord) bool) error
	Close() error
}

func encodeRecord(r ClientRecord) []byte {
	buf := make([]byte, 32+8)
	copy(buf[:32], r.PreSharedKey[:])
	binary.LittleEndian.PutUint64(buf[32:40], uint64(r.CreatedAt.Unix()))
	return buf
}

func decodeRecord(peerPublicKey [32]byte, buf []byte) (ClientRecord, error) {
	if len(buf) != 40 {
		return ClientRecord{}, errors.New("clientstore: corrupt record")
	}
	var r ClientRecord
	r.PeerPublicKey = peerPublicKey
	copy(r.PreSharedKey[:], buf[:32])
	r.CreatedAt = time.Unix(int64(binary.LittleEndian.Uint64(buf[32:40])), 0).UTC()
	return r, nil
}
