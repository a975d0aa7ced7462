package clientstore

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// PebbleStore implements Store on top of a pebble LSM-tree database.
type PebbleStore struct {
	db *pebble.DB
}

// Open opens (creating if absent) the pebble database at dir.
func Open(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(peerPublicKey [32]byte) (ClientRecord, error) {
	val, closer, err := s.db.Get(peerPublicKey[:])
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ClientRecord{}, ErrNotFound
		}
		return ClientRecord{}, err
	}
	defer closer.Close()
	buf := append([]byte(nil), val...)
	return decodeRecord(peerPublicKey, buf)
}

func (s *PebbleStore) Insert(record ClientRecord) error {
	_, closer, err := s.db.Get(record.PeerPublicKey[:])
	if err == nil {
		_ = closer.Close()
		return ErrDuplicateKey
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	return s.db.Set(record.PeerPublicKey[:], encodeRecord(record), pebble.Sync)
}

func (s *PebbleStore) Delete(peerPublicKey [32]byte) error {
	return s.db.Delete(peerPublicKey[:], pebble.Sync)
}

func (s *PebbleStore) Iter(fn func(ClientRecord) bool) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		var key [32]byte
		copy(key[:], iter.Key())
		record, err := decodeRecord(key, iter.Value())
		if err != nil {
			return err
		}
		if !fn(record) {
			break
		}
	}
	return iter.Error()
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
