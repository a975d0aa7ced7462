package clientstore

import (
	"testing"
	"time"
)

func TestInsertGetDelete(t *testing.T) {
	s := NewMemoryStore()
	var key [32]byte
	key[0] = 0xAB
	record := ClientRecord{PeerPublicKey: key, CreatedAt: time.Now().Truncate(time.Second)}

	if err := s.Insert(record); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(record); err != ErrDuplicateKey {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CreatedAt.Equal(record.CreatedAt) {
		t.Fatalf("mismatch: %+v vs %+v", got, record)
	}

	if err := s.Delete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(key); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestIterVisitsAll(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 3; i++ {
		var key [32]byte
		key[0] = byte(i)
		_ = s.Insert(ClientRecord{PeerPublicKey: key})
	}
	count := 0
	_ = s.Iter(func(ClientRecord) bool {
		count++
		return true
	})
	if count != 3 {
		t.Fatalf("expected 3 records, got %d", count)
	}
}
