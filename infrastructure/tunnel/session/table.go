package session

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net/netip"
	"sync"
	"time"

	"tunvpn/application/network/connection"
)

// ErrSessionNotFound is returned by the table's lookups.
var ErrSessionNotFound = errors.New("session: not found")

// ErrServerOverloaded is returned by Allocate when the sid allocator
// exhausts its retry budget (spec §4.3: bounded, not unbounded, retry).
var ErrServerOverloaded = errors.New("session: server overloaded")

// ErrNoFreeAddress is returned when the inner-IP pool is exhausted.
var ErrNoFreeAddress = errors.New("session: inner IP pool exhausted")

// shardCount must be a power of two; SessionID's low bits select a shard.
const shardCount = 16

const sidAllocAttempts = 32

type shard struct {
	mu    sync.RWMutex
	bySID map[connection.SessionID]*sessionImpl
}

// Table is the sharded, dual-indexed session table: sid -> session and
// inner-IP -> sid. Dual-index invariant: once Install has returned, a
// session is reachable via both indices until ReleaseSession removes it.
// While Install or ReleaseSession is running, the sid entry may be present
// without the inner-IP entry (Install) or the inner-IP entry without the
// sid entry (ReleaseSession); a lookup that misses reports not found.
type Table struct {
	shards [shardCount]*shard

	ipMu  sync.RWMutex
	byIP  map[netip.Addr]connection.SessionID

	pool *ipPool
}

func NewTable(pool netip.Prefix) *Table {
	t := &Table{
		byIP: make(map[netip.Addr]connection.SessionID),
		pool: newIPPool(pool),
	}
	for i := range t.shards {
		t.shards[i] = &shard{bySID: make(map[connection.SessionID]*sessionImpl)}
	}
	return t
}

func (t *Table) shardFor(sid connection.SessionID) *shard {
	return t.shards[uint32(sid)&(shardCount-1)]
}

// Allocate implements connection.Allocator: picks a fresh random SessionID
// (retrying up to sidAllocAttempts times on collision) and the next free
// inner IP, but does not install a session — the caller supplies the
// TransportState only once the handshake actually completes.
func (t *Table) Allocate() (connection.SessionID, netip.Addr, error) {
	sid, err := t.allocateSID()
	if err != nil {
		return 0, netip.Addr{}, err
	}
	addr, err := t.pool.acquire()
	if err != nil {
		return 0, netip.Addr{}, ErrNoFreeAddress
	}
	return sid, addr, nil
}

// Release implements connection.Allocator: returns an inner IP to the pool
// without installing a session (used when a handshake fails after
// allocation, e.g. the peek-then-commit path never reaches Install).
func (t *Table) Release(_ connection.SessionID, innerIP netip.Addr) {
	t.pool.release(innerIP)
}

func (t *Table) allocateSID() (connection.SessionID, error) {
	var buf [4]byte
	for i := 0; i < sidAllocAttempts; i++ {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		sid := connection.SessionID(binary.LittleEndian.Uint32(buf[:]))
		if sid == 0 { // zero is the reserved "no session" sentinel
			continue
		}
		sh := t.shardFor(sid)
		sh.mu.RLock()
		_, taken := sh.bySID[sid]
		sh.mu.RUnlock()
		if !taken {
			return sid, nil
		}
	}
	return 0, ErrServerOverloaded
}

// Install stores the fully-negotiated session under both indices.
func (t *Table) Install(sid connection.SessionID, innerIP netip.Addr, peerAddr netip.AddrPort, algorithm connection.Algorithm, state connection.TransportState) connection.Session {
	s := newSession(sid, innerIP, peerAddr, algorithm, state, time.Now())

	sh := t.shardFor(sid)
	sh.mu.Lock()
	sh.bySID[sid] = s
	sh.mu.Unlock()

	t.ipMu.Lock()
	t.byIP[innerIP] = sid
	t.ipMu.Unlock()

	return s
}

func (t *Table) GetBySID(sid connection.SessionID) (connection.Session, error) {
	sh := t.shardFor(sid)
	sh.mu.RLock()
	s, ok := sh.bySID[sid]
	sh.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (t *Table) GetByInnerIP(addr netip.Addr) (connection.Session, error) {
	t.ipMu.RLock()
	sid, ok := t.byIP[addr]
	t.ipMu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return t.GetBySID(sid)
}

// ReleaseSession removes the session from both indices and returns its
// inner IP to the pool. Implements the reaper's and revoker's teardown path.
func (t *Table) ReleaseSession(sid connection.SessionID) {
	sh := t.shardFor(sid)
	sh.mu.Lock()
	s, ok := sh.bySID[sid]
	if ok {
		delete(sh.bySID, sid)
	}
	sh.mu.Unlock()
	if !ok {
		return
	}

	t.ipMu.Lock()
	delete(t.byIP, s.InnerIP())
	t.ipMu.Unlock()

	t.pool.release(s.InnerIP())
}

// ReapIdle implements the reaper's IdleReaper interface: removes every
// session whose LastSeen is older than timeout and returns the count.
// A non-positive timeout disables reaping entirely rather than evicting
// every live session (spec §4.8/§8).
func (t *Table) ReapIdle(timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}
	cutoff := monotonicSeconds() - int64(timeout/time.Second)
	n := 0
	for _, sh := range t.shards {
		sh.mu.RLock()
		var stale []connection.SessionID
		for sid, s := range sh.bySID {
			if s.LastSeen() < cutoff {
				stale = append(stale, sid)
			}
		}
		sh.mu.RUnlock()
		for _, sid := range stale {
			t.ReleaseSession(sid)
			n++
		}
	}
	return n
}
