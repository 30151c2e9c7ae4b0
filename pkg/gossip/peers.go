package gossip

import (
	"sync"
	"time"

	"github.com/driftlabs/syntroswarm/pkg/swarm"
)

// UpsertResult reports what a PeerTable write did.
type UpsertResult int

const (
	// UpsertApplied means the entry was inserted or updated.
	UpsertApplied UpsertResult = iota
	// UpsertOutOfOrder means a late-arriving datagram carried an older
	// sender timestamp than the stored entry and was rejected.
	UpsertOutOfOrder
	// UpsertTableFull means a new peer was rejected at capacity.
	UpsertTableFull
)

// PeerTable is the bounded, time-indexed registry of the last known
// state per peer. It is mutated by the receive loop, swept by the prune
// loop, and read by the consensus loop; all access goes through the
// table lock and iteration always works on a snapshot copy.
type PeerTable struct {
	mu    sync.RWMutex
	peers map[string]swarm.PeerState
	cap   int
}

// NewPeerTable returns a table bounded to capacity entries.
func NewPeerTable(capacity int) *PeerTable {
	if capacity <= 0 {
		capacity = 1024
	}
	return &PeerTable{
		peers: make(map[string]swarm.PeerState),
		cap:   capacity,
	}
}

// Upsert records the latest reading from a peer. Last write wins by
// sender timestamp: a datagram that arrives late must not regress the
// stored entry.
func (t *PeerTable) Upsert(id string, p swarm.PeerState) UpsertResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.peers[id]
	if ok && p.SentAt.Before(cur.SentAt) {
		return UpsertOutOfOrder
	}
	if !ok && len(t.peers) >= t.cap {
		return UpsertTableFull
	}
	t.peers[id] = p
	return UpsertApplied
}

// Prune evicts every entry silent for strictly longer than timeout and
// returns the evicted peer IDs.
func (t *PeerTable) Prune(now time.Time, timeout time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var dead []string
	for id, p := range t.peers {
		if now.Sub(p.LastSeen) > timeout {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		delete(t.peers, id)
	}
	return dead
}

// Snapshot returns a point-in-time copy safe to iterate while the
// receive and prune loops keep mutating the table.
func (t *PeerTable) Snapshot() map[string]swarm.PeerState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]swarm.PeerState, len(t.peers))
	for id, p := range t.peers {
		out[id] = p
	}
	return out
}

// Get returns the stored entry for id, if any.
func (t *PeerTable) Get(id string) (swarm.PeerState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	return p, ok
}

// Len returns the number of tracked peers.
func (t *PeerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}
