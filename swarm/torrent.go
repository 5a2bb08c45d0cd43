package swarm

import (
	"time"

	"github.com/bt-tracker/aquatrack/bittorrent"
)

// peerEntry is the per-peer bookkeeping a torrent keeps beyond the bare
// Peer the client announced.
type peerEntry struct {
	peer       bittorrent.Peer
	status     bittorrent.PeerStatus
	validUntil time.Time
}

// torrent holds every peer currently in one swarm, ordered for O(1)
// positional access so that peer sampling (see sample below) can
// pick a random window without shuffling or scanning the whole set. A
// plain Go map offers neither a stable order nor O(1) access by position,
// so peers are tracked in a slice with a companion index map; removal
// swaps the removed slot with the last one instead of leaving a gap.
type torrent struct {
	order       []bittorrent.PeerID
	index       map[bittorrent.PeerID]int
	peers       map[bittorrent.PeerID]*peerEntry
	numSeeders  int
	numLeechers int
}

func newTorrent() *torrent {
	return &torrent{
		index: make(map[bittorrent.PeerID]int),
		peers: make(map[bittorrent.PeerID]*peerEntry),
	}
}

func (t *torrent) len() int { return len(t.order) }

func (t *torrent) at(i int) bittorrent.PeerID { return t.order[i] }

// upsert inserts or replaces the peer entry for id, returning the entry
// that previously occupied that slot (nil if id was new).
func (t *torrent) upsert(id bittorrent.PeerID, e *peerEntry) *peerEntry {
	prev := t.peers[id]
	if prev == nil {
		t.index[id] = len(t.order)
		t.order = append(t.order, id)
	}
	t.peers[id] = e
	return prev
}

// remove deletes id from the torrent, returning its prior entry (nil if
// absent). It swaps the removed slot with the last slot in order to stay
// O(1), so order does not reflect strict insertion order after removals
// — only a stable order for the lifetime between mutations, which is all
// the sampling algorithm in §4.5.1 requires.
func (t *torrent) remove(id bittorrent.PeerID) *peerEntry {
	prev, ok := t.peers[id]
	if !ok {
		return nil
	}

	delete(t.peers, id)
	i := t.index[id]
	last := len(t.order) - 1
	t.order[i] = t.order[last]
	t.index[t.order[i]] = i
	t.order = t.order[:last]
	delete(t.index, id)

	return prev
}

func (t *torrent) get(id bittorrent.PeerID) (*peerEntry, bool) {
	e, ok := t.peers[id]
	return e, ok
}

func (t *torrent) empty() bool { return len(t.order) == 0 }

// sample returns up to k peers from the torrent, excluding exclude, using
// the offset-plus-wrap algorithm from §4.5.1: if the torrent holds k+1 or
// fewer peers, every peer but the sender is returned; otherwise a random
// starting offset is chosen and up to k+1 consecutive (wrapping) slots
// are scanned, skipping the sender if encountered; since at most one
// scanned slot is the sender, this always yields k peers.
func (t *torrent) sample(k int, exclude bittorrent.PeerID, rng *xorshift) []bittorrent.Peer {
	n := t.len()
	if n == 0 || k <= 0 {
		return nil
	}

	if n <= k+1 {
		out := make([]bittorrent.Peer, 0, n)
		for i := 0; i < n; i++ {
			id := t.at(i)
			if id == exclude {
				continue
			}
			out = append(out, t.peers[id].peer)
		}
		return out
	}

	offset := rng.intn(n)
	limit := k + 1
	out := make([]bittorrent.Peer, 0, k)
	for i := 0; i < limit; i++ {
		id := t.at((offset + i) % n)
		if id == exclude {
			continue
		}
		out = append(out, t.peers[id].peer)
		if len(out) == k {
			break
		}
	}
	return out
}
