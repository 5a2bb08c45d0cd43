// Package pending implements the registry that reassembles a scrape
// request split across multiple swarm shards back into a single response
// in the client's original info-hash order, regardless of which shard
// answers first.
package pending

import (
	"sync"
	"time"

	"github.com/bt-tracker/aquatrack/bittorrent"
)

// entry tracks one in-flight, possibly-split scrape request.
type entry struct {
	stats      []bittorrent.TorrentScrapeStatistics
	remaining  int
	validUntil time.Time
}

// Registry assigns IDs to pending scrapes and reassembles their partial,
// per-shard responses. It is safe for concurrent use: unlike the swarm
// shards, request/response correlation here is inherently shared state
// touched by every goroutine that handles a request for the owning
// front-end, so a single mutex-protected map is the
// right tool rather than channel ownership.
type Registry struct {
	mu      sync.Mutex
	entries map[uint64]*entry
	nextID  uint64
	maxAge  time.Duration
}

// NewRegistry creates a Registry whose entries are pruned if they remain
// incomplete for longer than maxAge (guards against an orphaned entry
// left behind by a shard worker that died mid-flight).
func NewRegistry(maxAge time.Duration) *Registry {
	return &Registry{
		entries: make(map[uint64]*entry),
		maxAge:  maxAge,
	}
}

// Begin registers a new pending scrape expecting answers for a total of
// totalInfoHashes info-hashes split across shardCount distinct shards, and
// returns the ID callers pass to Deliver with each shard's partial
// response.
func (r *Registry) Begin(totalInfoHashes, shardCount int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID

	r.entries[id] = &entry{
		stats:      make([]bittorrent.TorrentScrapeStatistics, totalInfoHashes),
		remaining:  shardCount,
		validUntil: time.Now().Add(r.maxAge),
	}

	return id
}

// Deliver records a shard's partial response: stats[i] corresponds to the
// info-hash that was originally at indices[i] in the client's request. It
// reports the assembled ScrapeResponse and true once every shard has
// reported in; otherwise it reports a zero ScrapeResponse and false.
func (r *Registry) Deliver(id uint64, indices []int, stats []bittorrent.TorrentScrapeStatistics) (bittorrent.ScrapeResponse, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return bittorrent.ScrapeResponse{}, false
	}

	for i, idx := range indices {
		e.stats[idx] = stats[i]
	}
	e.remaining--

	if e.remaining > 0 {
		return bittorrent.ScrapeResponse{}, false
	}

	delete(r.entries, id)
	return bittorrent.ScrapeResponse{Files: e.stats}, true
}

// Prune removes entries that have outlived maxAge without completing,
// orphaned by a shard worker that never answered.
func (r *Registry) Prune(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.entries {
		if now.After(e.validUntil) {
			delete(r.entries, id)
		}
	}
}

// Len reports the number of currently pending scrapes, for tests and
// metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
