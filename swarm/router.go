// Package swarm implements the sharded, lock-free swarm store: each shard
// is owned exclusively by one goroutine and reached only by sending it a
// job over a channel, never by touching its state directly.
package swarm

import (
	"errors"

	"github.com/bt-tracker/aquatrack/accesslist"
	"github.com/bt-tracker/aquatrack/bittorrent"
	"github.com/bt-tracker/aquatrack/pkg/log"
	"github.com/bt-tracker/aquatrack/pkg/stop"
)

// ErrShardBusy is returned when a shard's request queue is full. Per
// §4.6, enqueue is always a non-blocking try_send: callers decide for
// themselves whether dropping (UDP) or surfacing an error (HTTP/WS) is
// the right response.
var ErrShardBusy = errors.New("swarm: shard request queue is full")

// Router shards info-hashes across a fixed set of swarm workers (C6) and
// forwards announce/scrape requests to the shard that owns each
// info-hash's slice of the swarm space.
type Router struct {
	shards []*shard
}

// NewRouter creates a Router and starts one swarm worker goroutine per
// shard.
func NewRouter(cfg Config, al *accesslist.List) *Router {
	cfg = cfg.Validate()

	r := &Router{shards: make([]*shard, cfg.ShardCount)}
	for i := range r.shards {
		sh := newShard(cfg, al)
		r.shards[i] = sh
		go sh.run()
	}
	return r
}

// shardIndex implements §4.6's shard selection rule: the first byte of
// the info_hash modulo the shard count, chosen for O(1) cost and
// approximate uniformity.
func shardIndex(ih bittorrent.InfoHash, numShards int) int {
	return int(ih[0]) % numShards
}

// Announce enqueues req on the shard that owns its info_hash and returns
// a channel the caller can use to retrieve the result; every front-end
// blocks on it from the goroutine handling that request. It returns
// ErrShardBusy without enqueuing anything if that shard's queue is full.
func (r *Router) Announce(req bittorrent.AnnounceRequest) (<-chan AnnounceResult, error) {
	idx := shardIndex(req.InfoHash, len(r.shards))
	resp := make(chan AnnounceResult, 1)

	select {
	case r.shards[idx].requests <- announceJob{req: req, resp: resp}:
		return resp, nil
	default:
		return nil, ErrShardBusy
	}
}

// Scrape splits infoHashes across the shards that own them, forwarding
// one sub-request per distinct shard and returning one channel per
// sub-request together with the original indices it will answer for
// (used by the pending registry to reassemble the combined response).
// A shard whose queue is full is skipped and gets no channel, so its
// indices are left as zero TorrentScrapeStatistics (zero InfoHash
// included) in the reassembled response.
func (r *Router) Scrape(infoHashes []bittorrent.InfoHash) (chans []<-chan ScrapeResult, err error) {
	byShard := make(map[int]*scrapeJob)

	for i, ih := range infoHashes {
		idx := shardIndex(ih, len(r.shards))
		j, ok := byShard[idx]
		if !ok {
			j = &scrapeJob{}
			byShard[idx] = j
		}
		j.infoHashes = append(j.infoHashes, ih)
		j.indices = append(j.indices, i)
	}

	var dropped int
	for idx, j := range byShard {
		respCh := make(chan ScrapeResult, 1)
		j.resp = respCh

		select {
		case r.shards[idx].requests <- *j:
			chans = append(chans, respCh)
		default:
			dropped++
		}
	}

	if dropped > 0 && len(chans) == 0 {
		return nil, ErrShardBusy
	}

	return chans, nil
}

// ShardCount reports how many shards the Router is running.
func (r *Router) ShardCount() int { return len(r.shards) }

// Counts reports the current, approximately-consistent total seeders and
// leechers across every shard. Each shard's counters are only ever
// written by the goroutine that owns it; Counts reads them with a single
// atomic load per shard, so this is safe without message-passing despite
// the no-lock design everywhere else in the package.
func (r *Router) Counts() (seeders, leechers, torrents int64) {
	for _, sh := range r.shards {
		seeders += sh.numSeeders.Load()
		leechers += sh.numLeechers.Load()
		torrents += sh.numTorrents.Load()
	}
	return
}

// LogFields renders aggregate swarm counters as structured-log fields.
func (r *Router) LogFields() log.Fields {
	seeders, leechers, torrents := r.Counts()
	return log.Fields{
		"seeders":  seeders,
		"leechers": leechers,
		"torrents": torrents,
	}
}

// Stop implements stop.Stopper, shutting down every shard worker
// concurrently and waiting for all of them to exit.
func (r *Router) Stop() <-chan error {
	group := stop.NewGroup()
	for _, sh := range r.shards {
		group.AddFunc(sh.stop)
	}

	done := make(chan error)
	go func() {
		errs := group.Stop()
		if len(errs) > 0 {
			done <- errs[0]
			return
		}
		close(done)
	}()
	return done
}

var _ stop.Stopper = (*Router)(nil)
