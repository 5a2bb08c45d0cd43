package swarm

import (
	"sync/atomic"
	"time"

	"github.com/bt-tracker/aquatrack/accesslist"
	"github.com/bt-tracker/aquatrack/bittorrent"
	"github.com/bt-tracker/aquatrack/pkg/log"
	"github.com/bt-tracker/aquatrack/pkg/timecache"
)

// announceJob is an announce request forwarded to the shard that owns its
// info_hash, along with the channel the requester will receive the
// answer on.
type announceJob struct {
	req  bittorrent.AnnounceRequest
	resp chan<- AnnounceResult
}

// AnnounceResult is the outcome of an announce job applied by a shard,
// delivered back to the router caller on the channel it supplied.
type AnnounceResult struct {
	Resp bittorrent.AnnounceResponse
	Err  error
}

// scrapeJob is the sub-request forwarded to one shard for the subset of
// the client's info-hashes it owns; indices records their position in
// the client's original request so the caller can reassemble the full
// response in order (see the pending package).
type scrapeJob struct {
	infoHashes []bittorrent.InfoHash
	indices    []int
	resp       chan<- ScrapeResult
}

// ScrapeResult is one shard's partial answer to a (possibly split) scrape
// request: Stats runs parallel to Indices, which records each entry's
// position in the client's original info-hash list.
type ScrapeResult struct {
	Stats   []bittorrent.TorrentScrapeStatistics
	Indices []int
}

// shard owns a disjoint slice of the swarm space and is reached only
// through its requests channel: every torrent map, peer entry, and RNG
// state it touches is private to the single goroutine running run(), so
// none of it needs a lock. This replaces the teacher's mutex-guarded
// peerShard with exclusive goroutine ownership.
type shard struct {
	cfg        Config
	accessList *accesslist.List

	torrents map[bittorrent.InfoHash]*torrent
	rng      *xorshift

	requests chan interface{}
	closing  chan struct{}
	done     chan error

	numSeeders  atomic.Int64
	numLeechers atomic.Int64
	numTorrents atomic.Int64
}

func newShard(cfg Config, al *accesslist.List) *shard {
	return &shard{
		cfg:        cfg,
		accessList: al,
		torrents:   make(map[bittorrent.InfoHash]*torrent),
		rng:        newXorshift(),
		requests:   make(chan interface{}, cfg.RequestQueueSize),
		closing:    make(chan struct{}),
		done:       make(chan error),
	}
}

// run is the shard worker's main loop (C8): it owns every byte of state
// the shard touches, draining jobs off requests and applying them one at
// a time, with a periodic cleaning pass.
func (s *shard) run() {
	ticker := time.NewTicker(s.cfg.CleanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closing:
			close(s.done)
			return
		case <-ticker.C:
			s.clean(timecache.Now())
		case job := <-s.requests:
			s.apply(job)
			s.drainBatch()
		}
	}
}

// drainBatch applies up to MaxRequestsPerIter additional already-queued
// jobs without blocking, so a burst of announces doesn't starve the
// cleaning ticker indefinitely but also isn't processed one goroutine
// wakeup at a time.
func (s *shard) drainBatch() {
	for i := 0; i < s.cfg.MaxRequestsPerIter; i++ {
		select {
		case job := <-s.requests:
			s.apply(job)
		default:
			return
		}
	}
}

func (s *shard) apply(job interface{}) {
	switch j := job.(type) {
	case announceJob:
		resp, err := s.announce(j.req)
		j.resp <- AnnounceResult{Resp: resp, Err: err}
	case scrapeJob:
		stats := s.scrape(j.infoHashes)
		j.resp <- ScrapeResult{Stats: stats, Indices: j.indices}
	}
}

// announce implements the per-shard announce handler from §4.5.
func (s *shard) announce(req bittorrent.AnnounceRequest) (bittorrent.AnnounceResponse, error) {
	if s.accessList != nil && !s.accessList.Permitted(req.InfoHash) {
		return bittorrent.AnnounceResponse{}, accesslist.ErrTorrentUnapproved
	}

	status := bittorrent.NewPeerStatus(req.Event, req.Left)

	t, ok := s.torrents[req.InfoHash]
	if !ok {
		if status == bittorrent.Left {
			return s.announceResponse(nil, 0, 0), nil
		}
		t = newTorrent()
		s.torrents[req.InfoHash] = t
		s.numTorrents.Add(1)
		promInfohashesCount.Inc()
	}

	if status == bittorrent.Left {
		if prev := t.remove(req.Peer.ID); prev != nil {
			s.adjustCounters(t, prev.status, -1)
		}
	} else {
		entry := &peerEntry{
			peer:       req.Peer,
			status:     status,
			validUntil: timecache.Now().Add(s.cfg.PeerLifetime),
		}
		prev := t.upsert(req.Peer.ID, entry)
		if prev != nil {
			s.adjustCounters(t, prev.status, -1)
		}
		s.adjustCounters(t, status, 1)
	}

	if t.empty() {
		delete(s.torrents, req.InfoHash)
		s.numTorrents.Add(-1)
		promInfohashesCount.Dec()
	}

	take := s.cfg.MaxResponsePeers
	if req.NumWant > 0 && int(req.NumWant) < take {
		take = int(req.NumWant)
	}

	var peers []bittorrent.Peer
	var seeders, leechers int32
	if t2, ok := s.torrents[req.InfoHash]; ok {
		peers = t2.sample(take, req.Peer.ID, s.rng)
		seeders = int32(t2.numSeeders)
		leechers = int32(t2.numLeechers)
	}

	return s.announceResponse(peers, seeders, leechers), nil
}

func (s *shard) announceResponse(peers []bittorrent.Peer, seeders, leechers int32) bittorrent.AnnounceResponse {
	resp := bittorrent.AnnounceResponse{
		Interval:    s.cfg.PeerAnnounceInterval,
		MinInterval: s.cfg.PeerAnnounceInterval,
		Complete:    seeders,
		Incomplete:  leechers,
	}

	for _, p := range peers {
		if p.AddressFamily() == bittorrent.IPv6 {
			resp.IPv6Peers = append(resp.IPv6Peers, p)
		} else {
			resp.IPv4Peers = append(resp.IPv4Peers, p)
		}
	}

	return resp
}

func (s *shard) adjustCounters(t *torrent, status bittorrent.PeerStatus, delta int) {
	switch status {
	case bittorrent.Seeding:
		t.numSeeders += delta
		s.numSeeders.Add(int64(delta))
		promSeedersCount.Add(float64(delta))
	case bittorrent.Leeching:
		t.numLeechers += delta
		s.numLeechers.Add(int64(delta))
		promLeechersCount.Add(float64(delta))
	}
}

// scrape implements the per-shard scrape handler from §4.5.
func (s *shard) scrape(infoHashes []bittorrent.InfoHash) []bittorrent.TorrentScrapeStatistics {
	stats := make([]bittorrent.TorrentScrapeStatistics, len(infoHashes))
	for i, ih := range infoHashes {
		stats[i].InfoHash = ih
		if t, ok := s.torrents[ih]; ok {
			stats[i].Complete = uint32(t.numSeeders)
			stats[i].Incomplete = uint32(t.numLeechers)
		}
	}
	return stats
}

// clean implements the periodic per-shard cleaning pass from §4.5: it
// removes stale peers, drops emptied or now-disallowed swarms, and never
// runs for longer than the shard's own goroutine would otherwise spend
// handling requests, since shards clean independently of one another.
func (s *shard) clean(now time.Time) {
	start := time.Now()
	defer func() {
		promGCDurationMilliseconds.Observe(float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond))
	}()

	for ih, t := range s.torrents {
		for i := 0; i < t.len(); {
			id := t.at(i)
			e := t.peers[id]
			if now.After(e.validUntil) {
				t.remove(id)
				s.adjustCounters(t, e.status, -1)
				continue
			}
			i++
		}

		disallowed := s.accessList != nil && !s.accessList.Permitted(ih)
		if disallowed && !t.empty() {
			for i := 0; i < t.len(); i++ {
				e := t.peers[t.at(i)]
				s.adjustCounters(t, e.status, -1)
			}
		}

		if t.empty() || disallowed {
			delete(s.torrents, ih)
			s.numTorrents.Add(-1)
			promInfohashesCount.Dec()
		}
	}
}

func (s *shard) logFields() log.Fields {
	return log.Fields{
		"seeders":  s.numSeeders.Load(),
		"leechers": s.numLeechers.Load(),
		"torrents": s.numTorrents.Load(),
	}
}

// stop signals the shard's goroutine to exit and returns a channel that
// is closed once it has.
func (s *shard) stop() <-chan error {
	close(s.closing)
	return s.done
}
