package pending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bt-tracker/aquatrack/bittorrent"
)

func TestRegistry_SingleShardCompletes(t *testing.T) {
	r := NewRegistry(time.Minute)
	id := r.Begin(2, 1)

	stats := []bittorrent.TorrentScrapeStatistics{
		{InfoHash: bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")},
		{InfoHash: bittorrent.InfoHashFromString("bbbbbbbbbbbbbbbbbbbb")},
	}

	resp, done := r.Deliver(id, []int{0, 1}, stats)
	require.True(t, done)
	require.Equal(t, stats, resp.Files)
	require.Equal(t, 0, r.Len())
}

func TestRegistry_ReassemblesOutOfOrderShards(t *testing.T) {
	r := NewRegistry(time.Minute)
	id := r.Begin(3, 2)

	a := bittorrent.TorrentScrapeStatistics{InfoHash: bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa"), Complete: 1}
	b := bittorrent.TorrentScrapeStatistics{InfoHash: bittorrent.InfoHashFromString("bbbbbbbbbbbbbbbbbbbb"), Complete: 2}
	c := bittorrent.TorrentScrapeStatistics{InfoHash: bittorrent.InfoHashFromString("cccccccccccccccccccc"), Complete: 3}

	// Shard handling index 2 answers first.
	resp, done := r.Deliver(id, []int{2}, []bittorrent.TorrentScrapeStatistics{c})
	require.False(t, done)
	require.Equal(t, bittorrent.ScrapeResponse{}, resp)

	// Shard handling indices 0 and 1 answers second.
	resp, done = r.Deliver(id, []int{0, 1}, []bittorrent.TorrentScrapeStatistics{a, b})
	require.True(t, done)
	require.Equal(t, []bittorrent.TorrentScrapeStatistics{a, b, c}, resp.Files)
}

func TestRegistry_UnknownIDIsNotDone(t *testing.T) {
	r := NewRegistry(time.Minute)
	resp, done := r.Deliver(9999, nil, nil)
	require.False(t, done)
	require.Equal(t, bittorrent.ScrapeResponse{}, resp)
}

func TestRegistry_PruneRemovesExpiredOrphans(t *testing.T) {
	r := NewRegistry(time.Millisecond)
	id := r.Begin(1, 2)
	// Only one of two shards ever answers.
	_, done := r.Deliver(id, []int{0}, []bittorrent.TorrentScrapeStatistics{{}})
	require.False(t, done)
	require.Equal(t, 1, r.Len())

	time.Sleep(2 * time.Millisecond)
	r.Prune(time.Now())
	require.Equal(t, 0, r.Len())
}
