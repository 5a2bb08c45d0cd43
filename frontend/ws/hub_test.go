package ws

import (
	"encoding/json"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bt-tracker/aquatrack/accesslist"
	"github.com/bt-tracker/aquatrack/bittorrent"
	"github.com/bt-tracker/aquatrack/swarm"
)

// denyAllList builds an access list in Allow mode backed by an empty file,
// which permits nothing.
func denyAllList(t *testing.T) *accesslist.List {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allowed.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	al, err := accesslist.New(accesslist.Config{Mode: accesslist.Allow, Path: path, ReloadInterval: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { <-al.Stop() })
	return al
}

func testSwarmConfig() swarm.Config {
	return swarm.Config{
		ShardCount:           2,
		PeerLifetime:         time.Minute,
		CleanInterval:        time.Hour,
		MaxResponsePeers:     50,
		PeerAnnounceInterval: 2 * time.Minute,
		MaxRequestsPerIter:   64,
		PendingScrapeMaxAge:  time.Second,
		RequestQueueSize:     16,
	}.Validate()
}

// testClient builds a Client with no underlying connection, suitable for
// exercising Hub logic directly: register/deliver/handleMessage only ever
// touch the send channel and the hub's client map, never conn.
func testClient(peerIDStr string, port uint16) *Client {
	var id bittorrent.PeerID
	copy(id[:], peerIDStr)
	return &Client{
		send:     make(chan []byte, sendBufferSize),
		peerID:   id,
		addrPort: netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port),
	}
}

func TestHub_RegisterReplacesExisting(t *testing.T) {
	router := swarm.NewRouter(testSwarmConfig(), nil)
	defer router.Stop()
	hub := NewHub(router, nil, 10, 2*time.Minute, time.Second)

	a := testClient("aaaaaaaaaaaaaaaaaaaa", 1)
	b := testClient("aaaaaaaaaaaaaaaaaaaa", 2)

	hub.register(a)
	hub.register(b)

	_, ok := <-a.send
	require.False(t, ok, "registering a second client under the same peer ID should close the first's send channel")

	hub.unregister(a)
	hub.mu.RLock()
	_, stillThere := hub.clients[b.peerID]
	hub.mu.RUnlock()
	require.True(t, stillThere, "unregistering a stale client must not evict the one that replaced it")
}

func TestHub_HandleAnnounce_RejectsUnapprovedTorrent(t *testing.T) {
	router := swarm.NewRouter(testSwarmConfig(), nil)
	defer router.Stop()
	hub := NewHub(router, denyAllList(t), 10, 2*time.Minute, time.Second)

	c := testClient("aaaaaaaaaaaaaaaaaaaa", 6881)
	msg := wireMessage{
		Action:   "announce",
		InfoHash: json.RawMessage(`"bbbbbbbbbbbbbbbbbbbb"`),
		PeerID:   "aaaaaaaaaaaaaaaaaaaa",
		Event:    "started",
	}

	hub.handleAnnounce(c, msg)

	data := <-c.send
	var resp errorResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	require.NotEmpty(t, resp.FailureReason)
}

func TestHub_HandleAnnounce_RelaysOffersToExistingPeer(t *testing.T) {
	router := swarm.NewRouter(testSwarmConfig(), nil)
	defer router.Stop()
	hub := NewHub(router, nil, 10, 2*time.Minute, time.Second)

	seed := testClient("bbbbbbbbbbbbbbbbbbbb", 6881)
	hub.register(seed)
	seedReq := bittorrent.AnnounceRequest{
		Event:    bittorrent.Started,
		InfoHash: bittorrent.InfoHashFromString("cccccccccccccccccccc"),
		NumWant:  0,
		Peer:     bittorrent.Peer{ID: seed.peerID, AddrPort: seed.addrPort},
	}
	resultCh, err := router.Announce(seedReq)
	require.NoError(t, err)
	<-resultCh

	leech := testClient("aaaaaaaaaaaaaaaaaaaa", 6882)
	hub.register(leech)

	msg := wireMessage{
		Action:   "announce",
		InfoHash: json.RawMessage(`"cccccccccccccccccccc"`),
		PeerID:   "aaaaaaaaaaaaaaaaaaaa",
		Event:    "started",
		Offers: []offerMessage{
			{OfferID: "offer-1", Offer: json.RawMessage(`{"sdp":"v=0"}`)},
		},
	}

	hub.handleAnnounce(leech, msg)

	// leech's own announce response arrives on its send channel first.
	ownResp := <-leech.send
	var ann announceResponse
	require.NoError(t, json.Unmarshal(ownResp, &ann))
	require.Equal(t, "announce", ann.Action)

	// the seed, already in the swarm, should have received the relayed offer.
	relayed := <-seed.send
	var relay offerRelay
	require.NoError(t, json.Unmarshal(relayed, &relay))
	require.Equal(t, "offer-1", relay.OfferID)
	require.Equal(t, "aaaaaaaaaaaaaaaaaaaa", relay.PeerID)
}

func TestHub_RelayAnswer_RoutesToNamedPeer(t *testing.T) {
	router := swarm.NewRouter(testSwarmConfig(), nil)
	defer router.Stop()
	hub := NewHub(router, nil, 10, 2*time.Minute, time.Second)

	offerer := testClient("bbbbbbbbbbbbbbbbbbbb", 6881)
	hub.register(offerer)

	answerer := testClient("aaaaaaaaaaaaaaaaaaaa", 6882)
	msg := wireMessage{
		ToPeerID: "bbbbbbbbbbbbbbbbbbbb",
		OfferID:  "offer-1",
		Answer:   json.RawMessage(`{"sdp":"v=0"}`),
	}

	hub.relayAnswer(answerer, "cccccccccccccccccccc", msg)

	data := <-offerer.send
	var relay answerRelay
	require.NoError(t, json.Unmarshal(data, &relay))
	require.Equal(t, "offer-1", relay.OfferID)
	require.Equal(t, "aaaaaaaaaaaaaaaaaaaa", relay.PeerID)
}

func TestHub_HandleScrape_ReturnsCounts(t *testing.T) {
	router := swarm.NewRouter(testSwarmConfig(), nil)
	defer router.Stop()
	hub := NewHub(router, nil, 10, 2*time.Minute, time.Second)

	c := testClient("aaaaaaaaaaaaaaaaaaaa", 6881)
	msg := wireMessage{Action: "scrape", InfoHash: json.RawMessage(`"cccccccccccccccccccc"`)}

	hub.handleScrape(c, msg)

	data := <-c.send
	var resp scrapeResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	require.Equal(t, "scrape", resp.Action)
	require.Contains(t, resp.Files, "cccccccccccccccccccc")
}
