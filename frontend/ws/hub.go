package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bt-tracker/aquatrack/accesslist"
	"github.com/bt-tracker/aquatrack/bittorrent"
	"github.com/bt-tracker/aquatrack/pending"
	"github.com/bt-tracker/aquatrack/pkg/log"
	"github.com/bt-tracker/aquatrack/swarm"
)

// Hub tracks every connected WebSocket peer so that an offer or answer
// addressed to a peer_id can be routed to the right connection, and
// forwards announce/scrape requests to the shared swarm router. Unlike
// the swarm shards, peer routing here is inherently shared state touched
// by every connection's read loop, so a single mutex-protected map is the
// right tool rather than channel ownership — the same reasoning as
// pending.Registry.
type Hub struct {
	router     *swarm.Router
	accessList *accesslist.List
	pending    *pending.Registry

	maxOffers            int
	peerAnnounceInterval time.Duration

	mu      sync.RWMutex
	clients map[bittorrent.PeerID]*Client
}

// NewHub creates a Hub wired to the shared swarm router.
func NewHub(router *swarm.Router, al *accesslist.List, maxOffers int, peerAnnounceInterval, pendingScrapeMaxAge time.Duration) *Hub {
	return &Hub{
		router:               router,
		accessList:           al,
		pending:              pending.NewRegistry(pendingScrapeMaxAge),
		maxOffers:            maxOffers,
		peerAnnounceInterval: peerAnnounceInterval,
		clients:              make(map[bittorrent.PeerID]*Client),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.clients[c.peerID]; ok {
		close(existing.send)
	}
	h.clients[c.peerID] = c
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.peerID] == c {
		delete(h.clients, c.peerID)
	}
}

// deliver sends raw bytes to the connection registered for peerID, if any
// is currently connected. A full send buffer means that connection is
// wedged; it's dropped rather than blocking the caller.
func (h *Hub) deliver(peerID bittorrent.PeerID, data []byte) {
	h.mu.RLock()
	c, ok := h.clients[peerID]
	h.mu.RUnlock()

	if !ok {
		return
	}

	select {
	case c.send <- data:
	default:
		log.Warn("ws: dropping relay to slow client", log.Fields{"peerID": peerID})
	}
}

// handleMessage decodes and dispatches one inbound frame from c.
func (h *Hub) handleMessage(c *Client, raw []byte) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.sendError(c, "malformed message")
		return
	}

	switch msg.Action {
	case "announce":
		h.handleAnnounce(c, msg)
	case "scrape":
		h.handleScrape(c, msg)
	default:
		h.sendError(c, "unknown action")
	}
}

func (h *Hub) sendError(c *Client, reason string) {
	data, err := json.Marshal(errorResponse{Action: "announce", FailureReason: reason})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *Hub) handleAnnounce(c *Client, msg wireMessage) {
	hashes, err := msg.infoHashes()
	if err != nil || len(hashes) != 1 {
		h.sendError(c, "invalid info_hash")
		return
	}
	if len(hashes[0]) != 20 {
		h.sendError(c, "invalid info_hash")
		return
	}
	infoHash := bittorrent.InfoHashFromString(hashes[0])

	if h.accessList != nil && !h.accessList.Permitted(infoHash) {
		h.sendError(c, accesslist.ErrTorrentUnapproved.Error())
		return
	}

	event := bittorrent.None
	if msg.Event != "" {
		event, err = bittorrent.NewEvent(msg.Event)
		if err != nil {
			h.sendError(c, "invalid event")
			return
		}
	}

	var left uint64
	if msg.Left != nil {
		left = *msg.Left
	}

	numWant := len(msg.Offers)
	if numWant > h.maxOffers {
		numWant = h.maxOffers
	}

	req := bittorrent.AnnounceRequest{
		Event:    event,
		InfoHash: infoHash,
		NumWant:  uint32(numWant),
		Left:     left,
		Peer: bittorrent.Peer{
			ID:       c.peerID,
			AddrPort: c.addrPort,
		},
	}

	resultCh, err := h.router.Announce(req)
	if err != nil {
		h.sendError(c, "internal error")
		return
	}
	result := <-resultCh
	if result.Err != nil {
		h.sendError(c, "internal error")
		return
	}

	data, err := json.Marshal(announceResponse{
		Action:     "announce",
		InfoHash:   hashes[0],
		Interval:   int(h.peerAnnounceInterval / time.Second),
		Complete:   result.Resp.Complete,
		Incomplete: result.Resp.Incomplete,
	})
	if err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	peers := make([]bittorrent.Peer, 0, len(result.Resp.IPv4Peers)+len(result.Resp.IPv6Peers))
	peers = append(peers, result.Resp.IPv4Peers...)
	peers = append(peers, result.Resp.IPv6Peers...)
	h.relayOffers(c, hashes[0], msg.Offers, peers)
	h.relayAnswer(c, hashes[0], msg)
}

// relayOffers hands out one offer per selected peer, skipping the
// announcing peer itself. The swarm router already excludes the
// requester from its own response peer list, so no further filtering is
// needed here.
func (h *Hub) relayOffers(c *Client, infoHashStr string, offers []offerMessage, peers []bittorrent.Peer) {
	for i, peer := range peers {
		if i >= len(offers) {
			return
		}
		offer := offers[i]

		data, err := json.Marshal(offerRelay{
			Action:   "announce",
			InfoHash: infoHashStr,
			PeerID:   string(c.peerID[:]),
			OfferID:  offer.OfferID,
			Offer:    offer.Offer,
		})
		if err != nil {
			continue
		}
		h.deliver(peer.ID, data)
	}
}

func (h *Hub) relayAnswer(c *Client, infoHashStr string, msg wireMessage) {
	if msg.Answer == nil || msg.ToPeerID == "" || msg.OfferID == "" {
		return
	}
	if len(msg.ToPeerID) != 20 {
		return
	}

	data, err := json.Marshal(answerRelay{
		Action:   "announce",
		InfoHash: infoHashStr,
		PeerID:   string(c.peerID[:]),
		OfferID:  msg.OfferID,
		Answer:   msg.Answer,
	})
	if err != nil {
		return
	}

	h.deliver(bittorrent.PeerIDFromString(msg.ToPeerID), data)
}

func (h *Hub) handleScrape(c *Client, msg wireMessage) {
	hashStrs, err := msg.infoHashes()
	if err != nil || len(hashStrs) == 0 {
		h.sendError(c, "invalid info_hash")
		return
	}

	infoHashes := make([]bittorrent.InfoHash, 0, len(hashStrs))
	for _, s := range hashStrs {
		if len(s) != 20 {
			h.sendError(c, "invalid info_hash")
			return
		}
		infoHashes = append(infoHashes, bittorrent.InfoHashFromString(s))
	}

	chans, err := h.router.Scrape(infoHashes)
	if err != nil {
		h.sendError(c, "internal error")
		return
	}

	id := h.pending.Begin(len(infoHashes), len(chans))
	for _, ch := range chans {
		partial := <-ch
		resp, done := h.pending.Deliver(id, partial.Indices, partial.Stats)
		if !done {
			continue
		}

		files := make(map[string]scrapeFileCounts, len(resp.Files))
		for _, stats := range resp.Files {
			files[string(stats.InfoHash[:])] = scrapeFileCounts{
				Complete:   stats.Complete,
				Incomplete: stats.Incomplete,
				Downloaded: stats.Snatches,
			}
		}

		data, err := json.Marshal(scrapeResponse{Action: "scrape", Files: files})
		if err == nil {
			select {
			case c.send <- data:
			default:
			}
		}
	}
}

// Prune sweeps the hub's pending-scrape registry, mirroring the socket
// workers' periodic cleaning in the UDP/HTTP front-ends.
func (h *Hub) Prune(now time.Time) {
	h.pending.Prune(now)
}
