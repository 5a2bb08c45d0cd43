// Package ws implements the WebTorrent-style WebSocket tracker front-end
// (C7′ for the WS wire): JSON announce/scrape frames over a long-lived
// connection, with offers and answers relayed peer-to-peer through the
// tracker rather than stored.
package ws

import (
	"encoding/json"
	"errors"

	"github.com/bt-tracker/aquatrack/bittorrent"
)

// errBadMessage is returned for a frame that doesn't parse as a WebTorrent
// tracker message at all.
var errBadMessage = errors.New("ws: malformed message")

// peekPeerID extracts just the peer_id field from a raw frame, without
// committing to the rest of wireMessage's shape. It's used once per
// connection to learn the identity a Client is registered under, from
// whatever the first frame happens to be (almost always an announce).
func peekPeerID(raw []byte) (bittorrent.PeerID, bool) {
	var partial struct {
		PeerID string `json:"peer_id"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil {
		return bittorrent.PeerID{}, false
	}
	if len(partial.PeerID) != 20 {
		return bittorrent.PeerID{}, false
	}
	return bittorrent.PeerIDFromString(partial.PeerID), true
}

// wireMessage is the shape every inbound frame is first decoded into. An
// "announce" frame's info_hash is always a single string; a "scrape"
// frame's may be a single string or an array of strings, so InfoHash is
// decoded separately via json.RawMessage and resolved by infoHashes().
type wireMessage struct {
	Action     string          `json:"action"`
	InfoHash   json.RawMessage `json:"info_hash"`
	PeerID     string          `json:"peer_id"`
	Offers     []offerMessage  `json:"offers,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	ToPeerID   string          `json:"to_peer_id,omitempty"`
	OfferID    string          `json:"offer_id,omitempty"`
	NumWant    int             `json:"numwant,omitempty"`
	Event      string          `json:"event,omitempty"`
	Left       *uint64         `json:"left,omitempty"`
}

// infoHashes resolves the info_hash field to a list, accepting both the
// single-value announce form and the scrape form's array.
func (m wireMessage) infoHashes() ([]string, error) {
	if len(m.InfoHash) == 0 {
		return nil, errBadMessage
	}

	var single string
	if err := json.Unmarshal(m.InfoHash, &single); err == nil {
		return []string{single}, nil
	}

	var multi []string
	if err := json.Unmarshal(m.InfoHash, &multi); err == nil {
		return multi, nil
	}

	return nil, errBadMessage
}

// offerMessage is one client-generated WebRTC offer, relayed verbatim to
// another peer.
type offerMessage struct {
	OfferID string          `json:"offer_id"`
	Offer   json.RawMessage `json:"offer"`
}

// announceResponse is sent back to the announcing peer itself.
type announceResponse struct {
	Action     string `json:"action"`
	InfoHash   string `json:"info_hash"`
	Interval   int    `json:"interval"`
	Complete   int32  `json:"complete"`
	Incomplete int32  `json:"incomplete"`
}

// offerRelay is sent to a peer chosen to receive another peer's offer.
type offerRelay struct {
	Action   string          `json:"action"`
	InfoHash string          `json:"info_hash"`
	PeerID   string          `json:"peer_id"`
	OfferID  string          `json:"offer_id"`
	Offer    json.RawMessage `json:"offer"`
}

// answerRelay is sent to the peer a relayed offer's answer is addressed
// to.
type answerRelay struct {
	Action   string          `json:"action"`
	InfoHash string          `json:"info_hash"`
	PeerID   string          `json:"peer_id"`
	OfferID  string          `json:"offer_id"`
	Answer   json.RawMessage `json:"answer"`
}

// scrapeResponse answers a "scrape" frame with per-info-hash counts.
type scrapeResponse struct {
	Action string                      `json:"action"`
	Files  map[string]scrapeFileCounts `json:"files"`
}

type scrapeFileCounts struct {
	Complete   uint32 `json:"complete"`
	Incomplete uint32 `json:"incomplete"`
	Downloaded uint32 `json:"downloaded"`
}

// errorResponse communicates a failure back to the client over the same
// connection; WebTorrent clients expect a "failure reason" field mirroring
// the HTTP/UDP tracker error convention.
type errorResponse struct {
	Action        string `json:"action"`
	FailureReason string `json:"failure reason"`
}
