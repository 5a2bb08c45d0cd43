// Copyright 2016 Jimmy Zelinskie
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bittorrent implements the protocol-agnostic core types shared by
// every tracker front-end: info-hashes, peer IDs, peers, and the
// announce/scrape request and response shapes.
package bittorrent

import (
	"net/netip"
	"time"
)

// PeerID represents a peer ID.
type PeerID [20]byte

// PeerIDFromBytes creates a PeerID from a byte slice.
//
// It panics if b is not 20 bytes long.
func PeerIDFromBytes(b []byte) PeerID {
	if len(b) != 20 {
		panic("peer ID must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], b)
	return PeerID(buf)
}

// PeerIDFromString creates a PeerID from a string.
//
// It panics if s is not 20 bytes long.
func PeerIDFromString(s string) PeerID {
	if len(s) != 20 {
		panic("peer ID must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], s)
	return PeerID(buf)
}

// InfoHash represents an infohash.
type InfoHash [20]byte

// InfoHashFromBytes creates an InfoHash from a byte slice.
//
// It panics if b is not 20 bytes long.
func InfoHashFromBytes(b []byte) InfoHash {
	if len(b) != 20 {
		panic("infohash must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], b)
	return InfoHash(buf)
}

// InfoHashFromString creates an InfoHash from a string.
//
// It panics if s is not 20 bytes long.
func InfoHashFromString(s string) InfoHash {
	if len(s) != 20 {
		panic("infohash must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], s)
	return InfoHash(buf)
}

// AddressFamily distinguishes an IPv4 peer map/swarm from an IPv6 one. The
// two are never mixed: a SwarmStore holds two disjoint maps keyed by
// AddressFamily, and scrape counts are never combined across them.
type AddressFamily uint8

const (
	// IPv4 identifies a peer or swarm reached over IPv4.
	IPv4 AddressFamily = iota
	// IPv6 identifies a peer or swarm reached over IPv6.
	IPv6
)

// String implements Stringer for AddressFamily.
func (af AddressFamily) String() string {
	if af == IPv6 {
		return "IPv6"
	}
	return "IPv4"
}

// PeerStatus is the lifecycle state of a Peer within a swarm, derived from
// the announce event and bytes-left at announce time.
type PeerStatus uint8

const (
	// Leeching means the peer has bytes left to download.
	Leeching PeerStatus = iota
	// Seeding means the peer has completed the download.
	Seeding
	// Left means the peer asked to be removed from the swarm; Left peers
	// are never actually stored.
	Left
)

// NewPeerStatus derives a PeerStatus from an announce's event and bytes-left
// fields, per the rule in the data model: Left if event=Stopped, else
// Seeding if left=0, else Leeching.
func NewPeerStatus(e Event, left uint64) PeerStatus {
	switch {
	case e == Stopped:
		return Left
	case left == 0:
		return Seeding
	default:
		return Leeching
	}
}

// Peer represents the connection details of a peer that is returned in an
// announce response, keyed by its endpoint rather than a bare net.IP: a
// netip.AddrPort is comparable, allocation-free, and distinguishes v4 from
// v6 via Addr.Is4()/Is6(), which backs the PeersV4|PeersV6 split at the
// swarm-store level.
type Peer struct {
	ID       PeerID
	AddrPort netip.AddrPort
}

// AddressFamily reports whether p is an IPv4 or IPv6 peer.
func (p Peer) AddressFamily() AddressFamily {
	if p.AddrPort.Addr().Is4() || p.AddrPort.Addr().Is4In6() {
		return IPv4
	}
	return IPv6
}

// Equal reports whether p and x are the same peer (same ID and endpoint).
func (p Peer) Equal(x Peer) bool { return p.EqualEndpoint(x) && p.ID == x.ID }

// EqualEndpoint reports whether p and x have the same network endpoint.
func (p Peer) EqualEndpoint(x Peer) bool { return p.AddrPort == x.AddrPort }

// AnnounceRequest represents the parsed parameters from an announce request.
type AnnounceRequest struct {
	Event      Event
	InfoHash   InfoHash
	Compact    bool
	NumWant    uint32
	Left       uint64
	Downloaded uint64
	Uploaded   uint64

	// IPProvided records whether the peer's address was taken from optional
	// request parameters (BEP7/BEP41 spoofing) rather than the transport's
	// observed source address.
	IPProvided bool

	Peer
	Params Params
}

// AnnounceResponse represents the parameters used to create an announce
// response.
type AnnounceResponse struct {
	Compact     bool
	Complete    int32
	Incomplete  int32
	Interval    time.Duration
	MinInterval time.Duration
	IPv4Peers   []Peer
	IPv6Peers   []Peer
}

// ScrapeRequest represents the parsed parameters from a scrape request.
type ScrapeRequest struct {
	AddressFamily AddressFamily
	InfoHashes    []InfoHash
	Params        Params
}

// TorrentScrapeStatistics is the per-info-hash payload of a scrape response:
// current seeders and leechers, plus a snatch counter that this tracker
// never populates (see the Non-goals in SPEC_FULL.md).
type TorrentScrapeStatistics struct {
	InfoHash   InfoHash
	Complete   uint32 // seeders
	Incomplete uint32 // leechers
	Snatches   uint32 // always 0
}

// ScrapeResponse represents the parameters used to create a scrape
// response. Files is ordered to match the original request's info_hash
// order regardless of which shard answered first or last (P7).
type ScrapeResponse struct {
	Files []TorrentScrapeStatistics
}

// ClientError represents an error that should be exposed to the client over
// the BitTorrent protocol implementation (a UDP Error frame or an HTTP
// bencoded failure reason). Any other error type is logged internally and
// never rendered to a client.
type ClientError string

// Error implements the error interface for ClientError.
func (c ClientError) Error() string { return string(c) }
