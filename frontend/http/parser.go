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

package http

import (
	"errors"
	"net"
	"net/http"
	"net/netip"

	"github.com/bt-tracker/aquatrack/bittorrent"
)

// ParseOptions is the configuration used to parse an Announce or Scrape
// request.
type ParseOptions struct {
	MaxNumWant          uint32 `yaml:"max_numwant"`
	DefaultNumWant      uint32 `yaml:"default_numwant"`
	MaxScrapeInfoHashes uint32 `yaml:"max_scrape_infohashes"`

	// AllowIPSpoofing permits a client to supply its own address via the
	// "ip"/"ipv4"/"ipv6" query parameters, per BEP 7.
	AllowIPSpoofing bool `yaml:"allow_ip_spoofing"`

	// RealIPHeader, if set, is the name of the HTTP header trusted to carry
	// a client's real address when this tracker sits behind a reverse proxy.
	RealIPHeader string `yaml:"real_ip_header"`
}

// Default parser config constants.
const (
	defaultMaxNumWant          uint32 = 100
	defaultDefaultNumWant      uint32 = 50
	defaultMaxScrapeInfoHashes uint32 = 50
)

// Validate substitutes defaults for anything left unset.
func (opts ParseOptions) Validate() ParseOptions {
	valid := opts

	if opts.MaxNumWant == 0 {
		valid.MaxNumWant = defaultMaxNumWant
	}
	if opts.DefaultNumWant == 0 {
		valid.DefaultNumWant = defaultDefaultNumWant
	}
	if opts.MaxScrapeInfoHashes == 0 {
		valid.MaxScrapeInfoHashes = defaultMaxScrapeInfoHashes
	}

	return valid
}

// ParseAnnounce parses a bittorrent.AnnounceRequest from an http.Request.
func ParseAnnounce(r *http.Request, opts ParseOptions) (*bittorrent.AnnounceRequest, error) {
	opts = opts.Validate()

	qp, err := bittorrent.ParseURLData(r.URL.RequestURI())
	if err != nil {
		return nil, err
	}

	request := &bittorrent.AnnounceRequest{Params: qp}

	eventStr, _ := qp.String("event")
	request.Event, err = bittorrent.NewEvent(eventStr)
	if err != nil {
		return nil, bittorrent.ClientError("failed to provide valid client event")
	}

	compactStr, _ := qp.String("compact")
	request.Compact = compactStr != "" && compactStr != "0"

	infoHashes := qp.InfoHashes()
	if len(infoHashes) < 1 {
		return nil, bittorrent.ClientError("no info_hash parameter supplied")
	}
	if len(infoHashes) > 1 {
		return nil, bittorrent.ClientError("multiple info_hash parameters supplied")
	}
	request.InfoHash = infoHashes[0]

	peerID, ok := qp.String("peer_id")
	if !ok {
		return nil, bittorrent.ClientError("failed to parse parameter: peer_id")
	}
	if len(peerID) != 20 {
		return nil, bittorrent.ClientError("failed to provide valid peer_id")
	}
	request.Peer.ID = bittorrent.PeerIDFromString(peerID)

	request.Left, err = requiredUint64(qp, "left")
	if err != nil {
		return nil, err
	}
	request.Downloaded, err = requiredUint64(qp, "downloaded")
	if err != nil {
		return nil, err
	}
	request.Uploaded, err = requiredUint64(qp, "uploaded")
	if err != nil {
		return nil, err
	}

	numWant, err := qp.Uint64("numwant")
	if err != nil && !errors.Is(err, bittorrent.ErrKeyNotFound) {
		return nil, bittorrent.ClientError("failed to parse parameter: numwant")
	}
	clampedNumWant := opts.DefaultNumWant
	if numWant > 0 {
		clampedNumWant = uint32(numWant)
		if clampedNumWant > opts.MaxNumWant {
			clampedNumWant = opts.MaxNumWant
		}
	}
	request.NumWant = clampedNumWant

	port, err := qp.Uint64("port")
	if err != nil {
		return nil, bittorrent.ClientError("failed to parse parameter: port")
	}

	addr, provided, err := requestedAddr(r, qp, opts)
	if err != nil {
		return nil, bittorrent.ClientError("failed to parse peer IP address")
	}
	request.Peer.AddrPort = netip.AddrPortFrom(addr, uint16(port))
	request.IPProvided = provided

	return request, nil
}

func requiredUint64(qp *bittorrent.QueryParams, key string) (uint64, error) {
	v, err := qp.Uint64(key)
	if err != nil {
		return 0, bittorrent.ClientError("failed to parse parameter: " + key)
	}
	return v, nil
}

// ParseScrape parses a bittorrent.ScrapeRequest from an http.Request.
func ParseScrape(r *http.Request, opts ParseOptions) (*bittorrent.ScrapeRequest, error) {
	opts = opts.Validate()

	qp, err := bittorrent.ParseURLData(r.URL.RequestURI())
	if err != nil {
		return nil, err
	}

	infoHashes := qp.InfoHashes()
	if len(infoHashes) < 1 {
		return nil, bittorrent.ClientError("no info_hash parameter supplied")
	}
	if max := int(opts.MaxScrapeInfoHashes); max > 0 && len(infoHashes) > max {
		infoHashes = infoHashes[:max]
	}

	return &bittorrent.ScrapeRequest{
		InfoHashes: infoHashes,
		Params:     qp,
	}, nil
}

// requestedAddr determines the address to attribute an announcing peer to,
// and whether that address came from a client-supplied override rather than
// the transport's own view of the connection. A tracker fronted by a load
// balancer needs one of these overrides to ever learn real client
// addresses; a tracker reached directly should leave both unset.
func requestedAddr(r *http.Request, p bittorrent.Params, opts ParseOptions) (addr netip.Addr, provided bool, err error) {
	if opts.AllowIPSpoofing {
		for _, key := range [...]string{"ip", "ipv4", "ipv6"} {
			if s, ok := p.String(key); ok {
				if a, err := netip.ParseAddr(s); err == nil {
					return a, true, nil
				}
			}
		}
	}

	if opts.RealIPHeader != "" {
		if v := r.Header.Get(opts.RealIPHeader); v != "" {
			if a, err := netip.ParseAddr(v); err == nil {
				return a, true, nil
			}
		}
	}

	host, _, splitErr := net.SplitHostPort(r.RemoteAddr)
	if splitErr != nil {
		return netip.Addr{}, false, splitErr
	}
	a, parseErr := netip.ParseAddr(host)
	if parseErr != nil {
		return netip.Addr{}, false, parseErr
	}
	return a, false, nil
}
