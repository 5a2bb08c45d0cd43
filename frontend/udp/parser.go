package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"
	"sync"

	"github.com/bt-tracker/aquatrack/bittorrent"
)

const (
	connectActionID uint32 = iota
	announceActionID
	scrapeActionID
	errorActionID
	// action == 4 is the "old" IPv6 action used by opentracker, with a packet
	// format specified at
	// https://web.archive.org/web/20170503181830/http://opentracker.blog.h3q.com/2007/12/28/the-ipv6-situation/
	announceV6ActionID
)

// Option-Types as described in BEP 41 and BEP 45.
const (
	optionEndOfOptions byte = 0x0
	optionNOP               = 0x1
	optionURLData           = 0x2
)

var (
	// initialConnectionID is the magic initial connection ID specified by BEP 15.
	initialConnectionID = []byte{0, 0, 0x04, 0x17, 0x27, 0x10, 0x19, 0x80}

	// eventIDs map values described in BEP 15 to Events.
	eventIDs = []bittorrent.Event{
		bittorrent.None,
		bittorrent.Completed,
		bittorrent.Started,
		bittorrent.Stopped,
	}

	errMalformedPacket   = bittorrent.ClientError("malformed packet")
	errMalformedEvent    = bittorrent.ClientError("malformed event ID")
	errUnknownAction     = bittorrent.ClientError("unknown action ID")
	errBadConnectionID   = bittorrent.ClientError("bad connection ID")
	errUnknownOptionType = bittorrent.ClientError("unknown option type")
)

// ParseOptions is the configuration used to parse an Announce or Scrape
// request.
type ParseOptions struct {
	MaxNumWant          uint32 `yaml:"max_numwant"`
	DefaultNumWant      uint32 `yaml:"default_numwant"`
	MaxScrapeInfoHashes uint32 `yaml:"max_scrape_infohashes"`
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

// ParseAnnounce parses an AnnounceRequest from a UDP datagram. The peer's
// address is always src, the transport-observed source address: unlike the
// HTTP front-end, the UDP wire format has no optional parameter this
// tracker trusts to override it, so the datagram's own source address is
// the only source of truth and spoofing is bounded by the connection_id
// check already performed by the caller.
//
// If v6Action is true, the announce is parsed the "old opentracker way":
// https://web.archive.org/web/20170503181830/http://opentracker.blog.h3q.com/2007/12/28/the-ipv6-situation/
func ParseAnnounce(packet []byte, src netip.Addr, v6Action bool, opts ParseOptions) (*bittorrent.AnnounceRequest, error) {
	opts = opts.Validate()

	addrLen := 4
	if v6Action {
		addrLen = 16
	}
	ipEnd := 84 + addrLen

	if len(packet) < ipEnd+10 {
		return nil, errMalformedPacket
	}

	infohash := packet[16:36]
	peerID := packet[36:56]
	downloaded := binary.BigEndian.Uint64(packet[56:64])
	left := binary.BigEndian.Uint64(packet[64:72])
	uploaded := binary.BigEndian.Uint64(packet[72:80])

	eventID := int(packet[83])
	if eventID >= len(eventIDs) {
		return nil, errMalformedEvent
	}

	// The wire IP field (packet[84:ipEnd]) is parsed but discarded: this
	// tracker never trusts a client-supplied address over the transport's.
	numWant := binary.BigEndian.Uint32(packet[ipEnd+4 : ipEnd+8])
	port := binary.BigEndian.Uint16(packet[ipEnd+8 : ipEnd+10])

	params, err := handleOptionalParameters(packet[ipEnd+10:])
	if err != nil {
		return nil, err
	}

	clampedNumWant := opts.DefaultNumWant
	if numWant > 0 {
		clampedNumWant = numWant
		if clampedNumWant > opts.MaxNumWant {
			clampedNumWant = opts.MaxNumWant
		}
	}

	request := &bittorrent.AnnounceRequest{
		Event:      eventIDs[eventID],
		InfoHash:   bittorrent.InfoHashFromBytes(infohash),
		NumWant:    clampedNumWant,
		Left:       left,
		Downloaded: downloaded,
		Uploaded:   uploaded,
		Peer: bittorrent.Peer{
			ID:       bittorrent.PeerIDFromBytes(peerID),
			AddrPort: netip.AddrPortFrom(src, port),
		},
		Params: params,
	}

	return request, nil
}

type buffer struct {
	bytes.Buffer
}

var bufferFree = sync.Pool{
	New: func() interface{} { return new(buffer) },
}

func newBuffer() *buffer {
	return bufferFree.Get().(*buffer)
}

func (b *buffer) free() {
	b.Reset()
	bufferFree.Put(b)
}

// handleOptionalParameters parses the optional parameters as described in BEP
// 41 and updates an announce with the values parsed.
func handleOptionalParameters(packet []byte) (bittorrent.Params, error) {
	if len(packet) == 0 {
		return bittorrent.ParseURLData("")
	}

	var buf = newBuffer()
	defer buf.free()

	for i := 0; i < len(packet); {
		option := packet[i]
		switch option {
		case optionEndOfOptions:
			return bittorrent.ParseURLData(buf.String())
		case optionNOP:
			i++
		case optionURLData:
			if i+1 >= len(packet) {
				return nil, errMalformedPacket
			}

			length := int(packet[i+1])
			if i+2+length > len(packet) {
				return nil, errMalformedPacket
			}

			n, err := buf.Write(packet[i+2 : i+2+length])
			if err != nil {
				return nil, err
			}
			if n != length {
				return nil, fmt.Errorf("expected to write %d bytes, wrote %d", length, n)
			}

			i += 2 + length
		default:
			return nil, errUnknownOptionType
		}
	}

	return bittorrent.ParseURLData(buf.String())
}

// ParseScrape parses a ScrapeRequest from a UDP datagram.
func ParseScrape(packet []byte, opts ParseOptions) (*bittorrent.ScrapeRequest, error) {
	opts = opts.Validate()

	// A scrape listing no info-hashes at all asks for a full scrape.
	if len(packet) == 16 {
		return nil, bittorrent.ClientError("full scrape disallowed")
	}

	// If a scrape isn't at least 36 bytes long, it's malformed.
	if len(packet) < 36 {
		return nil, errMalformedPacket
	}

	// Skip past the initial headers and check that the bytes left equal the
	// length of a valid list of infohashes.
	packet = packet[16:]
	if len(packet)%20 != 0 {
		return nil, errMalformedPacket
	}

	maxHashes := int(opts.MaxScrapeInfoHashes)
	if maxHashes > 0 && len(packet)/20 > maxHashes {
		packet = packet[:maxHashes*20]
	}

	infohashes := make([]bittorrent.InfoHash, 0, len(packet)/20)
	for len(packet) >= 20 {
		infohashes = append(infohashes, bittorrent.InfoHashFromBytes(packet[:20]))
		packet = packet[20:]
	}

	return &bittorrent.ScrapeRequest{InfoHashes: infohashes}, nil
}
