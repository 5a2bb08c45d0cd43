package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/bt-tracker/aquatrack/bittorrent"
)

// WriteError writes the failure reason as a null-terminated string.
func WriteError(w io.Writer, txID []byte, err error) {
	// If the client wasn't at fault, acknowledge it.
	if _, ok := err.(bittorrent.ClientError); !ok {
		err = fmt.Errorf("internal error occurred: %s", err.Error())
	}

	var buf bytes.Buffer
	writeHeader(&buf, txID, errorActionID)
	buf.WriteString(err.Error())
	buf.WriteRune('\000')
	w.Write(buf.Bytes())
}

// WriteAnnounce encodes an announce response according to BEP 15, using the
// action-4 IPv6 extension's peer encoding (16-byte address, 2-byte port)
// when v6 is true rather than the standard 6-byte compact peer.
func WriteAnnounce(w io.Writer, txID []byte, resp *bittorrent.AnnounceResponse, v6 bool) {
	var buf bytes.Buffer

	action := announceActionID
	if v6 {
		action = announceV6ActionID
	}

	writeHeader(&buf, txID, action)
	binary.Write(&buf, binary.BigEndian, uint32(resp.Interval/time.Second))
	binary.Write(&buf, binary.BigEndian, uint32(resp.Incomplete))
	binary.Write(&buf, binary.BigEndian, uint32(resp.Complete))

	peers := resp.IPv4Peers
	if v6 {
		peers = resp.IPv6Peers
	}

	for _, peer := range peers {
		addr := peer.AddrPort.Addr()
		if addr.Is4In6() {
			addr = addr.Unmap()
		}
		buf.Write(addr.AsSlice())
		binary.Write(&buf, binary.BigEndian, peer.AddrPort.Port())
	}

	w.Write(buf.Bytes())
}

// WriteScrape encodes a scrape response according to BEP 15: a
// (seeders, completed, leechers) triple per info_hash, in the request's
// original order.
func WriteScrape(w io.Writer, txID []byte, resp *bittorrent.ScrapeResponse) {
	var buf bytes.Buffer

	writeHeader(&buf, txID, scrapeActionID)

	for _, scrape := range resp.Files {
		binary.Write(&buf, binary.BigEndian, scrape.Complete)
		binary.Write(&buf, binary.BigEndian, scrape.Snatches)
		binary.Write(&buf, binary.BigEndian, scrape.Incomplete)
	}

	w.Write(buf.Bytes())
}

// WriteConnectionID encodes a new connection response according to BEP 15.
func WriteConnectionID(w io.Writer, txID, connID []byte) {
	var buf bytes.Buffer

	writeHeader(&buf, txID, connectActionID)
	buf.Write(connID)

	w.Write(buf.Bytes())
}

// writeHeader writes the action and transaction ID to the provided response
// buffer.
func writeHeader(w io.Writer, txID []byte, action uint32) {
	binary.Write(w, binary.BigEndian, action)
	w.Write(txID)
}
