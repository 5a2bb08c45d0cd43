package udp

import (
	"bytes"
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bt-tracker/aquatrack/bittorrent"
)

func buildAnnouncePacket(event byte, ipv4 bool) []byte {
	var buf bytes.Buffer
	buf.Write(make([]byte, 16)) // conn ID + action + tx ID, unused by ParseAnnounce
	buf.Write(bytes.Repeat([]byte{0xaa}, 20))
	buf.Write(bytes.Repeat([]byte{0xbb}, 20))
	binary.Write(&buf, binary.BigEndian, uint64(0))  // downloaded
	binary.Write(&buf, binary.BigEndian, uint64(10)) // left
	binary.Write(&buf, binary.BigEndian, uint64(0))  // uploaded
	buf.Write(make([]byte, 3))                       // pad up to byte 83
	buf.WriteByte(event)

	if ipv4 {
		buf.Write(make([]byte, 4))
	} else {
		buf.Write(make([]byte, 16))
	}
	buf.Write(make([]byte, 4)) // key, unused by ParseAnnounce

	binary.Write(&buf, binary.BigEndian, uint32(25)) // num_want
	binary.Write(&buf, binary.BigEndian, uint16(6881))

	return buf.Bytes()
}

func TestParseAnnounce_IPv4(t *testing.T) {
	packet := buildAnnouncePacket(2, true)
	src := netip.MustParseAddr("203.0.113.7")

	req, err := ParseAnnounce(packet, src, false, ParseOptions{})
	require.NoError(t, err)
	require.Equal(t, bittorrent.Started, req.Event)
	require.Equal(t, uint64(10), req.Left)
	require.EqualValues(t, 25, req.NumWant)
	require.Equal(t, src, req.Peer.AddrPort.Addr())
	require.EqualValues(t, 6881, req.Peer.AddrPort.Port())
}

func TestParseAnnounce_ClampsNumWant(t *testing.T) {
	packet := buildAnnouncePacket(0, true)
	src := netip.MustParseAddr("203.0.113.7")

	req, err := ParseAnnounce(packet, src, false, ParseOptions{MaxNumWant: 10, DefaultNumWant: 5})
	require.NoError(t, err)
	require.EqualValues(t, 10, req.NumWant)
}

func TestParseAnnounce_RejectsUnknownEvent(t *testing.T) {
	packet := buildAnnouncePacket(9, true)
	_, err := ParseAnnounce(packet, netip.MustParseAddr("203.0.113.7"), false, ParseOptions{})
	require.Equal(t, errMalformedEvent, err)
}

func TestParseAnnounce_TooShortIsMalformed(t *testing.T) {
	_, err := ParseAnnounce(make([]byte, 10), netip.MustParseAddr("203.0.113.7"), false, ParseOptions{})
	require.Equal(t, errMalformedPacket, err)
}

func TestParseScrape_SplitsInfoHashes(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(make([]byte, 16))
	buf.Write(bytes.Repeat([]byte{0x01}, 20))
	buf.Write(bytes.Repeat([]byte{0x02}, 20))

	req, err := ParseScrape(buf.Bytes(), ParseOptions{})
	require.NoError(t, err)
	require.Len(t, req.InfoHashes, 2)
}

func TestParseScrape_TruncatesOverMax(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(make([]byte, 16))
	for i := 0; i < 5; i++ {
		buf.Write(bytes.Repeat([]byte{byte(i)}, 20))
	}

	req, err := ParseScrape(buf.Bytes(), ParseOptions{MaxScrapeInfoHashes: 2})
	require.NoError(t, err)
	require.Len(t, req.InfoHashes, 2)
}

func TestWriteAnnounce_RoundTripsPeers(t *testing.T) {
	resp := &bittorrent.AnnounceResponse{
		Interval:   30 * time.Second,
		Complete:   3,
		Incomplete: 1,
		IPv4Peers: []bittorrent.Peer{
			{AddrPort: netip.MustParseAddrPort("10.0.0.1:6881")},
		},
	}

	var buf bytes.Buffer
	WriteAnnounce(&buf, []byte{1, 2, 3, 4}, resp, false)

	out := buf.Bytes()
	require.Equal(t, announceActionID, binary.BigEndian.Uint32(out[0:4]))
	require.Equal(t, []byte{1, 2, 3, 4}, out[4:8])
	require.Equal(t, uint32(30), binary.BigEndian.Uint32(out[8:12]))
	require.Equal(t, uint32(1), binary.BigEndian.Uint32(out[12:16]))
	require.Equal(t, uint32(3), binary.BigEndian.Uint32(out[16:20]))
	require.Equal(t, []byte{10, 0, 0, 1}, out[20:24])
	require.Equal(t, uint16(6881), binary.BigEndian.Uint16(out[24:26]))
}

func TestWriteScrape_PreservesFieldOrder(t *testing.T) {
	resp := &bittorrent.ScrapeResponse{
		Files: []bittorrent.TorrentScrapeStatistics{
			{Complete: 5, Incomplete: 2, Snatches: 0},
		},
	}

	var buf bytes.Buffer
	WriteScrape(&buf, []byte{0, 0, 0, 1}, resp)

	out := buf.Bytes()
	require.Equal(t, uint32(5), binary.BigEndian.Uint32(out[8:12]))
	require.Equal(t, uint32(0), binary.BigEndian.Uint32(out[12:16]))
	require.Equal(t, uint32(2), binary.BigEndian.Uint32(out[16:20]))
}

func TestWriteError_IncludesClientErrorMessage(t *testing.T) {
	var buf bytes.Buffer
	WriteError(&buf, []byte{0, 0, 0, 0}, bittorrent.ClientError("nope"))
	require.Contains(t, buf.String(), "nope")
}
