package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bt-tracker/aquatrack/bittorrent"
)

func newRequest(t *testing.T, target string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.RemoteAddr = "203.0.113.7:54321"
	return r
}

func TestParseAnnounce_RequiredFields(t *testing.T) {
	r := newRequest(t, "/announce?info_hash=aaaaaaaaaaaaaaaaaaaa&peer_id=bbbbbbbbbbbbbbbbbbbb&port=6881&uploaded=0&downloaded=0&left=10&event=started")

	req, err := ParseAnnounce(r, ParseOptions{})
	require.NoError(t, err)
	require.Equal(t, bittorrent.Started, req.Event)
	require.EqualValues(t, 10, req.Left)
	require.EqualValues(t, 6881, req.Peer.AddrPort.Port())
	require.Equal(t, "203.0.113.7", req.Peer.AddrPort.Addr().String())
	require.False(t, req.IPProvided)
}

func TestParseAnnounce_MissingInfoHash(t *testing.T) {
	r := newRequest(t, "/announce?peer_id=bbbbbbbbbbbbbbbbbbbb&port=6881&uploaded=0&downloaded=0&left=10")

	_, err := ParseAnnounce(r, ParseOptions{})
	require.Error(t, err)
}

func TestParseAnnounce_ClampsMissingNumWant(t *testing.T) {
	r := newRequest(t, "/announce?info_hash=aaaaaaaaaaaaaaaaaaaa&peer_id=bbbbbbbbbbbbbbbbbbbb&port=6881&uploaded=0&downloaded=0&left=10")

	req, err := ParseAnnounce(r, ParseOptions{DefaultNumWant: 17})
	require.NoError(t, err)
	require.EqualValues(t, 17, req.NumWant)
}

func TestParseAnnounce_ClampsOverMaxNumWant(t *testing.T) {
	r := newRequest(t, "/announce?info_hash=aaaaaaaaaaaaaaaaaaaa&peer_id=bbbbbbbbbbbbbbbbbbbb&port=6881&uploaded=0&downloaded=0&left=10&numwant=500")

	req, err := ParseAnnounce(r, ParseOptions{MaxNumWant: 30})
	require.NoError(t, err)
	require.EqualValues(t, 30, req.NumWant)
}

func TestParseAnnounce_IPSpoofingRequiresOptIn(t *testing.T) {
	r := newRequest(t, "/announce?info_hash=aaaaaaaaaaaaaaaaaaaa&peer_id=bbbbbbbbbbbbbbbbbbbb&port=6881&uploaded=0&downloaded=0&left=10&ip=198.51.100.9")

	req, err := ParseAnnounce(r, ParseOptions{})
	require.NoError(t, err)
	require.Equal(t, "203.0.113.7", req.Peer.AddrPort.Addr().String())
	require.False(t, req.IPProvided)

	req, err = ParseAnnounce(r, ParseOptions{AllowIPSpoofing: true})
	require.NoError(t, err)
	require.Equal(t, "198.51.100.9", req.Peer.AddrPort.Addr().String())
	require.True(t, req.IPProvided)
}

func TestParseAnnounce_RealIPHeader(t *testing.T) {
	r := newRequest(t, "/announce?info_hash=aaaaaaaaaaaaaaaaaaaa&peer_id=bbbbbbbbbbbbbbbbbbbb&port=6881&uploaded=0&downloaded=0&left=10")
	r.Header.Set("X-Real-IP", "198.51.100.200")

	req, err := ParseAnnounce(r, ParseOptions{RealIPHeader: "X-Real-IP"})
	require.NoError(t, err)
	require.Equal(t, "198.51.100.200", req.Peer.AddrPort.Addr().String())
	require.True(t, req.IPProvided)
}

func TestParseScrape_MultipleInfoHashes(t *testing.T) {
	r := newRequest(t, "/scrape?info_hash=aaaaaaaaaaaaaaaaaaaa&info_hash=bbbbbbbbbbbbbbbbbbbb")

	req, err := ParseScrape(r, ParseOptions{})
	require.NoError(t, err)
	require.Len(t, req.InfoHashes, 2)
}

func TestParseScrape_TruncatesOverMax(t *testing.T) {
	r := newRequest(t, "/scrape?info_hash=aaaaaaaaaaaaaaaaaaaa&info_hash=bbbbbbbbbbbbbbbbbbbb&info_hash=cccccccccccccccccccc")

	req, err := ParseScrape(r, ParseOptions{MaxScrapeInfoHashes: 2})
	require.NoError(t, err)
	require.Len(t, req.InfoHashes, 2)
}
