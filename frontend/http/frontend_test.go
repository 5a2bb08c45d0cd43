package http_test

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	aquahttp "github.com/bt-tracker/aquatrack/frontend/http"
	"github.com/bt-tracker/aquatrack/swarm"
)

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

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestFrontend_StartStop(t *testing.T) {
	router := swarm.NewRouter(testSwarmConfig(), nil)
	defer router.Stop()

	fe, err := aquahttp.NewFrontend(aquahttp.Config{Addr: freeAddr(t)}, nil, router)
	require.NoError(t, err)

	errC := fe.Stop()
	require.NoError(t, <-errC)
}

func TestFrontend_AnnounceAndScrape(t *testing.T) {
	router := swarm.NewRouter(testSwarmConfig(), nil)
	defer router.Stop()

	addr := freeAddr(t)
	fe, err := aquahttp.NewFrontend(aquahttp.Config{Addr: addr}, nil, router)
	require.NoError(t, err)
	defer func() { <-fe.Stop() }()

	time.Sleep(50 * time.Millisecond)

	infoHash := "aaaaaaaaaaaaaaaaaaaa"
	peerID := "bbbbbbbbbbbbbbbbbbbb"

	q := url.Values{
		"info_hash":  {infoHash},
		"peer_id":    {peerID},
		"port":       {"6881"},
		"uploaded":   {"0"},
		"downloaded": {"0"},
		"left":       {"10"},
		"event":      {"started"},
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/announce?%s", addr, q.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "interval")

	scrapeResp, err := http.Get(fmt.Sprintf("http://%s/scrape?info_hash=%s", addr, url.QueryEscape(infoHash)))
	require.NoError(t, err)
	defer scrapeResp.Body.Close()
	require.Equal(t, http.StatusOK, scrapeResp.StatusCode)
	scrapeBody, err := io.ReadAll(scrapeResp.Body)
	require.NoError(t, err)
	require.Contains(t, string(scrapeBody), "files")
}
