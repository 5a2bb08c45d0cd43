package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bt-tracker/aquatrack/accesslist"
	"github.com/bt-tracker/aquatrack/bittorrent"
	"github.com/bt-tracker/aquatrack/pkg/log"
	"github.com/bt-tracker/aquatrack/pkg/stop"
	"github.com/bt-tracker/aquatrack/swarm"
)

// Config represents all of the configurable options for the WebSocket
// front-end.
type Config struct {
	Addr                 string        `yaml:"addr"`
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout"`
	MaxOffers            int           `yaml:"max_offers"`
	PeerAnnounceInterval time.Duration `yaml:"peer_announce_interval"`
	PendingScrapeMaxAge  time.Duration `yaml:"pending_scrape_max_age"`
}

// Default config constants.
const (
	defaultShutdownTimeout      = 15 * time.Second
	defaultMaxOffers            = 10
	defaultPeerAnnounceInterval = 2 * time.Minute
	defaultPendingScrapeMaxAge  = 5 * time.Second
)

// LogFields renders the current config as a set of structured-log fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"addr":                 cfg.Addr,
		"shutdownTimeout":      cfg.ShutdownTimeout,
		"maxOffers":            cfg.MaxOffers,
		"peerAnnounceInterval": cfg.PeerAnnounceInterval,
		"pendingScrapeMaxAge":  cfg.PendingScrapeMaxAge,
	}
}

// Validate sanity checks values set in a config and returns a new config
// with default values substituted for anything invalid, warning for each
// substitution.
func (cfg Config) Validate() Config {
	valid := cfg

	if cfg.ShutdownTimeout <= 0 {
		valid.ShutdownTimeout = defaultShutdownTimeout
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "ws.ShutdownTimeout",
			"provided": cfg.ShutdownTimeout,
			"default":  valid.ShutdownTimeout,
		})
	}

	if cfg.MaxOffers <= 0 {
		valid.MaxOffers = defaultMaxOffers
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "ws.MaxOffers",
			"provided": cfg.MaxOffers,
			"default":  valid.MaxOffers,
		})
	}

	if cfg.PeerAnnounceInterval <= 0 {
		valid.PeerAnnounceInterval = defaultPeerAnnounceInterval
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "ws.PeerAnnounceInterval",
			"provided": cfg.PeerAnnounceInterval,
			"default":  valid.PeerAnnounceInterval,
		})
	}

	if cfg.PendingScrapeMaxAge <= 0 {
		valid.PendingScrapeMaxAge = defaultPendingScrapeMaxAge
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "ws.PendingScrapeMaxAge",
			"provided": cfg.PendingScrapeMaxAge,
			"default":  valid.PendingScrapeMaxAge,
		})
	}

	return valid
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Frontend holds the state of a WebSocket BitTorrent front-end: a single
// *http.Server upgrading every request on Config.Addr, and a Hub routing
// announce/scrape traffic and peer-to-peer offer/answer relays.
type Frontend struct {
	Config

	hub  *Hub
	srv  *http.Server
	done chan error
}

// NewFrontend creates a WebSocket front-end and starts it serving
// immediately in a background goroutine. al may be nil to disable
// access-list filtering.
func NewFrontend(cfg Config, al *accesslist.List, router *swarm.Router) (*Frontend, error) {
	cfg = cfg.Validate()

	f := &Frontend{
		Config: cfg,
		hub:    NewHub(router, al, cfg.MaxOffers, cfg.PeerAnnounceInterval, cfg.PendingScrapeMaxAge),
		done:   make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", f.serveWS)

	f.srv = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("ws: couldn't bind listener: %w", err)
	}

	go f.pruneLoop()

	go func() {
		err := f.srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.done <- err
			return
		}
		close(f.done)
	}()

	return f, nil
}

func (f *Frontend) pruneLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		f.hub.Prune(time.Now())
	}
}

func (f *Frontend) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("ws: upgrade failed", log.Err(err))
		return
	}

	addr, err := remoteAddr(r)
	if err != nil {
		conn.Close()
		return
	}

	firstFrame, peerID, err := firstAnnouncePeerID(conn)
	if err != nil {
		conn.Close()
		return
	}

	client := newClient(f.hub, conn, peerID, addr)
	client.serve(firstFrame)
}

// firstAnnouncePeerID blocks for the connection's first frame, which must
// carry the peer_id the connection is registered under for its whole
// lifetime; every later frame can change info_hash/offers but never the
// peer identity a relay is addressed to. The frame itself is returned so
// the caller can still dispatch it for handling.
func firstAnnouncePeerID(conn *websocket.Conn) ([]byte, bittorrent.PeerID, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, bittorrent.PeerID{}, err
	}

	peerID, ok := peekPeerID(data)
	if !ok {
		return nil, bittorrent.PeerID{}, errBadMessage
	}

	return data, peerID, nil
}

func remoteAddr(r *http.Request) (netip.AddrPort, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return netip.AddrPort{}, err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(addr, 0), nil
}

// Stop gracefully shuts down the WebSocket server, waiting up to
// cfg.ShutdownTimeout for in-flight connections to finish.
func (f *Frontend) Stop() <-chan error {
	result := make(chan error, 1)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), f.ShutdownTimeout)
		defer cancel()

		if err := f.srv.Shutdown(ctx); err != nil {
			result <- err
			return
		}

		result <- <-f.done
	}()

	return result
}

var _ stop.Stopper = (*Frontend)(nil)
