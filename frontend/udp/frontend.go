// Package udp implements the UDP tracker front-end (BEP 15), including the
// action-4 IPv6 announce extension.
package udp

import (
	"fmt"
	"net"
	"time"

	"github.com/libp2p/go-reuseport"

	"github.com/bt-tracker/aquatrack/accesslist"
	"github.com/bt-tracker/aquatrack/conn"
	"github.com/bt-tracker/aquatrack/pkg/log"
	"github.com/bt-tracker/aquatrack/pkg/stop"
	"github.com/bt-tracker/aquatrack/swarm"
)

// Config represents all of the configurable options for the UDP front-end.
type Config struct {
	Addr                 string        `yaml:"addr"`
	SocketWorkers        int           `yaml:"socket_workers"`
	SocketRecvBufferSize int           `yaml:"socket_recv_buffer_size"`
	MaxConnectionAge     time.Duration `yaml:"max_connection_age"`
	EnableRequestTiming  bool          `yaml:"enable_request_timing"`
	PendingScrapeMaxAge  time.Duration `yaml:"pending_scrape_max_age"`
	ParseOptions         `yaml:",inline"`
}

// Default config constants.
const (
	defaultSocketWorkers       = 1
	defaultMaxConnectionAge    = 2 * time.Minute
	defaultPendingScrapeMaxAge = 5 * time.Second
)

// LogFields renders the current config as a set of structured-log fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"addr":                 cfg.Addr,
		"socketWorkers":        cfg.SocketWorkers,
		"socketRecvBufferSize": cfg.SocketRecvBufferSize,
		"maxConnectionAge":     cfg.MaxConnectionAge,
		"enableRequestTiming": cfg.EnableRequestTiming,
		"pendingScrapeMaxAge": cfg.PendingScrapeMaxAge,
		"maxNumWant":          cfg.MaxNumWant,
		"defaultNumWant":      cfg.DefaultNumWant,
		"maxScrapeInfoHashes": cfg.MaxScrapeInfoHashes,
	}
}

// Validate sanity checks values set in a config and returns a new config
// with default values substituted for anything invalid, warning for each
// substitution.
func (cfg Config) Validate() Config {
	valid := cfg
	valid.ParseOptions = cfg.ParseOptions.Validate()

	if cfg.SocketWorkers <= 0 {
		valid.SocketWorkers = defaultSocketWorkers
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "udp.SocketWorkers",
			"provided": cfg.SocketWorkers,
			"default":  valid.SocketWorkers,
		})
	}

	if cfg.MaxConnectionAge <= 0 {
		valid.MaxConnectionAge = defaultMaxConnectionAge
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "udp.MaxConnectionAge",
			"provided": cfg.MaxConnectionAge,
			"default":  valid.MaxConnectionAge,
		})
	}

	if cfg.PendingScrapeMaxAge <= 0 {
		valid.PendingScrapeMaxAge = defaultPendingScrapeMaxAge
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "udp.PendingScrapeMaxAge",
			"provided": cfg.PendingScrapeMaxAge,
			"default":  valid.PendingScrapeMaxAge,
		})
	}

	return valid
}

// Frontend holds the state of a UDP BitTorrent front-end: a pool of C7
// socket workers, each with its own SO_REUSEPORT-bound socket, forwarding
// announce and scrape requests into a shared swarm.Router (C6).
type Frontend struct {
	Config
	workers []*worker
	group   *stop.Group
}

// NewFrontend creates a UDP front-end with cfg.SocketWorkers socket workers
// bound to the same address via SO_REUSEPORT, and starts them serving
// immediately. al may be nil to disable access-list filtering.
func NewFrontend(cfg Config, al *accesslist.List, router *swarm.Router) (*Frontend, error) {
	cfg = cfg.Validate()

	validator, err := conn.NewValidator(cfg.MaxConnectionAge)
	if err != nil {
		return nil, fmt.Errorf("udp: couldn't create connection validator: %w", err)
	}

	f := &Frontend{
		Config: cfg,
		group:  stop.NewGroup(),
	}

	for i := 0; i < cfg.SocketWorkers; i++ {
		sock, err := listen(cfg.Addr)
		if err != nil {
			f.Stop()
			return nil, fmt.Errorf("udp: couldn't bind socket worker %d: %w", i, err)
		}

		if cfg.SocketRecvBufferSize > 0 {
			if setter, ok := sock.(interface{ SetReadBuffer(int) error }); ok {
				if err := setter.SetReadBuffer(cfg.SocketRecvBufferSize); err != nil {
					log.Warn("udp: couldn't set socket recv buffer size", log.Fields{
						"workerID": i,
						"error":    err,
					})
				}
			}
		}

		w := newWorker(i, sock, validator.Clone(), al, router, cfg.ParseOptions, cfg.EnableRequestTiming, cfg.PendingScrapeMaxAge)
		f.workers = append(f.workers, w)
		f.group.AddFunc(w.stop)

		go w.run()
	}

	return f, nil
}

// listen binds a UDP socket with SO_REUSEPORT set, so the kernel load
// balances datagrams across every socket worker bound to the same address.
// Platforms without SO_REUSEPORT support (or without CAP_NET_ADMIN) fall
// back to a single plain listener; binding a second worker to the same
// address then fails, which the caller surfaces rather than silently
// running with fewer workers than configured.
func listen(addr string) (net.PacketConn, error) {
	sock, err := reuseport.ListenPacket("udp", addr)
	if err != nil {
		return net.ListenPacket("udp", addr)
	}
	return sock, nil
}

// Stop shuts down every socket worker concurrently and waits for them all
// to exit.
func (f *Frontend) Stop() <-chan error {
	done := make(chan error)
	go func() {
		errs := f.group.Stop()
		if len(errs) > 0 {
			done <- errs[0]
			return
		}
		close(done)
	}()
	return done
}

var _ stop.Stopper = (*Frontend)(nil)
