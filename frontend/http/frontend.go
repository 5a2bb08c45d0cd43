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

// Package http implements a BitTorrent frontend via the HTTP protocol as
// described in BEP 3 and BEP 23.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/bt-tracker/aquatrack/accesslist"
	"github.com/bt-tracker/aquatrack/bittorrent"
	"github.com/bt-tracker/aquatrack/pending"
	"github.com/bt-tracker/aquatrack/pkg/log"
	"github.com/bt-tracker/aquatrack/pkg/stop"
	"github.com/bt-tracker/aquatrack/swarm"
)

// Config represents all of the configurable options for an HTTP BitTorrent
// front-end.
type Config struct {
	Addr                string        `yaml:"addr"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
	// DisableKeepAlive turns off HTTP keep-alives; net/http.Server defaults
	// to keep-alives enabled, so the zero value preserves that default
	// rather than requiring every config to opt back in.
	DisableKeepAlive    bool          `yaml:"disable_keep_alive"`
	EnableRequestTiming bool          `yaml:"enable_request_timing"`
	PendingScrapeMaxAge time.Duration `yaml:"pending_scrape_max_age"`
	ParseOptions        `yaml:",inline"`
}

// Default config constants.
const (
	defaultReadTimeout         = 5 * time.Second
	defaultWriteTimeout        = 5 * time.Second
	defaultShutdownTimeout     = 15 * time.Second
	defaultPendingScrapeMaxAge = 5 * time.Second
)

// LogFields renders the current config as a set of structured-log fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"addr":                cfg.Addr,
		"readTimeout":         cfg.ReadTimeout,
		"writeTimeout":        cfg.WriteTimeout,
		"shutdownTimeout":     cfg.ShutdownTimeout,
		"disableKeepAlive":    cfg.DisableKeepAlive,
		"enableRequestTiming": cfg.EnableRequestTiming,
		"pendingScrapeMaxAge": cfg.PendingScrapeMaxAge,
		"allowIPSpoofing":     cfg.AllowIPSpoofing,
		"realIPHeader":        cfg.RealIPHeader,
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

	if cfg.ReadTimeout <= 0 {
		valid.ReadTimeout = defaultReadTimeout
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "http.ReadTimeout",
			"provided": cfg.ReadTimeout,
			"default":  valid.ReadTimeout,
		})
	}

	if cfg.WriteTimeout <= 0 {
		valid.WriteTimeout = defaultWriteTimeout
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "http.WriteTimeout",
			"provided": cfg.WriteTimeout,
			"default":  valid.WriteTimeout,
		})
	}

	if cfg.ShutdownTimeout <= 0 {
		valid.ShutdownTimeout = defaultShutdownTimeout
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "http.ShutdownTimeout",
			"provided": cfg.ShutdownTimeout,
			"default":  valid.ShutdownTimeout,
		})
	}

	if cfg.PendingScrapeMaxAge <= 0 {
		valid.PendingScrapeMaxAge = defaultPendingScrapeMaxAge
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "http.PendingScrapeMaxAge",
			"provided": cfg.PendingScrapeMaxAge,
			"default":  valid.PendingScrapeMaxAge,
		})
	}

	return valid
}

// Frontend holds the state of an HTTP BitTorrent front-end (C7′): a single
// *http.Server routing Announce and Scrape directly onto the shared swarm
// router (C6), with its own pending-scrape registry for reassembling
// scrapes split across shards.
type Frontend struct {
	Config

	srv        *http.Server
	accessList *accesslist.List
	router     *swarm.Router
	pending    *pending.Registry

	done chan error
}

// NewFrontend creates an HTTP front-end and starts it serving immediately
// in a background goroutine. al may be nil to disable access-list
// filtering.
func NewFrontend(cfg Config, al *accesslist.List, router *swarm.Router) (*Frontend, error) {
	cfg = cfg.Validate()

	f := &Frontend{
		Config:     cfg,
		accessList: al,
		router:     router,
		pending:    pending.NewRegistry(cfg.PendingScrapeMaxAge),
		done:       make(chan error, 1),
	}

	r := httprouter.New()
	r.GET("/announce", f.announceRoute)
	r.GET("/scrape", f.scrapeRoute)

	f.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if cfg.DisableKeepAlive {
		f.srv.SetKeepAlivesEnabled(false)
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("http: couldn't bind listener: %w", err)
	}

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

// Stop gracefully shuts down the HTTP server, waiting up to
// cfg.ShutdownTimeout for in-flight requests to finish.
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

// announceRoute implements the §4.7 HTTP handler main loop for an
// Announce: parse, check the access list, and forward to the swarm
// router, writing whatever response (or error) comes back.
func (f *Frontend) announceRoute(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var start time.Time
	if f.EnableRequestTiming {
		start = time.Now()
	}

	af, err := f.handleAnnounce(w, r)

	var elapsed time.Duration
	if f.EnableRequestTiming {
		elapsed = time.Since(start)
	}
	recordResponseDuration("announce", af, err, elapsed)
}

func (f *Frontend) handleAnnounce(w http.ResponseWriter, r *http.Request) (af bittorrent.AddressFamily, err error) {
	req, err := ParseAnnounce(r, f.ParseOptions)
	if err != nil {
		WriteError(w, err)
		return
	}
	af = req.Peer.AddressFamily()

	if f.accessList != nil && !f.accessList.Permitted(req.InfoHash) {
		err = accesslist.ErrTorrentUnapproved
		WriteError(w, err)
		return
	}

	resultCh, err := f.router.Announce(*req)
	if err != nil {
		WriteError(w, err)
		return
	}

	result := <-resultCh
	if result.Err != nil {
		err = result.Err
		WriteError(w, err)
		return
	}

	if err = WriteAnnounceResponse(w, &result.Resp); err != nil {
		log.Error("http: failed to write announce response", log.Err(err))
	}
	return
}

// scrapeRoute implements the §4.7 HTTP handler main loop for a Scrape: a
// scrape split across multiple shards is reassembled by f.pending before a
// single bencoded response is written.
func (f *Frontend) scrapeRoute(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var start time.Time
	if f.EnableRequestTiming {
		start = time.Now()
	}

	err := f.handleScrape(w, r)

	var elapsed time.Duration
	if f.EnableRequestTiming {
		elapsed = time.Since(start)
	}
	recordResponseDuration("scrape", bittorrent.IPv4, err, elapsed)
}

func (f *Frontend) handleScrape(w http.ResponseWriter, r *http.Request) error {
	req, err := ParseScrape(r, f.ParseOptions)
	if err != nil {
		WriteError(w, err)
		return err
	}

	chans, err := f.router.Scrape(req.InfoHashes)
	if err != nil {
		WriteError(w, err)
		return err
	}

	id := f.pending.Begin(len(req.InfoHashes), len(chans))
	var resp bittorrent.ScrapeResponse
	for _, ch := range chans {
		partial := <-ch
		var done bool
		resp, done = f.pending.Deliver(id, partial.Indices, partial.Stats)
		if done {
			if err = WriteScrapeResponse(w, &resp); err != nil {
				log.Error("http: failed to write scrape response", log.Err(err))
			}
			return err
		}
	}

	return nil
}
