// Package accesslist implements a reloadable allow/deny filter on
// info-hashes, consulted by the swarm store before accepting an announce.
package accesslist

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bt-tracker/aquatrack/bittorrent"
	"github.com/bt-tracker/aquatrack/pkg/log"
	"github.com/bt-tracker/aquatrack/pkg/stop"
)

// Mode selects how the List treats its set of info-hashes.
type Mode uint8

const (
	// Off disables filtering: every info-hash is permitted.
	Off Mode = iota
	// Allow permits only info-hashes present in the set.
	Allow
	// Deny permits every info-hash except those present in the set.
	Deny
)

// ErrTorrentUnapproved is returned by Permitted's caller context when an
// info-hash fails the configured mode.
var ErrTorrentUnapproved = bittorrent.ClientError("unapproved torrent")

// Config configures a List.
type Config struct {
	Mode           Mode          `yaml:"mode"`
	Path           string        `yaml:"path"`
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

func (cfg Config) withDefaults() Config {
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = time.Second
	}
	return cfg
}

type snapshot struct {
	mode Mode
	set  map[bittorrent.InfoHash]struct{}
}

// List is a reloadable, atomically-swapped info-hash filter. Readers call
// Permitted on the hot path without taking any lock; writers (the reload
// goroutine, or an explicit Reload call) build a brand new snapshot and
// swap it in with a single atomic store.
type List struct {
	cfg     Config
	current atomic.Pointer[snapshot]
	reload  chan struct{}
	closing chan struct{}
	done    chan error
}

// New creates a List, performs an initial load of cfg.Path (unless
// cfg.Mode is Off), and starts a background goroutine that reloads on
// cfg.ReloadInterval and whenever Reload is called.
func New(cfg Config) (*List, error) {
	cfg = cfg.withDefaults()

	l := &List{
		cfg:     cfg,
		reload:  make(chan struct{}, 1),
		closing: make(chan struct{}),
		done:    make(chan error),
	}

	snap, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current.Store(snap)

	go l.run()

	return l, nil
}

// Permitted reports whether ih is allowed under the List's current
// snapshot. It performs no locking and is safe to call from any number of
// concurrent goroutines.
func (l *List) Permitted(ih bittorrent.InfoHash) bool {
	snap := l.current.Load()

	switch snap.mode {
	case Allow:
		_, ok := snap.set[ih]
		return ok
	case Deny:
		_, ok := snap.set[ih]
		return !ok
	default:
		return true
	}
}

// Reload triggers an out-of-band reload of the underlying file, in
// addition to the periodic reloads already running. It is non-blocking;
// if a reload is already pending it is a no-op.
func (l *List) Reload() {
	select {
	case l.reload <- struct{}{}:
	default:
	}
}

// Stop implements stop.Stopper.
func (l *List) Stop() <-chan error {
	close(l.closing)
	return l.done
}

func (l *List) run() {
	ticker := time.NewTicker(l.cfg.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.closing:
			close(l.done)
			return
		case <-ticker.C:
			l.reloadOnce()
		case <-l.reload:
			l.reloadOnce()
		}
	}
}

func (l *List) reloadOnce() {
	snap, err := l.load()
	if err != nil {
		log.Error("failed to reload access list", log.Err(err))
		return
	}
	l.current.Store(snap)
}

func (l *List) load() (*snapshot, error) {
	snap := &snapshot{mode: l.cfg.Mode, set: make(map[bittorrent.InfoHash]struct{})}

	if l.cfg.Mode == Off {
		return snap, nil
	}

	f, err := os.Open(l.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("accesslist: opening %s: %w", l.cfg.Path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		raw, err := hex.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("accesslist: invalid hex %q: %w", line, err)
		}
		if len(raw) != 20 {
			return nil, fmt.Errorf("accesslist: %q is not 20 bytes", line)
		}

		snap.set[bittorrent.InfoHashFromBytes(raw)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("accesslist: scanning %s: %w", l.cfg.Path, err)
	}

	return snap, nil
}

var _ stop.Stopper = (*List)(nil)
