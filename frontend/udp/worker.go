package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/bt-tracker/aquatrack/accesslist"
	"github.com/bt-tracker/aquatrack/bittorrent"
	"github.com/bt-tracker/aquatrack/conn"
	"github.com/bt-tracker/aquatrack/frontend/udp/bytepool"
	"github.com/bt-tracker/aquatrack/pending"
	"github.com/bt-tracker/aquatrack/pkg/log"
	"github.com/bt-tracker/aquatrack/pkg/timecache"
	"github.com/bt-tracker/aquatrack/swarm"
)

// worker is the C7 socket worker: it owns one SO_REUSEPORT socket, a clone
// of the process-wide connection validator, and its own pending-scrape
// registry, and dispatches parsed requests onto the shared swarm router.
// One goroutine per worker reads datagrams; each datagram is then handled
// on its own goroutine so a slow shard or a burst of scrapes on one
// datagram never blocks the read loop.
type worker struct {
	id         int
	sock       net.PacketConn
	validator  *conn.Validator
	accessList *accesslist.List
	pending    *pending.Registry
	router     *swarm.Router
	opts       ParseOptions
	timing     bool

	closing chan struct{}
	done    chan error
}

func newWorker(id int, sock net.PacketConn, validator *conn.Validator, al *accesslist.List, router *swarm.Router, opts ParseOptions, timing bool, pendingMaxAge time.Duration) *worker {
	return &worker{
		id:         id,
		sock:       sock,
		validator:  validator,
		accessList: al,
		pending:    pending.NewRegistry(pendingMaxAge),
		router:     router,
		opts:       opts,
		timing:     timing,
		closing:    make(chan struct{}),
		done:       make(chan error),
	}
}

// run is the worker's read loop. It never returns until stop() closes
// w.closing.
func (w *worker) run() {
	defer close(w.done)

	pruneTicker := time.NewTicker(time.Minute)
	defer pruneTicker.Stop()
	go func() {
		for {
			select {
			case <-w.closing:
				return
			case <-pruneTicker.C:
				w.pending.Prune(timecache.Now())
			}
		}
	}()

	pool := bytepool.New(2048)

	for {
		select {
		case <-w.closing:
			return
		default:
		}

		buffer := pool.Get()
		n, addr, err := w.sock.ReadFrom(*buffer)
		if err != nil {
			pool.Put(buffer)

			select {
			case <-w.closing:
				return
			default:
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			log.Error("udp: read failed", log.Err(err))
			continue
		}
		if n == 0 {
			pool.Put(buffer)
			continue
		}

		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			pool.Put(buffer)
			continue
		}
		remote := udpAddr.AddrPort()
		if remote.Port() == 0 {
			// No reply is possible; discard rather than risk amplification.
			pool.Put(buffer)
			continue
		}

		go func() {
			defer pool.Put(buffer)
			w.handleDatagram((*buffer)[:n], remote)
		}()
	}
}

// stop signals the worker to exit and unblocks its read loop.
func (w *worker) stop() <-chan error {
	close(w.closing)
	_ = w.sock.SetReadDeadline(time.Now())
	return w.done
}

func (w *worker) handleDatagram(packet []byte, remote netip.AddrPort) {
	var start time.Time
	if w.timing {
		start = time.Now()
	}

	action, af, err := w.handlePacket(packet, remote)

	var elapsed time.Duration
	if w.timing {
		elapsed = time.Since(start)
	}
	recordResponseDuration(action, af, err, elapsed)
}

type responseWriter struct {
	sock net.PacketConn
	addr net.Addr
}

func (rw responseWriter) Write(b []byte) (int, error) {
	return rw.sock.WriteTo(b, rw.addr)
}

// handlePacket implements the §4.7 socket worker main loop for a single
// datagram: parse, validate the connection_id, check the access list, and
// forward to the swarm router, writing whatever response (or error) comes
// back.
func (w *worker) handlePacket(packet []byte, remote netip.AddrPort) (action string, af bittorrent.AddressFamily, err error) {
	af = bittorrent.IPv4
	if remote.Addr().Is6() && !remote.Addr().Is4In6() {
		af = bittorrent.IPv6
	}

	if len(packet) < 16 {
		// No client packet is legitimately shorter than the common header;
		// this is likely a probe, so stay silent rather than reply.
		err = errMalformedPacket
		return
	}

	connIDBytes := packet[0:8]
	actionID := binary.BigEndian.Uint32(packet[8:12])
	txID := packet[12:16]

	rw := responseWriter{sock: w.sock, addr: net.UDPAddrFromAddrPort(remote)}

	var connID conn.ID
	copy(connID[:], connIDBytes)

	if actionID != connectActionID && !w.validator.Valid(connID, remote.Addr()) {
		// An invalid or expired connection ID is dropped without a reply.
		err = errBadConnectionID
		return
	}

	switch actionID {
	case connectActionID:
		action = "connect"

		if !bytes.Equal(connIDBytes, initialConnectionID) {
			err = errMalformedPacket
			return
		}

		newID := w.validator.Create(remote.Addr())
		WriteConnectionID(rw, txID, newID[:])

	case announceActionID, announceV6ActionID:
		action = "announce"

		v6 := actionID == announceV6ActionID
		var req *bittorrent.AnnounceRequest
		req, err = ParseAnnounce(packet, remote.Addr(), v6, w.opts)
		if err != nil {
			// A truncated packet is dropped; other parse errors get a reply.
			if err != errMalformedPacket {
				WriteError(rw, txID, err)
			}
			return
		}
		af = req.Peer.AddressFamily()

		if w.accessList != nil && !w.accessList.Permitted(req.InfoHash) {
			err = accesslist.ErrTorrentUnapproved
			WriteError(rw, txID, err)
			return
		}

		var resultCh <-chan swarm.AnnounceResult
		resultCh, err = w.router.Announce(*req)
		if err != nil {
			// A full shard queue drops the request without a reply.
			return
		}

		result := <-resultCh
		if result.Err != nil {
			err = result.Err
			WriteError(rw, txID, err)
			return
		}

		WriteAnnounce(rw, txID, &result.Resp, v6)

	case scrapeActionID:
		action = "scrape"

		var req *bittorrent.ScrapeRequest
		req, err = ParseScrape(packet, w.opts)
		if err != nil {
			if err != errMalformedPacket {
				WriteError(rw, txID, err)
			}
			return
		}

		var chans []<-chan swarm.ScrapeResult
		chans, err = w.router.Scrape(req.InfoHashes)
		if err != nil {
			return
		}

		id := w.pending.Begin(len(req.InfoHashes), len(chans))
		for _, ch := range chans {
			partial := <-ch
			resp, done := w.pending.Deliver(id, partial.Indices, partial.Stats)
			if done {
				WriteScrape(rw, txID, &resp)
			}
		}

	default:
		// Unknown actions are dropped without a reply.
		err = errUnknownAction
	}

	return
}
