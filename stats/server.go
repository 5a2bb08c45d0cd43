package stats

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bt-tracker/aquatrack/pkg/log"
	"github.com/bt-tracker/aquatrack/pkg/stop"
)

// Server serves the process's Prometheus registry — the swarm router's
// own counters (swarm/prometheus.go) and every front-end's request
// metrics (frontend/http/prometheus.go, frontend/udp/prometheus.go) are
// all registered globally and collected together here — alongside pprof
// profiling endpoints.
type Server struct {
	srv  *http.Server
	done chan error
}

// NewServer starts a standalone metrics server listening on addr.
func NewServer(addr string) (*Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s := &Server{
		srv:  &http.Server{Addr: addr, Handler: mux},
		done: make(chan error, 1),
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go func() {
		err := s.srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.done <- err
			return
		}
		close(s.done)
	}()

	return s, nil
}

// Stop shuts down the metrics server.
func (s *Server) Stop() <-chan error {
	result := make(chan error, 1)
	go func() {
		if err := s.srv.Shutdown(context.Background()); err != nil {
			log.Error("stats: error shutting down metrics server", log.Err(err))
			result <- err
			return
		}
		result <- <-s.done
	}()
	return result
}

var _ stop.Stopper = (*Server)(nil)
