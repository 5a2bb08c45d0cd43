package main

import (
	"crypto/rand"
	"fmt"
	"time"

	anatracker "github.com/anacrolix/torrent/tracker"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// e2eCmd builds the end-to-end smoke-test subcommand: it drives a
// running tracker with two real BitTorrent announce round-trips and
// checks that the second peer sees the first.
func e2eCmd() *cobra.Command {
	var httpAddr, udpAddr string
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "e2e",
		Short: "run an end-to-end smoke test against a running tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if httpAddr != "" {
				log.Info().Msg("testing HTTP...")
				if err := e2eTest(httpAddr, delay); err != nil {
					return err
				}
				log.Info().Msg("success")
			}

			if udpAddr != "" {
				log.Info().Msg("testing UDP...")
				if err := e2eTest(udpAddr, delay); err != nil {
					return err
				}
				log.Info().Msg("success")
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&httpAddr, "httpaddr", "", "base URL of a running HTTP tracker, e.g. http://localhost:6969/announce")
	cmd.Flags().StringVar(&udpAddr, "udpaddr", "", "base URL of a running UDP tracker, e.g. udp://localhost:6969/announce")
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay between the two announces")

	return cmd
}

func randomInfoHash() [20]byte {
	var ih [20]byte
	if _, err := rand.Read(ih[:]); err != nil {
		panic(err)
	}
	return ih
}

// e2eTest announces two distinct peers for the same fresh info-hash
// against url, delay apart, and checks that the second peer's response
// sees exactly the first.
func e2eTest(url string, delay time.Duration) error {
	infoHash := randomInfoHash()

	req := anatracker.AnnounceRequest{
		InfoHash:   infoHash,
		PeerId:     [20]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20},
		Downloaded: 50,
		Left:       100,
		Uploaded:   50,
		Event:      anatracker.Started,
		IPAddress:  uint32(50<<24 | 10<<16 | 12<<8 | 1),
		NumWant:    50,
		Port:       10001,
	}

	resp, err := (anatracker.Announce{TrackerUrl: url, Request: req, UserAgent: "aquatrack-e2e"}).Do()
	if err != nil {
		return errors.Wrap(err, "first announce failed")
	}
	if len(resp.Peers) != 0 {
		return fmt.Errorf("expected no peers after first announce, got %d", len(resp.Peers))
	}

	time.Sleep(delay)

	req.PeerId = [20]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 21}
	req.IPAddress = uint32(50<<24 | 10<<16 | 12<<8 | 2)
	req.Port = 10002

	resp, err = (anatracker.Announce{TrackerUrl: url, Request: req, UserAgent: "aquatrack-e2e"}).Do()
	if err != nil {
		return errors.Wrap(err, "second announce failed")
	}
	if len(resp.Peers) != 1 {
		return fmt.Errorf("expected one peer after second announce, got %d", len(resp.Peers))
	}
	if resp.Peers[0].Port != 10001 {
		return fmt.Errorf("expected to see the first peer's port 10001, got %d", resp.Peers[0].Port)
	}

	return nil
}
