package swarm

import (
	"time"

	"github.com/bt-tracker/aquatrack/pkg/log"
)

// Default config constants, mirroring the scale the teacher's in-memory
// peer store defaulted to.
const (
	defaultShardCount           = 1024
	defaultPeerLifetime         = 30 * time.Minute
	defaultCleanInterval        = 3 * time.Minute
	defaultMaxResponsePeers     = 50
	defaultPeerAnnounceInterval = 2 * time.Minute
	defaultMaxRequestsPerIter   = 64
	defaultPendingScrapeMaxAge  = 5 * time.Second
)

// Config holds the configuration of the swarm store.
type Config struct {
	ShardCount           int           `yaml:"shard_count"`
	PeerLifetime         time.Duration `yaml:"peer_lifetime"`
	CleanInterval        time.Duration `yaml:"clean_interval"`
	MaxResponsePeers     int           `yaml:"max_response_peers"`
	PeerAnnounceInterval time.Duration `yaml:"peer_announce_interval"`
	MaxRequestsPerIter   int           `yaml:"max_requests_per_iter"`
	PendingScrapeMaxAge  time.Duration `yaml:"pending_scrape_max_age"`
	RequestQueueSize     int           `yaml:"request_queue_size"`
}

// LogFields renders the current config as a set of structured-log fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"shardCount":           cfg.ShardCount,
		"peerLifetime":         cfg.PeerLifetime,
		"cleanInterval":        cfg.CleanInterval,
		"maxResponsePeers":     cfg.MaxResponsePeers,
		"peerAnnounceInterval": cfg.PeerAnnounceInterval,
		"maxRequestsPerIter":   cfg.MaxRequestsPerIter,
	}
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything that is unset.
func (cfg Config) Validate() Config {
	validcfg := cfg

	if cfg.ShardCount <= 0 {
		validcfg.ShardCount = defaultShardCount
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "ShardCount",
			"provided": cfg.ShardCount,
			"default":  validcfg.ShardCount,
		})
	}

	if cfg.PeerLifetime <= 0 {
		validcfg.PeerLifetime = defaultPeerLifetime
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "PeerLifetime",
			"provided": cfg.PeerLifetime,
			"default":  validcfg.PeerLifetime,
		})
	}

	if cfg.CleanInterval <= 0 {
		validcfg.CleanInterval = defaultCleanInterval
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "CleanInterval",
			"provided": cfg.CleanInterval,
			"default":  validcfg.CleanInterval,
		})
	}

	if cfg.MaxResponsePeers <= 0 {
		validcfg.MaxResponsePeers = defaultMaxResponsePeers
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "MaxResponsePeers",
			"provided": cfg.MaxResponsePeers,
			"default":  validcfg.MaxResponsePeers,
		})
	}

	if cfg.PeerAnnounceInterval <= 0 {
		validcfg.PeerAnnounceInterval = defaultPeerAnnounceInterval
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "PeerAnnounceInterval",
			"provided": cfg.PeerAnnounceInterval,
			"default":  validcfg.PeerAnnounceInterval,
		})
	}

	if cfg.MaxRequestsPerIter <= 0 {
		validcfg.MaxRequestsPerIter = defaultMaxRequestsPerIter
	}

	if cfg.PendingScrapeMaxAge <= 0 {
		validcfg.PendingScrapeMaxAge = defaultPendingScrapeMaxAge
	}

	if cfg.RequestQueueSize <= 0 {
		validcfg.RequestQueueSize = 1024
	}

	return validcfg
}
