// Package aquatrack aggregates the tracker's per-component configuration
// into a single YAML document loaded by cmd/tracker.
package aquatrack

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/bt-tracker/aquatrack/accesslist"
	"github.com/bt-tracker/aquatrack/frontend/http"
	"github.com/bt-tracker/aquatrack/frontend/udp"
	"github.com/bt-tracker/aquatrack/frontend/ws"
	"github.com/bt-tracker/aquatrack/pkg/log"
	"github.com/bt-tracker/aquatrack/swarm"
)

// Config is the top-level, namespaced configuration for an aquatrack
// binary: every component gets its own sub-config nested under its own
// YAML key, the
// same layering the teacher used for its own front-end configs.
type Config struct {
	LogLevel   string            `yaml:"log_level"`
	StatsAddr  string            `yaml:"stats_addr"`
	Swarm      swarm.Config      `yaml:"swarm"`
	AccessList accesslist.Config `yaml:"access_list"`
	HTTP       *http.Config      `yaml:"http"`
	UDP        *udp.Config       `yaml:"udp"`
	WS         *ws.Config        `yaml:"ws"`
}

// ConfigFile namespaces the whole document under "aquatrack", matching
// the teacher's own namespacing convention for its YAML configs.
type ConfigFile struct {
	Tracker Config `yaml:"aquatrack"`
}

// DefaultConfig is a sane configuration for local development: a single
// swarm shard, an HTTP front-end on :6969, and no UDP/WS front-ends or
// access-list filtering.
var DefaultConfig = Config{
	LogLevel:  "info",
	StatsAddr: "localhost:6880",
	Swarm: swarm.Config{
		ShardCount:           1,
		PeerLifetime:         30 * time.Minute,
		CleanInterval:        time.Minute,
		MaxResponsePeers:     50,
		PeerAnnounceInterval: 30 * time.Minute,
		MaxRequestsPerIter:   64,
		PendingScrapeMaxAge:  5 * time.Second,
		RequestQueueSize:     1024,
	},
	AccessList: accesslist.Config{Mode: accesslist.Off},
	HTTP:       &http.Config{Addr: "localhost:6969"},
}

// Load reads and parses a YAML configuration file at path. An empty path
// returns DefaultConfig.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig, nil
	}

	f, err := os.Open(os.ExpandEnv(path))
	if err != nil {
		return Config{}, fmt.Errorf("aquatrack: opening config: %w", err)
	}
	defer f.Close()

	var cfgFile ConfigFile
	if err := yaml.NewDecoder(f).Decode(&cfgFile); err != nil {
		return Config{}, fmt.Errorf("aquatrack: parsing config: %w", err)
	}

	return cfgFile.Tracker, nil
}

// LogFields renders the top-level config (minus its front-end sub-configs,
// which each log their own fields once constructed) as structured-log
// fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"logLevel":  cfg.LogLevel,
		"statsAddr": cfg.StatsAddr,
		"http":      cfg.HTTP != nil,
		"udp":       cfg.UDP != nil,
		"ws":        cfg.WS != nil,
	}
}
