package aquatrack_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	aquatrack "github.com/bt-tracker/aquatrack"
	"github.com/bt-tracker/aquatrack/accesslist"
)

func TestLoad_EmptyPathReturnsDefault(t *testing.T) {
	cfg, err := aquatrack.Load("")
	require.NoError(t, err)
	require.Equal(t, aquatrack.DefaultConfig, cfg)
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aquatrack.yaml")
	doc := `
aquatrack:
  log_level: debug
  stats_addr: localhost:6880
  swarm:
    shard_count: 4
  access_list:
    mode: 1
    path: /tmp/allowed.txt
  http:
    addr: localhost:6969
  udp:
    addr: localhost:6969
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := aquatrack.Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 4, cfg.Swarm.ShardCount)
	require.Equal(t, accesslist.Allow, cfg.AccessList.Mode)
	require.NotNil(t, cfg.HTTP)
	require.NotNil(t, cfg.UDP)
	require.Nil(t, cfg.WS)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := aquatrack.Load("/nonexistent/path.yaml")
	require.Error(t, err)
}
