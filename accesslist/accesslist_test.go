package accesslist

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bt-tracker/aquatrack/bittorrent"
)

const (
	hashA = "3532cf2d327fad8448c075b4cb42c8136964a435"
	hashB = "4532cf2d327fad8448c075b4cb42c8136964a435"
)

func writeList(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func ih(t *testing.T, s string) bittorrent.InfoHash {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	require.Len(t, b, 20)
	return bittorrent.InfoHashFromBytes(b)
}

func TestList_AllowMode(t *testing.T) {
	path := writeList(t, "# comment", "", hashA)
	l, err := New(Config{Mode: Allow, Path: path, ReloadInterval: time.Hour})
	require.NoError(t, err)
	defer l.Stop()

	require.True(t, l.Permitted(ih(t, hashA)))
	require.False(t, l.Permitted(ih(t, hashB)))
}

func TestList_DenyMode(t *testing.T) {
	path := writeList(t, hashA)
	l, err := New(Config{Mode: Deny, Path: path, ReloadInterval: time.Hour})
	require.NoError(t, err)
	defer l.Stop()

	require.False(t, l.Permitted(ih(t, hashA)))
	require.True(t, l.Permitted(ih(t, hashB)))
}

func TestList_OffMode(t *testing.T) {
	l, err := New(Config{Mode: Off})
	require.NoError(t, err)
	defer l.Stop()

	require.True(t, l.Permitted(ih(t, hashA)))
	require.True(t, l.Permitted(ih(t, hashB)))
}

func TestList_ReloadPicksUpChanges(t *testing.T) {
	path := writeList(t, hashA)
	l, err := New(Config{Mode: Allow, Path: path, ReloadInterval: time.Hour})
	require.NoError(t, err)
	defer l.Stop()

	require.False(t, l.Permitted(ih(t, hashB)))

	require.NoError(t, os.WriteFile(path, []byte(hashB+"\n"), 0o644))
	l.Reload()

	require.Eventually(t, func() bool {
		return l.Permitted(ih(t, hashB))
	}, time.Second, time.Millisecond)
}
