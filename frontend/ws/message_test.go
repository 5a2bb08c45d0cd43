package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWireMessage_InfoHashes_Single(t *testing.T) {
	msg := wireMessage{InfoHash: json.RawMessage(`"aaaaaaaaaaaaaaaaaaaa"`)}
	hashes, err := msg.infoHashes()
	require.NoError(t, err)
	require.Equal(t, []string{"aaaaaaaaaaaaaaaaaaaa"}, hashes)
}

func TestWireMessage_InfoHashes_Array(t *testing.T) {
	msg := wireMessage{InfoHash: json.RawMessage(`["aaaaaaaaaaaaaaaaaaaa","bbbbbbbbbbbbbbbbbbbb"]`)}
	hashes, err := msg.infoHashes()
	require.NoError(t, err)
	require.Equal(t, []string{"aaaaaaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbbbbbb"}, hashes)
}

func TestWireMessage_InfoHashes_Empty(t *testing.T) {
	msg := wireMessage{}
	_, err := msg.infoHashes()
	require.ErrorIs(t, err, errBadMessage)
}

func TestWireMessage_InfoHashes_Malformed(t *testing.T) {
	msg := wireMessage{InfoHash: json.RawMessage(`42`)}
	_, err := msg.infoHashes()
	require.ErrorIs(t, err, errBadMessage)
}

func TestPeekPeerID(t *testing.T) {
	raw := []byte(`{"action":"announce","peer_id":"bbbbbbbbbbbbbbbbbbbb","info_hash":"aaaaaaaaaaaaaaaaaaaa"}`)
	peerID, ok := peekPeerID(raw)
	require.True(t, ok)
	require.Equal(t, "bbbbbbbbbbbbbbbbbbbb", string(peerID[:]))
}

func TestPeekPeerID_BadLength(t *testing.T) {
	raw := []byte(`{"peer_id":"short"}`)
	_, ok := peekPeerID(raw)
	require.False(t, ok)
}

func TestAnnounceResponse_Marshals(t *testing.T) {
	resp := announceResponse{Action: "announce", InfoHash: "aaaaaaaaaaaaaaaaaaaa", Interval: 120, Complete: 1, Incomplete: 2}
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	require.Contains(t, string(data), `"interval":120`)
}
