package conn

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidator_CreateThenValid(t *testing.T) {
	v, err := NewValidator(2 * time.Minute)
	require.NoError(t, err)

	addr := netip.MustParseAddr("203.0.113.5")
	id := v.Create(addr)

	require.True(t, v.Valid(id, addr))
}

func TestValidator_RejectsDifferentAddr(t *testing.T) {
	v, err := NewValidator(2 * time.Minute)
	require.NoError(t, err)

	addr := netip.MustParseAddr("203.0.113.5")
	other := netip.MustParseAddr("198.51.100.9")
	id := v.Create(addr)

	require.False(t, v.Valid(id, other))
}

func TestValidator_RejectsTamperedID(t *testing.T) {
	v, err := NewValidator(2 * time.Minute)
	require.NoError(t, err)

	addr := netip.MustParseAddr("203.0.113.5")
	id := v.Create(addr)
	id[7] ^= 0xFF

	require.False(t, v.Valid(id, addr))
}

func TestValidator_ZeroMaxAgeRejectsImmediately(t *testing.T) {
	v, err := NewValidator(0)
	require.NoError(t, err)

	addr := netip.MustParseAddr("203.0.113.5")
	id := v.Create(addr)

	require.False(t, v.Valid(id, addr))
}

func TestValidator_ClonesValidateEachOther(t *testing.T) {
	v, err := NewValidator(2 * time.Minute)
	require.NoError(t, err)
	clone := v.Clone()

	addr := netip.MustParseAddr("2001:db8::1")
	id := v.Create(addr)

	require.True(t, clone.Valid(id, addr))
}

func TestValidator_IPv4MappedIPv6Matches(t *testing.T) {
	v, err := NewValidator(2 * time.Minute)
	require.NoError(t, err)

	v4 := netip.MustParseAddr("203.0.113.5")
	mapped := netip.MustParseAddr("::ffff:203.0.113.5")
	id := v.Create(v4)

	require.True(t, v.Valid(id, mapped))
}
