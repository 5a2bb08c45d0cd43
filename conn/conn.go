// Package conn implements the UDP connection-ID handshake described by
// BEP 15: a stateless, memory-less proof that a client observed a reply
// from this tracker's address before being allowed to announce or scrape.
//
// Unlike the teacher's HMAC-over-xxhash construction, IDs here are minted
// with a keyed BLAKE3 hash: the key is drawn once at startup and never
// persisted, so no shared state needs to survive a restart or be
// synchronized across socket workers beyond a clone of the Validator.
package conn

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"lukechampine.com/blake3"
)

// ID is an 8-byte BEP 15 connection identifier.
type ID [8]byte

// Validator mints and verifies connection IDs. It is not safe for
// concurrent use by multiple goroutines; each socket worker should hold
// its own clone (via Clone), seeded from the same key, so that IDs minted
// by one worker validate on any other.
type Validator struct {
	key              [32]byte
	startTime        time.Time
	maxConnectionAge time.Duration
	hasher           *blake3.Hasher
}

// NewValidator creates a Validator with a freshly drawn random key and the
// given maximum connection age (how long a minted ID remains valid).
func NewValidator(maxConnectionAge time.Duration) (*Validator, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("conn: couldn't get random bytes for validator key: %w", err)
	}

	return &Validator{
		key:              key,
		startTime:        time.Now(),
		maxConnectionAge: maxConnectionAge,
		hasher:           blake3.New(32, key[:]),
	}, nil
}

// Clone returns a new Validator sharing this one's key and start time but
// with its own scratch hasher, safe to hand to another goroutine.
func (v *Validator) Clone() *Validator {
	return &Validator{
		key:              v.key,
		startTime:        v.startTime,
		maxConnectionAge: v.maxConnectionAge,
		hasher:           blake3.New(32, v.key[:]),
	}
}

// Create mints a connection ID for src at the current time.
func (v *Validator) Create(src netip.Addr) ID {
	var id ID
	elapsed := uint32(time.Since(v.startTime).Seconds())
	binary.LittleEndian.PutUint32(id[:4], elapsed)
	copy(id[4:], v.hash(id[:4], src))
	return id
}

// Valid reports whether id is a connection ID this Validator could have
// minted for src and that has not yet expired.
func (v *Validator) Valid(id ID, src netip.Addr) bool {
	want := v.hash(id[:4], src)
	if subtle.ConstantTimeCompare(want, id[4:]) != 1 {
		return false
	}

	clientElapsed := binary.LittleEndian.Uint32(id[:4])
	trackerElapsed := uint32(time.Since(v.startTime).Seconds())

	// The upper bound on clientElapsed, beyond rejecting expired IDs,
	// also rejects IDs with a future timestamp: without it an attacker
	// could brute-force a single hash valid for u32_max seconds and
	// replay it until the tracker restarts.
	expiresAt := clientElapsed + uint32(v.maxConnectionAge.Seconds())
	return expiresAt > trackerElapsed && clientElapsed <= trackerElapsed
}

func (v *Validator) hash(elapsed []byte, addr netip.Addr) []byte {
	v.hasher.Reset()
	v.hasher.Write(elapsed)
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	v.hasher.Write(addr.AsSlice())

	return v.hasher.Sum(nil)[:4]
}
