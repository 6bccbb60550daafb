// Package session holds the single piece of state an AKE run produces for
// its caller: the derived SRTP master key. Spec §4.7 and §9 prefer passing
// the key by value into an object the media subsystem owns, over a mutable
// global; MasterKey is that object.
package session

import "github.com/quantumcall/ake-bridge/internal/pqcrypto"

// MasterKey is the 46-byte SRTP master key (32-byte AES-256 key followed by
// a 14-byte salt) published exactly once, at the end of a successful AKE
// run. It is safe for any number of concurrent readers once published;
// nothing in this package mutates it afterward.
type MasterKey struct {
	bytes []byte
}

// NewMasterKey wraps a derived master key. raw must be exactly
// pqcrypto.MasterKeySize bytes; NewMasterKey takes ownership of a copy, so
// the caller may zeroize its own copy immediately after.
func NewMasterKey(raw []byte) MasterKey {
	bytes := make([]byte, pqcrypto.MasterKeySize)
	copy(bytes, raw)
	return MasterKey{bytes: bytes}
}

// Bytes returns the 46-byte master key. The returned slice aliases internal
// storage and must be treated as read-only.
func (k MasterKey) Bytes() []byte {
	return k.bytes
}

// AESKey returns the first 32 bytes: the AES-256 session key.
func (k MasterKey) AESKey() []byte {
	return k.bytes[:32]
}

// Salt returns the last 14 bytes: the SRTP salt.
func (k MasterKey) Salt() []byte {
	return k.bytes[32:]
}

// Result is everything a completed session hands back to its caller: the
// peer's claimed username (as seen on the wire) and the derived key
// material. The media pipeline and process supervision described in spec
// §1's Non-goals consume this as an opaque value; this package does not
// reach into either.
type Result struct {
	Username  string
	MasterKey MasterKey
}
