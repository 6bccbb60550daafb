// Package transcript implements the append-only byte log that both AKE
// roles build incrementally and feed to HMAC. Spec §4.4 and §4.6 fix
// exactly which payloads are appended and in what order; this package
// only provides the buffer, not the append decisions — those live in the
// FSMs in package ake.
package transcript

import "github.com/quantumcall/ake-bridge/internal/zeroize"

// Buffer is an ordered, append-only byte log. The zero value is ready to
// use.
type Buffer struct {
	data []byte
}

// Append adds payload to the end of the transcript. The caller retains
// ownership of payload; Buffer copies it so later zeroization of the
// caller's copy does not corrupt the transcript.
func (b *Buffer) Append(payload []byte) {
	b.data = append(b.data, payload...)
}

// Bytes returns the transcript contents accumulated so far. The returned
// slice aliases the buffer's storage and must not be modified.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes appended so far.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Zero wipes the transcript contents and resets the buffer to empty,
// Called once the session ends, so the transcript does not outlive its use.
func (b *Buffer) Zero() {
	zeroize.Bytes(b.data)
	b.data = nil
}
