// Package zeroize provides best-effort secret wiping for byte buffers that
// hold key material: KEM secret keys, shared secrets, and transcript bytes.
package zeroize

// Bytes overwrites every byte of b with zero. It does not prevent the
// garbage collector from having copied b earlier, but it closes the window
// during which the buffer is readable after the caller is done with it.
func Bytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
