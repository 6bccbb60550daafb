package ake

import "github.com/quantumcall/ake-bridge/internal/zeroize"

// zeroizeSecret wipes a shared-secret or derived-key buffer once the FSM
// is done with it, so it does not linger in memory beyond its use.
func zeroizeSecret(b []byte) {
	zeroize.Bytes(b)
}
