// Package pqcrypto is the crypto primitives façade for the key exchange: a
// post-quantum signature scheme, a post-quantum KEM, HKDF-SHA256 key
// derivation, and HMAC-SHA512 transcript authentication. Every primitive
// here is a total function except Verify and Decapsulate, which report
// failure instead of panicking — callers must treat both as fatal to the
// session, never as recoverable.
package pqcrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem"
	kemschemes "github.com/cloudflare/circl/kem/schemes"
	"github.com/cloudflare/circl/sign"
	signschemes "github.com/cloudflare/circl/sign/schemes"
	"golang.org/x/crypto/hkdf"

	"github.com/quantumcall/ake-bridge/internal/zeroize"
)

// sigSchemeName and kemSchemeName select NIST level-3 parameter sets:
// ML-DSA-65 (Dilithium3) for signatures, ML-KEM-768 (Kyber768) for the
// KEM.
const (
	sigSchemeName = "Dilithium3"
	kemSchemeName = "Kyber768"
)

// SharedSecretSize is the fixed size of the KEM's shared secret, used both
// as the HMAC key and as HKDF input keying material.
const SharedSecretSize = 32

// MasterKeySize is the total size of the derived SRTP master key: a
// 32-byte AES-256 key followed by a 14-byte salt.
const MasterKeySize = 46

// hkdfInfo is the fixed HKDF info parameter, the ASCII string
// "SRTP-AES256-SALT" with no NUL terminator.
var hkdfInfo = []byte("SRTP-AES256-SALT")

func sigScheme() sign.Scheme {
	s := signschemes.ByName(sigSchemeName)
	if s == nil {
		panic("pqcrypto: unknown signature scheme " + sigSchemeName)
	}
	return s
}

func kemScheme() kem.Scheme {
	s := kemschemes.ByName(kemSchemeName)
	if s == nil {
		panic("pqcrypto: unknown KEM scheme " + kemSchemeName)
	}
	return s
}

// SignaturePublicKeySize, SignatureSecretKeySize, and SignatureSize are the
// scheme-defined lengths, exposed so callers can validate wire payloads
// without hardcoding them.
var (
	SignaturePublicKeySize = sigScheme().PublicKeySize()
	SignatureSecretKeySize = sigScheme().PrivateKeySize()
	SignatureSize          = sigScheme().SignatureSize()
)

// KEMPublicKeySize, KEMSecretKeySize, and KEMCiphertextSize are the
// scheme-defined KEM lengths. KEMPublicKeySize in particular is the split
// point for the wire protocol's concatenated kem_pub||sig payload; it is
// read from the scheme actually linked in, so it cannot drift from it. The
// init-time assertion below checks the shared-secret size.
var (
	KEMPublicKeySize  = kemScheme().PublicKeySize()
	KEMSecretKeySize  = kemScheme().PrivateKeySize()
	KEMCiphertextSize = kemScheme().CiphertextSize()
)

func init() {
	if kemScheme().SharedKeySize() != SharedSecretSize {
		panic(fmt.Sprintf("pqcrypto: %s shared key size %d != expected %d",
			kemSchemeName, kemScheme().SharedKeySize(), SharedSecretSize))
	}
}

// SignatureKeyPair holds a long-term post-quantum signature keypair.
type SignatureKeyPair struct {
	Public sign.PublicKey
	Secret sign.PrivateKey
}

// GenerateSignatureKeyPair creates a fresh long-term signature keypair.
func GenerateSignatureKeyPair() (SignatureKeyPair, error) {
	pk, sk, err := sigScheme().GenerateKey()
	if err != nil {
		return SignatureKeyPair{}, fmt.Errorf("pqcrypto: generate signature keypair: %w", err)
	}
	return SignatureKeyPair{Public: pk, Secret: sk}, nil
}

// UnmarshalSignaturePublicKey decodes a raw public key of exactly
// SignaturePublicKeySize bytes.
func UnmarshalSignaturePublicKey(raw []byte) (sign.PublicKey, error) {
	if len(raw) != SignaturePublicKeySize {
		return nil, fmt.Errorf("pqcrypto: signature public key must be %d bytes, got %d", SignaturePublicKeySize, len(raw))
	}
	return sigScheme().UnmarshalBinaryPublicKey(raw)
}

// UnmarshalSignatureSecretKey decodes a raw secret key of exactly
// SignatureSecretKeySize bytes.
func UnmarshalSignatureSecretKey(raw []byte) (sign.PrivateKey, error) {
	if len(raw) != SignatureSecretKeySize {
		return nil, fmt.Errorf("pqcrypto: signature secret key must be %d bytes, got %d", SignatureSecretKeySize, len(raw))
	}
	return sigScheme().UnmarshalBinaryPrivateKey(raw)
}

// MarshalPublicKey returns the raw bytes of a signature public key.
func MarshalPublicKey(pk sign.PublicKey) ([]byte, error) {
	return pk.MarshalBinary()
}

// MarshalSecretKey returns the raw bytes of a signature secret key.
func MarshalSecretKey(sk sign.PrivateKey) ([]byte, error) {
	return sk.MarshalBinary()
}

// Sign produces a detached signature over msg under the given long-term
// secret key. The signature never embeds msg itself.
func Sign(sk sign.PrivateKey, msg []byte) []byte {
	return sigScheme().Sign(sk, msg, nil)
}

// Verify checks a detached signature over msg under pk. A false return is
// fatal to the session: callers should treat it as AuthFailure and log it
// as a possible MITM attempt.
func Verify(pk sign.PublicKey, msg, signature []byte) bool {
	return sigScheme().Verify(pk, msg, signature, nil)
}

// KEMKeyPair holds an ephemeral, session-scoped KEM keypair.
type KEMKeyPair struct {
	Public kem.PublicKey
	Secret kem.PrivateKey
}

// GenerateKEMKeyPair creates a fresh ephemeral KEM keypair. It must be
// generated anew for every session and never persisted.
func GenerateKEMKeyPair() (KEMKeyPair, error) {
	pk, sk, err := kemScheme().GenerateKeyPair()
	if err != nil {
		return KEMKeyPair{}, fmt.Errorf("pqcrypto: generate KEM keypair: %w", err)
	}
	return KEMKeyPair{Public: pk, Secret: sk}, nil
}

// Zero destroys the secret key material in kp. circl's kem.PrivateKey is an
// opaque interface (Scheme/MarshalBinary/Equal only) with no in-place wipe
// of its own, so the concrete struct behind it cannot be zeroed directly;
// the best available approximation is to marshal it to a byte copy, zero
// that copy, and drop every reference to the original so nothing in this
// package keeps it reachable past the session that used it. This closes the
// window during which the key is retrievable through kp, though it cannot
// scrub the decapsulated copy circl itself may still hold internally.
func (kp *KEMKeyPair) Zero() {
	if kp.Secret != nil {
		if raw, err := kp.Secret.MarshalBinary(); err == nil {
			zeroize.Bytes(raw)
		}
	}
	kp.Secret = nil
	kp.Public = nil
}

// MarshalKEMPublicKey returns the raw bytes of a KEM public key.
func MarshalKEMPublicKey(pk kem.PublicKey) ([]byte, error) {
	return pk.MarshalBinary()
}

// UnmarshalKEMPublicKey decodes a raw KEM public key of exactly
// KEMPublicKeySize bytes.
func UnmarshalKEMPublicKey(raw []byte) (kem.PublicKey, error) {
	if len(raw) != KEMPublicKeySize {
		return nil, fmt.Errorf("pqcrypto: KEM public key must be %d bytes, got %d", KEMPublicKeySize, len(raw))
	}
	return kemScheme().UnmarshalBinaryPublicKey(raw)
}

// Encapsulate generates a fresh ciphertext and SharedSecretSize-byte
// shared secret for the given recipient KEM public key (responder side).
func Encapsulate(pk kem.PublicKey) (ciphertext, secret []byte, err error) {
	ct, ss, err := kemScheme().Encapsulate(pk)
	if err != nil {
		return nil, nil, fmt.Errorf("pqcrypto: encapsulate: %w", err)
	}
	return ct, ss, nil
}

// Decapsulate recovers the shared secret from a ciphertext using the
// ephemeral KEM secret key (initiator side). A returned error is fatal to
// the session (CryptoFailure).
func Decapsulate(sk kem.PrivateKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != KEMCiphertextSize {
		return nil, fmt.Errorf("pqcrypto: ciphertext must be %d bytes, got %d", KEMCiphertextSize, len(ciphertext))
	}
	ss, err := kemScheme().Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("pqcrypto: decapsulate: %w", err)
	}
	return ss, nil
}

// DeriveMasterKey runs HKDF-SHA256 over the 32-byte shared secret with an
// empty salt and the fixed "SRTP-AES256-SALT" info string, producing the
// 46-byte SRTP master key (32-byte key || 14-byte salt).
func DeriveMasterKey(sharedSecret []byte) ([]byte, error) {
	if len(sharedSecret) != SharedSecretSize {
		return nil, fmt.Errorf("pqcrypto: shared secret must be %d bytes, got %d", SharedSecretSize, len(sharedSecret))
	}

	reader := hkdf.New(sha256.New, sharedSecret, nil, hkdfInfo)
	master := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(reader, master); err != nil {
		return nil, fmt.Errorf("pqcrypto: hkdf derive: %w", err)
	}
	return master, nil
}

// HMAC computes HMAC-SHA512(key, data), always 64 bytes.
func HMAC(key, data []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// ConstantTimeEqual reports whether two HMAC tags are identical, comparing
// in constant time so tag verification is not a timing side channel.
func ConstantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
