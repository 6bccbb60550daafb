// Package keystore implements the initiator's long-term signature keypair
// persistence. The file holds pub||sec at fixed scheme lengths, with no
// username binding — the username is supplied externally, per session,
// by the launcher.
package keystore

import (
	"errors"
	"fmt"
	"os"

	"github.com/cloudflare/circl/sign"
	"github.com/quantumcall/ake-bridge/internal/pqcrypto"
)

// DefaultPath is the long-term key file name.
const DefaultPath = "client_dilithium_keys.bin"

// filePerm restricts the key file to owner read/write, since it holds a
// long-term private key.
const filePerm = 0o600

// KeyPair is a loaded or freshly generated long-term signature keypair.
type KeyPair struct {
	Public sign.PublicKey
	Secret sign.PrivateKey
}

// LoadOrGenerate loads the long-term keypair from path if it exists, or
// generates a fresh one and persists it if the file does not exist. Any
// other read error, and a file of the wrong length, is returned as an
// error; an existing file is never overwritten.
func LoadOrGenerate(path string) (KeyPair, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		return unmarshal(raw)
	case errors.Is(err, os.ErrNotExist):
		return generateAndSave(path)
	default:
		return KeyPair{}, fmt.Errorf("keystore: read %s: %w", path, err)
	}
}

func unmarshal(raw []byte) (KeyPair, error) {
	want := pqcrypto.SignaturePublicKeySize + pqcrypto.SignatureSecretKeySize
	if len(raw) != want {
		return KeyPair{}, fmt.Errorf("keystore: key file has %d bytes, want %d", len(raw), want)
	}

	pubRaw := raw[:pqcrypto.SignaturePublicKeySize]
	secRaw := raw[pqcrypto.SignaturePublicKeySize:]

	pub, err := pqcrypto.UnmarshalSignaturePublicKey(pubRaw)
	if err != nil {
		return KeyPair{}, fmt.Errorf("keystore: %w", err)
	}
	sec, err := pqcrypto.UnmarshalSignatureSecretKey(secRaw)
	if err != nil {
		return KeyPair{}, fmt.Errorf("keystore: %w", err)
	}
	return KeyPair{Public: pub, Secret: sec}, nil
}

func generateAndSave(path string) (KeyPair, error) {
	pair, err := pqcrypto.GenerateSignatureKeyPair()
	if err != nil {
		return KeyPair{}, fmt.Errorf("keystore: %w", err)
	}

	pubRaw, err := pqcrypto.MarshalPublicKey(pair.Public)
	if err != nil {
		return KeyPair{}, fmt.Errorf("keystore: marshal public key: %w", err)
	}
	secRaw, err := pqcrypto.MarshalSecretKey(pair.Secret)
	if err != nil {
		return KeyPair{}, fmt.Errorf("keystore: marshal secret key: %w", err)
	}

	raw := make([]byte, 0, len(pubRaw)+len(secRaw))
	raw = append(raw, pubRaw...)
	raw = append(raw, secRaw...)

	if err := os.WriteFile(path, raw, filePerm); err != nil {
		return KeyPair{}, fmt.Errorf("keystore: write %s: %w", path, err)
	}

	return KeyPair{Public: pair.Public, Secret: pair.Secret}, nil
}
