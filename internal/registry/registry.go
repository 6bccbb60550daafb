// Package registry implements the responder's TOFU identity store: a
// persistent username -> signature public key mapping. A username maps
// to exactly one public key forever; Pin refuses to overwrite an
// existing mapping, and package ake never attempts to call it in that
// case. Registry does no locking, in memory or on the file: it assumes a
// single writer, one goroutine in one process using a given file.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cloudflare/circl/sign"
	"github.com/quantumcall/ake-bridge/internal/pqcrypto"
)

// DefaultPath is the registry file name.
const DefaultPath = "client_keys.json"

// negativeCacheSize bounds the LRU cache of "username not found" results,
// so a responder under repeated-lookup load (e.g. a misbehaving or
// scripted initiator retrying a fresh username on every attempt) does not
// grow unbounded memory doing so.
const negativeCacheSize = 4096

// byteArray marshals as a JSON array of unsigned 8-bit integers rather than
// the base64 string encoding/json gives a bare []byte, matching the on-disk
// shape spec §6 requires: { "dilithium_public_key": [n0, n1, ...] }.
type byteArray []byte

func (b byteArray) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

func (b *byteArray) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("registry: byte value %d out of range", v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// record is the on-disk shape of one registry entry: { "dilithium_public_key": [n0, n1, ...] }.
type record struct {
	DilithiumPublicKey byteArray `json:"dilithium_public_key"`
}

// ErrAlreadyPinned is returned by Pin when the username is already present.
// Overwriting a pinned identity silently would defeat trust-on-first-use,
// so this is always a hard failure.
var ErrAlreadyPinned = errors.New("registry: username already pinned")

// Registry is the responder-local TOFU identity store.
type Registry struct {
	path string

	data map[string]sign.PublicKey

	// negativeCache remembers recent "not found" lookups. Lookup still
	// consults data on every call, so the cache never changes a lookup's
	// result; it holds no security-relevant data, and Pin removes a
	// username from it.
	negativeCache *lru.Cache[string, struct{}]
}

// Open loads the registry from path, creating an empty in-memory registry
// if the file does not yet exist (the file itself is created on first Pin).
func Open(path string) (*Registry, error) {
	cache, err := lru.New[string, struct{}](negativeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("registry: create negative cache: %w", err)
	}

	r := &Registry{
		path:          path,
		data:          make(map[string]sign.PublicKey),
		negativeCache: cache,
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := r.load(raw); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
		// No registry yet; Pin will create it.
	default:
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}

	return r, nil
}

func (r *Registry) load(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}

	var records map[string]record
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("registry: parse %s: %w", r.path, err)
	}

	for username, rec := range records {
		pub, err := pqcrypto.UnmarshalSignaturePublicKey(rec.DilithiumPublicKey)
		if err != nil {
			return fmt.Errorf("registry: %s: %w", username, err)
		}
		r.data[username] = pub
	}
	return nil
}

// Lookup returns the pinned public key for username, or ok=false if the
// username has never been seen.
func (r *Registry) Lookup(username string) (pub sign.PublicKey, ok bool) {
	if _, known := r.negativeCache.Get(username); known {
		if pub, ok := r.data[username]; ok {
			return pub, true
		}
		return nil, false
	}

	pub, ok = r.data[username]
	if !ok {
		r.negativeCache.Add(username, struct{}{})
	}
	return pub, ok
}

// Pin inserts username -> pub if absent and persists the registry. Calling
// Pin for a username already present reports ErrAlreadyPinned instead of
// silently overwriting; the caller (the responder state machine) treats
// that as a fatal abort.
func (r *Registry) Pin(username string, pub sign.PublicKey) error {
	if _, exists := r.data[username]; exists {
		return ErrAlreadyPinned
	}

	r.data[username] = pub
	r.negativeCache.Remove(username)

	if err := r.save(); err != nil {
		delete(r.data, username)
		return err
	}
	return nil
}

// save serializes the registry and replaces the file atomically via
// write-temp-then-rename, so a crash mid-write can never leave a
// truncated or half-written registry on disk.
func (r *Registry) save() error {
	records := make(map[string]record, len(r.data))
	for username, pub := range r.data {
		raw, err := pqcrypto.MarshalPublicKey(pub)
		if err != nil {
			return fmt.Errorf("registry: marshal %s: %w", username, err)
		}
		records[username] = record{DilithiumPublicKey: raw}
	}

	encoded, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("registry: encode: %w", err)
	}

	dir := filepath.Dir(r.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, ".client_keys-*.tmp")
	if err != nil {
		return fmt.Errorf("registry: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("registry: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("registry: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("registry: rename temp file into place: %w", err)
	}
	return nil
}
