package keys

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	// MinRootSecretBytes is the minimum accepted root secret size.
	MinRootSecretBytes = 32

	// SubKeyBytes is the size of every derived subkey.
	SubKeyBytes = 32

	// hkdfInfoPrefix namespaces derivations so subkeys cannot collide with
	// other HKDF users of the same root secret.
	hkdfInfoPrefix = "aegis/v1/"
)

// Purpose tags a derived subkey with its single allowed use.
type Purpose string

const (
	// PurposeEncryption keys the AEAD over token payloads.
	PurposeEncryption Purpose = "encryption"
	// PurposeSigning keys the HMAC over token ciphertexts.
	PurposeSigning Purpose = "signing"
	// PurposeSession keys the per-message payload AEAD and the boot token check.
	PurposeSession Purpose = "session"
)

func (p Purpose) valid() bool {
	switch p {
	case PurposeEncryption, PurposeSigning, PurposeSession:
		return true
	}
	return false
}

// SubKey is a derived, purpose-bound key. Callers must not retain it past
// process teardown.
type SubKey []byte

// Store holds the root secret and the derived subkey cache.
//
// Immutable once constructed except for Zero. Safe for concurrent use;
// Derive after the first call per purpose is a read-lock and a map hit.
type Store struct {
	mu     sync.RWMutex
	root   []byte
	cache  map[Purpose]SubKey
	zeroed bool
}

// NewStore validates the root secret and returns a ready Store.
// Returns ErrMissingRootSecret when the secret is absent or shorter than
// MinRootSecretBytes; callers must treat that as a fatal startup error.
func NewStore(rootSecret []byte) (*Store, error) {
	if len(rootSecret) < MinRootSecretBytes {
		return nil, ErrMissingRootSecret
	}

	root := make([]byte, len(rootSecret))
	copy(root, rootSecret)

	return &Store{
		root:  root,
		cache: make(map[Purpose]SubKey, 3),
	}, nil
}

// Derive returns the subkey for purpose, deriving and caching it on first use.
// Deterministic for a given root secret + purpose.
func (s *Store) Derive(purpose Purpose) (SubKey, error) {
	if !purpose.valid() {
		return nil, ErrUnknownPurpose
	}

	s.mu.RLock()
	if k, ok := s.cache[purpose]; ok {
		s.mu.RUnlock()
		return k, nil
	}
	zeroed := s.zeroed
	s.mu.RUnlock()

	if zeroed {
		return nil, ErrMissingRootSecret
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.cache[purpose]; ok {
		return k, nil
	}
	if s.zeroed {
		return nil, ErrMissingRootSecret
	}

	k := make([]byte, SubKeyBytes)
	r := hkdf.New(sha256.New, s.root, nil, []byte(hkdfInfoPrefix+string(purpose)))
	if _, err := io.ReadFull(r, k); err != nil {
		return nil, fmt.Errorf("derive %s subkey: %w", purpose, err)
	}

	s.cache[purpose] = k
	return k, nil
}

// Zero wipes the root secret and all cached subkeys. The store is unusable
// afterwards; intended for process teardown.
func (s *Store) Zero() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.root {
		s.root[i] = 0
	}
	for _, k := range s.cache {
		for i := range k {
			k[i] = 0
		}
	}
	s.cache = make(map[Purpose]SubKey)
	s.zeroed = true
}
