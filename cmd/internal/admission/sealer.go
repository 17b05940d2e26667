package admission

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"aegis/cmd/security/keys"
)

// Sealer is the per-message payload AEAD, keyed by the session subkey.
// Both the server pipeline and the client encode path use it, so a payload
// sealed by one side opens on the other.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the session subkey and builds the payload AEAD.
func NewSealer(ks *keys.Store) (*Sealer, error) {
	if ks == nil {
		return nil, ErrConfig
	}
	key, err := ks.Derive(keys.PurposeSession)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("payload aead: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plain into nonce||ciphertext.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("payload nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

// Open decrypts a sealed payload. Any failure is ErrDecryptionFailed; the
// AEAD's own error carries no useful detail and is deliberately dropped.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, ErrDecryptionFailed
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plain, err := s.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}
