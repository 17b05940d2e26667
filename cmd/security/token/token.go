package token

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"aegis/cmd/security/keys"
)

const (
	nonceLen = chacha20poly1305.NonceSizeX
	macLen   = sha256.Size

	// maxTokenLen bounds decode work on untrusted input.
	maxTokenLen = 4096
)

// Claims is the decrypted token payload.
type Claims struct {
	Identity  string `json:"identity"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// Authority issues and validates component tokens. Construct once at startup
// from derived subkeys; safe for concurrent use.
type Authority struct {
	aead      cipher.AEAD
	macKey    []byte
	clockSkew time.Duration
}

// NewAuthority builds an Authority from the key material store.
// ClockSkew tolerates minor clock differences on issued_at plausibility
// checks; zero disables the tolerance.
func NewAuthority(ks *keys.Store, clockSkew time.Duration) (*Authority, error) {
	if ks == nil || clockSkew < 0 {
		return nil, ErrConfig
	}

	encKey, err := ks.Derive(keys.PurposeEncryption)
	if err != nil {
		return nil, err
	}
	sigKey, err := ks.Derive(keys.PurposeSigning)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, ErrConfig
	}

	return &Authority{
		aead:      aead,
		macKey:    sigKey,
		clockSkew: clockSkew,
	}, nil
}

// Issue produces a token binding identity to the [now, now+ttl) window.
// Pure computation: no state is retained here.
func (a *Authority) Issue(identity string, ttl time.Duration, now time.Time) (string, error) {
	if identity == "" || ttl <= 0 {
		return "", ErrConfig
	}

	payload, err := json.Marshal(Claims{
		Identity:  identity,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	out := make([]byte, 0, nonceLen+len(payload)+a.aead.Overhead()+macLen)
	out = append(out, nonce...)
	out = a.aead.Seal(out, nonce, payload, nil)
	out = append(out, a.mac(out)...)

	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Validate decrypts and verifies raw, returning the bound identity.
// Every message revalidates; errors are ErrMalformed, ErrSignatureMismatch,
// or ErrExpired.
func (a *Authority) Validate(raw string, now time.Time) (Claims, error) {
	if raw == "" || len(raw) > maxTokenLen {
		return Claims{}, ErrMalformed
	}

	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	if len(data) < nonceLen+a.aead.Overhead()+macLen {
		return Claims{}, ErrMalformed
	}

	body, tag := data[:len(data)-macLen], data[len(data)-macLen:]

	// Constant-time MAC check before any decryption work.
	if !hmac.Equal(tag, a.mac(body)) {
		return Claims{}, ErrSignatureMismatch
	}

	nonce, ciphertext := body[:nonceLen], body[nonceLen:]
	payload, err := a.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Claims{}, ErrMalformed
	}

	var c Claims
	if err := json.Unmarshal(payload, &c); err != nil || c.Identity == "" {
		return Claims{}, ErrMalformed
	}

	// Plausibility: a token "issued" in the future (beyond skew) is forged
	// or from a broken clock, not merely early.
	if c.IssuedAt > now.Add(a.clockSkew).Unix() {
		return Claims{}, ErrMalformed
	}
	if now.Unix() >= c.ExpiresAt {
		return Claims{}, ErrExpired
	}

	return c, nil
}

// Rotate reissues a token for the same identity with a fresh validity window.
// Used by session renewal when the bound token nears expiry.
func (a *Authority) Rotate(c Claims, ttl time.Duration, now time.Time) (string, error) {
	return a.Issue(c.Identity, ttl, now)
}

func (a *Authority) mac(body []byte) []byte {
	m := hmac.New(sha256.New, a.macKey)
	_, _ = m.Write(body)
	return m.Sum(nil)
}
