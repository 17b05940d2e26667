package app

import (
	"os"
	"strings"

	"aegis/cmd/security/keys"
)

// LoadRootSecret resolves the root secret from AEGIS_ROOT_SECRET or, when
// that is unset, the file named by AEGIS_ROOT_SECRET_FILE. There is no
// generated fallback: a missing or short secret is a fatal startup error,
// because an engine that silently invents its own trust root protects
// nothing.
func LoadRootSecret(cfg Config) ([]byte, error) {
	if v := os.Getenv("AEGIS_ROOT_SECRET"); v != "" {
		return []byte(v), nil
	}

	if cfg.RootSecretFile != "" {
		data, err := os.ReadFile(cfg.RootSecretFile)
		if err != nil {
			return nil, keys.ErrMissingRootSecret
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return nil, keys.ErrMissingRootSecret
		}
		return []byte(secret), nil
	}

	return nil, keys.ErrMissingRootSecret
}
