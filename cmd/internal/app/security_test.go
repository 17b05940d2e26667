package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"aegis/cmd/security/keys"
)

func TestLoadRootSecretFromEnv(t *testing.T) {
	t.Setenv("AEGIS_ROOT_SECRET", "from-the-environment")

	secret, err := LoadRootSecret(Config{})
	if err != nil {
		t.Fatalf("LoadRootSecret: %v", err)
	}
	if string(secret) != "from-the-environment" {
		t.Errorf("secret = %q", secret)
	}
}

func TestLoadRootSecretFromFile(t *testing.T) {
	t.Setenv("AEGIS_ROOT_SECRET", "")

	path := filepath.Join(t.TempDir(), "root.secret")
	if err := os.WriteFile(path, []byte("  file-secret-material\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	secret, err := LoadRootSecret(Config{RootSecretFile: path})
	if err != nil {
		t.Fatalf("LoadRootSecret: %v", err)
	}
	if string(secret) != "file-secret-material" {
		t.Errorf("secret = %q, want trimmed file contents", secret)
	}
}

func TestLoadRootSecretEnvWinsOverFile(t *testing.T) {
	t.Setenv("AEGIS_ROOT_SECRET", "env-secret")

	path := filepath.Join(t.TempDir(), "root.secret")
	if err := os.WriteFile(path, []byte("file-secret"), 0o600); err != nil {
		t.Fatal(err)
	}

	secret, err := LoadRootSecret(Config{RootSecretFile: path})
	if err != nil {
		t.Fatalf("LoadRootSecret: %v", err)
	}
	if string(secret) != "env-secret" {
		t.Errorf("secret = %q, want env value", secret)
	}
}

func TestLoadRootSecretMissing(t *testing.T) {
	t.Setenv("AEGIS_ROOT_SECRET", "")

	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "no source configured", cfg: Config{}},
		{name: "file does not exist", cfg: Config{RootSecretFile: filepath.Join(t.TempDir(), "absent")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadRootSecret(tc.cfg); !errors.Is(err, keys.ErrMissingRootSecret) {
				t.Errorf("err = %v, want ErrMissingRootSecret", err)
			}
		})
	}
}

func TestLoadRootSecretEmptyFile(t *testing.T) {
	t.Setenv("AEGIS_ROOT_SECRET", "")

	path := filepath.Join(t.TempDir(), "root.secret")
	if err := os.WriteFile(path, []byte("   \n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadRootSecret(Config{RootSecretFile: path}); !errors.Is(err, keys.ErrMissingRootSecret) {
		t.Errorf("err = %v, want ErrMissingRootSecret", err)
	}
}
