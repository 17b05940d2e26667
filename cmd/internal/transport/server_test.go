package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"aegis/cmd/internal/admission"
	"aegis/cmd/internal/sandbox"
	"aegis/cmd/internal/session"
	"aegis/cmd/security/keys"
	"aegis/cmd/security/token"
)

type fixture struct {
	server    *Server
	authority *token.Authority
	sessions  *session.Manager
	barrier   *sandbox.Controller
	sealer    *admission.Sealer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := make([]byte, keys.MinRootSecretBytes)
	for i := range root {
		root[i] = byte(i + 53)
	}
	ks, err := keys.NewStore(root)
	if err != nil {
		t.Fatalf("keys.NewStore: %v", err)
	}
	authority, err := token.NewAuthority(ks, 30*time.Second)
	if err != nil {
		t.Fatalf("token.NewAuthority: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions, err := session.NewManager(session.DefaultConfig(), authority, session.NewMemoryStore(), log)
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}

	reg := prometheus.NewRegistry()
	barrier, err := sandbox.NewController(sandbox.DefaultConfig(), []string{"primary"}, reg, log)
	if err != nil {
		t.Fatalf("sandbox.NewController: %v", err)
	}
	if err := barrier.ReportReady("primary", time.Now().UTC()); err != nil {
		t.Fatalf("ReportReady: %v", err)
	}

	sealer, err := admission.NewSealer(ks)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	srv, err := NewServer(DefaultConfig(), sessions, barrier, nil, reg, log)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	pipe, err := admission.NewPipeline(authority, sessions, barrier, sealer, nil, srv, reg, log)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	srv.SetPipeline(pipe)

	return &fixture{server: srv, authority: authority, sessions: sessions, barrier: barrier, sealer: sealer}
}

func (f *fixture) client(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewClient(ts.URL, nil, f.sealer, log)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestServer_EndToEndAdmit(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Routes())
	defer ts.Close()

	c := f.client(t, ts)
	ctx := context.Background()

	raw, err := f.authority.Issue("svc-A", time.Hour, time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := c.OpenSession(ctx, raw); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	plain, err := c.Send(ctx, []byte("over the wire"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(plain) != "over the wire" {
		t.Fatalf("echo = %q", plain)
	}

	tx, failed := c.Counters()
	if tx != 1 || failed != 0 {
		t.Fatalf("counters = %d/%d, want 1/0", tx, failed)
	}
}

func TestServer_RenewSession(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Routes())
	defer ts.Close()

	c := f.client(t, ts)
	ctx := context.Background()

	raw, err := f.authority.Issue("svc-A", time.Hour, time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := c.OpenSession(ctx, raw); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	sid := *c.sessionID.Load()
	before, ok := f.sessions.Lookup(ctx, sid, time.Now().UTC())
	if !ok {
		t.Fatal("session vanished after open")
	}

	if err := c.RenewSession(ctx); err != nil {
		t.Fatalf("RenewSession: %v", err)
	}

	after, ok := f.sessions.Lookup(ctx, sid, time.Now().UTC())
	if !ok {
		t.Fatal("session vanished after renew")
	}
	if after.ExpiresAt.Before(before.ExpiresAt) {
		t.Fatalf("renew moved expiry backward: %v -> %v", before.ExpiresAt, after.ExpiresAt)
	}

	// The client keeps sending with whatever token the server handed back.
	if _, err := c.Send(ctx, []byte("post-renew")); err != nil {
		t.Fatalf("Send after renew: %v", err)
	}

	// Renewing a terminated session surfaces as no_session.
	if err := f.sessions.Revoke(ctx, sid, time.Now().UTC()); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	err = c.RenewSession(ctx)
	var re *RejectedError
	if !errors.As(err, &re) || re.Code != "no_session" {
		t.Fatalf("renew after revoke: expected no_session rejection, got %v", err)
	}
}

func TestServer_LockRejectsAndClientShortCircuits(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Routes())
	defer ts.Close()

	c := f.client(t, ts)
	ctx := context.Background()

	raw, err := f.authority.Issue("svc-A", time.Hour, time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := c.OpenSession(ctx, raw); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	resp, err := http.Post(ts.URL+"/v1/lock", "application/json", nil)
	if err != nil || resp.StatusCode != http.StatusNoContent {
		t.Fatalf("lock: status=%v err=%v", resp.StatusCode, err)
	}
	_ = resp.Body.Close()

	// First send hits the server, learns the lock.
	if _, err := c.Send(ctx, []byte("x")); err == nil {
		t.Fatal("send while locked should fail")
	}
	// Second send never leaves the client.
	if _, err := c.Send(ctx, []byte("x")); err != ErrClientLocked {
		t.Fatalf("expected ErrClientLocked short-circuit, got %v", err)
	}

	resp, err = http.Post(ts.URL+"/v1/unlock", "application/json", nil)
	if err != nil || resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unlock: status=%v err=%v", resp.StatusCode, err)
	}
	_ = resp.Body.Close()

	c.SetLocked(false)
	if _, err := c.Send(ctx, []byte("x")); err != nil {
		t.Fatalf("send after unlock: %v", err)
	}
}

func TestServer_ReadyzTracksLockAndBarrier(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Routes())
	defer ts.Close()

	get := func() int {
		resp, err := http.Get(ts.URL + "/readyz")
		if err != nil {
			t.Fatalf("GET /readyz: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode
	}

	if got := get(); got != http.StatusOK {
		t.Fatalf("readyz = %d, want 200", got)
	}

	f.server.Lock()
	if got := get(); got != http.StatusServiceUnavailable {
		t.Fatalf("readyz while locked = %d, want 503", got)
	}
	f.server.Unlock()

	f.barrier.DropReady("primary")
	if got := get(); got != http.StatusServiceUnavailable {
		t.Fatalf("readyz while desynchronized = %d, want 503", got)
	}
}

func TestServer_CredentialReload(t *testing.T) {
	f := newFixture(t)

	certA, keyA := selfSignedPEM(t, "aegis-a")
	certB, keyB := selfSignedPEM(t, "aegis-b")

	if _, err := f.server.getCertificate(nil); err != ErrNoCredentials {
		t.Fatalf("expected ErrNoCredentials before load, got %v", err)
	}

	if err := f.server.ReloadCredentials(certA, keyA); err != nil {
		t.Fatalf("ReloadCredentials A: %v", err)
	}
	a, err := f.server.getCertificate(nil)
	if err != nil {
		t.Fatalf("getCertificate: %v", err)
	}

	// Garbage never displaces a live bundle.
	if err := f.server.ReloadCredentials([]byte("garbage"), keyB); err == nil {
		t.Fatal("bad bundle accepted")
	}
	still, err := f.server.getCertificate(nil)
	if err != nil || still != a {
		t.Fatalf("bundle changed after failed reload: %v", err)
	}

	if err := f.server.ReloadCredentials(certB, keyB); err != nil {
		t.Fatalf("ReloadCredentials B: %v", err)
	}
	b, err := f.server.getCertificate(nil)
	if err != nil || b == a {
		t.Fatal("reload did not swap the bundle")
	}
}

func TestServer_ConcurrentReloadConsistentBundles(t *testing.T) {
	f := newFixture(t)

	certA, keyA := selfSignedPEM(t, "aegis-a")
	certB, keyB := selfSignedPEM(t, "aegis-b")
	if err := f.server.ReloadCredentials(certA, keyA); err != nil {
		t.Fatalf("ReloadCredentials: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Reload both bundles in a tight loop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = f.server.ReloadCredentials(certA, keyA)
			_ = f.server.ReloadCredentials(certB, keyB)
		}
	}()

	// 100 concurrent readers; each must observe one complete, parsed bundle.
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				cert, err := f.server.getCertificate(nil)
				if err != nil || cert == nil || cert.Leaf == nil && len(cert.Certificate) == 0 {
					t.Errorf("inconsistent bundle: cert=%v err=%v", cert, err)
					return
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestRejectionStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"locked", admission.ErrServerLocked, http.StatusServiceUnavailable, "locked"},
		{"malformed token", &admission.InvalidTokenError{Kind: token.ErrMalformed}, http.StatusUnauthorized, "invalid_token"},
		{"expired token", &admission.InvalidTokenError{Kind: token.ErrExpired}, http.StatusUnauthorized, "token_expired"},
		{"no session", admission.ErrNoActiveSession, http.StatusUnauthorized, "no_session"},
		{"not synchronized", admission.ErrSandboxNotSynchronized, http.StatusServiceUnavailable, "not_synchronized"},
		{"lock timeout", sandbox.ErrSyncTimeout, http.StatusServiceUnavailable, "lock_timeout"},
		{"decrypt failed", admission.ErrDecryptionFailed, http.StatusBadRequest, "decrypt_failed"},
		{"anomaly", admission.ErrAnomalyDetected, http.StatusForbidden, "anomaly"},
		{"unknown", io.ErrUnexpectedEOF, http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := rejectionStatus(tt.err)
			if status != tt.status || code != tt.code {
				t.Fatalf("got %d/%s, want %d/%s", status, code, tt.status, tt.code)
			}
		})
	}
}

func selfSignedPEM(t *testing.T, cn string) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey: %v", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}
