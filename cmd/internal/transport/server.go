package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aegis/cmd/internal/admission"
	"aegis/cmd/internal/heartbeat"
	"aegis/cmd/internal/sandbox"
	"aegis/cmd/internal/session"
)

// Server is the admission edge. It owns the fail-closed lock, the live TLS
// credential bundle, and the HTTP surface over the pipeline.
type Server struct {
	cfg      Config
	pipeline *admission.Pipeline
	sessions *session.Manager
	barrier  *sandbox.Controller
	monitor  *heartbeat.Monitor
	gatherer prometheus.Gatherer
	log      *slog.Logger

	cert   atomic.Pointer[tls.Certificate]
	locked atomic.Bool

	extras map[string]http.Handler
}

// NewServer constructs the server shell. The pipeline is attached
// separately because it needs the server's lock state first; see SetPipeline.
func NewServer(
	cfg Config,
	sessions *session.Manager,
	barrier *sandbox.Controller,
	monitor *heartbeat.Monitor,
	gatherer prometheus.Gatherer,
	log *slog.Logger,
) (*Server, error) {
	if sessions == nil || barrier == nil || log == nil {
		return nil, ErrConfig
	}
	if cfg.Addr == "" || cfg.MaxBodyBytes <= 0 {
		return nil, ErrConfig
	}

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		barrier:  barrier,
		monitor:  monitor,
		gatherer: gatherer,
		log:      log,
	}

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.Join(ErrBadCredentials, err)
		}
		s.cert.Store(&cert)
	}

	return s, nil
}

// SetPipeline attaches the admission pipeline. Must be called before Run.
func (s *Server) SetPipeline(p *admission.Pipeline) { s.pipeline = p }

// Mount attaches an extra handler (the websocket gateway) at pattern.
// Must be called before Run.
func (s *Server) Mount(pattern string, h http.Handler) {
	if s.extras == nil {
		s.extras = make(map[string]http.Handler)
	}
	s.extras[pattern] = h
}

// Locked reports the fail-closed switch; read by the pipeline on every admit.
func (s *Server) Locked() bool { return s.locked.Load() }

// Lock flips the server fail-closed. Every subsequent admission is rejected
// until Unlock, regardless of message validity.
func (s *Server) Lock() {
	if !s.locked.Swap(true) {
		s.log.Warn("server.locked")
	}
}

// Unlock reopens admission.
func (s *Server) Unlock() {
	if s.locked.Swap(false) {
		s.log.Info("server.unlocked")
	}
}

// ReloadCredentials parses a new bundle and swaps it in atomically. The
// parse happens entirely before the swap: a bad bundle changes nothing and
// in-flight handshakes always see one consistent certificate.
func (s *Server) ReloadCredentials(certPEM, keyPEM []byte) error {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return errors.Join(ErrBadCredentials, err)
	}
	s.cert.Store(&cert)
	s.log.Info("server.credentials_reloaded")
	return nil
}

// TLSConfig returns the server TLS configuration backed by the live bundle.
func (s *Server) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS13,
		GetCertificate: s.getCertificate,
	}
}

func (s *Server) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert := s.cert.Load()
	if cert == nil {
		return nil, ErrNoCredentials
	}
	return cert, nil
}

// Routes builds the HTTP surface.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/admit", s.handleAdmit)
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /v1/sessions/renew", s.handleRenewSession)
	mux.HandleFunc("POST /v1/lock", s.handleLock)
	mux.HandleFunc("POST /v1/unlock", s.handleUnlock)
	mux.HandleFunc("POST /v1/credentials", s.handleCredentials)

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	for pattern, h := range s.extras {
		mux.Handle(pattern, h)
	}

	return mux
}

// Run serves until ctx is canceled, then shuts down gracefully. With a
// credential bundle loaded it serves TLS; without one it serves plaintext
// for development.
func (s *Server) Run(ctx context.Context) error {
	if s.pipeline == nil {
		return ErrConfig
	}

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           withRequestLogging(s.Routes(), s.log),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	tlsEnabled := s.cert.Load() != nil
	if tlsEnabled {
		srv.TLSConfig = s.TLSConfig()
	}
	s.log.Info("server.start", "addr", s.cfg.Addr, "tls", tlsEnabled)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsEnabled {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		s.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
