package admission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"aegis/cmd/internal/sandbox"
	"aegis/cmd/internal/session"
	"aegis/cmd/security/token"
)

// Message is one inbound envelope: the session it claims, the credential
// it presents, and the sealed payload.
type Message struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	Payload   []byte `json:"payload"`
}

// LockState exposes the server's fail-closed switch to the pipeline.
type LockState interface {
	Locked() bool
}

// Pipeline runs the ordered admission checks over inbound messages.
type Pipeline struct {
	authority *token.Authority
	sessions  *session.Manager
	barrier   *sandbox.Controller
	sealer    *Sealer
	detector  Detector
	lock      LockState
	log       *slog.Logger

	admitted *prometheus.CounterVec
	latency  prometheus.Histogram
}

// NewPipeline wires the admission checks together. detector may be nil, in
// which case nothing is flagged.
func NewPipeline(
	authority *token.Authority,
	sessions *session.Manager,
	barrier *sandbox.Controller,
	sealer *Sealer,
	detector Detector,
	lock LockState,
	reg prometheus.Registerer,
	log *slog.Logger,
) (*Pipeline, error) {
	if authority == nil || sessions == nil || barrier == nil || sealer == nil || lock == nil || log == nil {
		return nil, ErrConfig
	}
	if detector == nil {
		detector = NopDetector()
	}

	p := &Pipeline{
		authority: authority,
		sessions:  sessions,
		barrier:   barrier,
		sealer:    sealer,
		detector:  detector,
		lock:      lock,
		log:       log,
		admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_admissions_total",
			Help: "Admission outcomes by reason.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_admit_duration_seconds",
			Help:    "Admission latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		if err := reg.Register(p.admitted); err != nil {
			return nil, err
		}
		if err := reg.Register(p.latency); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Admit runs the checks in order and returns the plaintext payload on
// success. Exactly one message is affected by any error.
func (p *Pipeline) Admit(ctx context.Context, msg Message, now time.Time) ([]byte, error) {
	start := time.Now()
	defer func() { p.latency.Observe(time.Since(start).Seconds()) }()

	if p.lock.Locked() {
		return p.reject(ctx, msg, "locked", ErrServerLocked)
	}

	claims, err := p.authority.Validate(msg.Token, now)
	if err != nil {
		return p.reject(ctx, msg, "invalid_token", &InvalidTokenError{Kind: err})
	}

	view, ok := p.sessions.Lookup(ctx, msg.SessionID, now)
	if !ok || view.Identity != claims.Identity {
		return p.reject(ctx, msg, "no_session", ErrNoActiveSession)
	}

	if !p.barrier.Synchronized() {
		return p.reject(ctx, msg, "not_synchronized", ErrSandboxNotSynchronized)
	}

	// Decryption happens inside the sandbox crypto region: a lock held by
	// any loop defers every other caller until release or timeout.
	if err := p.barrier.AcquireLock(ctx, msg.SessionID); err != nil {
		return p.reject(ctx, msg, "lock_timeout", err)
	}
	plain, err := p.sealer.Open(msg.Payload)
	p.barrier.ReleaseLock(msg.SessionID)
	if err != nil {
		return p.reject(ctx, msg, "decrypt_failed", ErrDecryptionFailed)
	}

	if p.detector.Anomalous(claims.Identity, msg) {
		if rerr := p.sessions.Revoke(ctx, view.ID, now); rerr != nil {
			p.log.Error("admit.revoke", "session_id", view.ID, "err", rerr)
		}
		p.log.Warn("admit.anomaly", "session_id", view.ID, "identity", claims.Identity)
		return p.reject(ctx, msg, "anomaly", ErrAnomalyDetected)
	}

	if err := p.sessions.Touch(ctx, view.ID, now); err != nil && !errors.Is(err, session.ErrUnknownSession) {
		p.log.Debug("admit.touch", "session_id", view.ID, "err", err)
	}
	p.sessions.RecordResult(ctx, view.ID, true)
	p.admitted.WithLabelValues("ok").Inc()
	return plain, nil
}

// reject counts the outcome and, when the message names a real session,
// records the failed request against it.
func (p *Pipeline) reject(ctx context.Context, msg Message, outcome string, err error) ([]byte, error) {
	p.admitted.WithLabelValues(outcome).Inc()
	if msg.SessionID != "" {
		p.sessions.RecordResult(ctx, msg.SessionID, false)
	}
	p.log.Info("admit.rejected", "outcome", outcome, "session_id", msg.SessionID)
	return nil, err
}
