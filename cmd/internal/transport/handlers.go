package transport

import (
	"errors"
	"net/http"
	"time"

	"aegis/cmd/internal/admission"
	"aegis/cmd/internal/heartbeat"
	"aegis/cmd/internal/sandbox"
	"aegis/cmd/internal/session"
	"aegis/cmd/security/token"
)

type admitResponse struct {
	Payload []byte `json:"payload"`
}

type createSessionRequest struct {
	Token string `json:"token"`
}

type createSessionResponse struct {
	SessionID string    `json:"session_id"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

type renewSessionRequest struct {
	SessionID string `json:"session_id"`
}

type renewSessionResponse struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type credentialsRequest struct {
	CertPEM string `json:"cert_pem"`
	KeyPEM  string `json:"key_pem"`
}

type healthResponse struct {
	Status    string           `json:"status"`
	Sessions  session.Stats    `json:"sessions"`
	Heartbeat heartbeat.Report `json:"heartbeat"`
	Sandbox   sandbox.State    `json:"sandbox"`
}

func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	var msg admission.Message
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid admit body")
		return
	}

	plain, err := s.pipeline.Admit(r.Context(), msg, time.Now().UTC())
	if err != nil {
		status, code := rejectionStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, admitResponse{Payload: plain})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.Locked() {
		writeError(w, http.StatusServiceUnavailable, "locked", "server locked")
		return
	}

	var req createSessionRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid session body")
		return
	}

	v, err := s.sessions.Create(r.Context(), req.Token, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: v.ID,
		Identity:  v.Identity,
		ExpiresAt: v.ExpiresAt,
	})
}

func (s *Server) handleRenewSession(w http.ResponseWriter, r *http.Request) {
	if s.Locked() {
		writeError(w, http.StatusServiceUnavailable, "locked", "server locked")
		return
	}

	var req renewSessionRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid renew body")
		return
	}

	v, err := s.sessions.Renew(r.Context(), req.SessionID, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusNotFound, "no_session", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, renewSessionResponse{
		SessionID: v.ID,
		Token:     v.Token,
		ExpiresAt: v.ExpiresAt,
	})
}

func (s *Server) handleLock(w http.ResponseWriter, _ *http.Request) {
	s.Lock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnlock(w http.ResponseWriter, _ *http.Request) {
	s.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid credentials body")
		return
	}

	if err := s.ReloadCredentials([]byte(req.CertPEM), []byte(req.KeyPEM)); err != nil {
		writeError(w, http.StatusBadRequest, "bad_credentials", "bundle rejected; previous bundle stays live")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Sessions: s.sessions.Stats(r.Context()),
		Sandbox:  s.barrier.State(time.Now().UTC()),
	}
	if s.monitor != nil {
		resp.Heartbeat = s.monitor.LastReport()
	}
	if s.Locked() {
		resp.Status = "locked"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	switch {
	case s.Locked():
		http.Error(w, "locked", http.StatusServiceUnavailable)
	case !s.barrier.Synchronized():
		http.Error(w, "sandbox not synchronized", http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	}
}

// rejectionStatus maps pipeline errors onto the HTTP surface.
func rejectionStatus(err error) (int, string) {
	var ite *admission.InvalidTokenError
	switch {
	case errors.Is(err, admission.ErrServerLocked):
		return http.StatusServiceUnavailable, "locked"
	case errors.As(err, &ite):
		if errors.Is(err, token.ErrExpired) {
			return http.StatusUnauthorized, "token_expired"
		}
		return http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, admission.ErrNoActiveSession):
		return http.StatusUnauthorized, "no_session"
	case errors.Is(err, admission.ErrSandboxNotSynchronized):
		return http.StatusServiceUnavailable, "not_synchronized"
	case errors.Is(err, sandbox.ErrSyncTimeout):
		return http.StatusServiceUnavailable, "lock_timeout"
	case errors.Is(err, admission.ErrDecryptionFailed):
		return http.StatusBadRequest, "decrypt_failed"
	case errors.Is(err, admission.ErrAnomalyDetected):
		return http.StatusForbidden, "anomaly"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
