package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"aegis/cmd/internal/admission"
)

// Client sends messages through the admission path: open a session from a
// token, then seal and submit payloads. It keeps a local view of the
// server lock and refuses to transmit while that view says locked; the
// server re-checks regardless.
type Client struct {
	base   string
	http   *http.Client
	sealer *admission.Sealer
	log    *slog.Logger

	token     atomic.Pointer[string]
	sessionID atomic.Pointer[string]
	locked    atomic.Bool

	transmitted atomic.Uint64
	failed      atomic.Uint64
}

// NewClient builds a client against baseURL. tlsCfg may be nil for
// plaintext development servers.
func NewClient(baseURL string, tlsCfg *tls.Config, sealer *admission.Sealer, log *slog.Logger) (*Client, error) {
	if baseURL == "" || sealer == nil || log == nil {
		return nil, ErrConfig
	}

	transportRT := http.DefaultTransport.(*http.Transport).Clone()
	if tlsCfg != nil {
		transportRT.TLSClientConfig = tlsCfg
	}

	return &Client{
		base:   baseURL,
		http:   &http.Client{Transport: transportRT, Timeout: 30 * time.Second},
		sealer: sealer,
		log:    log,
	}, nil
}

// OpenSession exchanges a token for a server-side session and binds both
// to the client for subsequent sends.
func (c *Client) OpenSession(ctx context.Context, rawToken string) error {
	if c.locked.Load() {
		return ErrClientLocked
	}

	body, err := json.Marshal(createSessionRequest{Token: rawToken})
	if err != nil {
		return err
	}

	var resp createSessionResponse
	if err := c.post(ctx, "/v1/sessions", body, http.StatusCreated, &resp); err != nil {
		return err
	}

	c.token.Store(&rawToken)
	c.sessionID.Store(&resp.SessionID)
	c.log.Info("client.session_opened", "session_id", resp.SessionID, "identity", resp.Identity)
	return nil
}

// Send seals payload and submits it for admission, returning the server's
// admitted plaintext echo. Requires an open session.
func (c *Client) Send(ctx context.Context, payload []byte) ([]byte, error) {
	if c.locked.Load() {
		c.failed.Add(1)
		return nil, ErrClientLocked
	}

	tok, sid := c.token.Load(), c.sessionID.Load()
	if tok == nil || sid == nil {
		c.failed.Add(1)
		return nil, fmt.Errorf("no open session")
	}

	sealed, err := c.sealer.Seal(payload)
	if err != nil {
		c.failed.Add(1)
		return nil, err
	}

	body, err := json.Marshal(admission.Message{
		SessionID: *sid,
		Token:     *tok,
		Payload:   sealed,
	})
	if err != nil {
		c.failed.Add(1)
		return nil, err
	}

	var resp admitResponse
	if err := c.post(ctx, "/v1/admit", body, http.StatusOK, &resp); err != nil {
		c.failed.Add(1)
		return nil, err
	}

	c.transmitted.Add(1)
	return resp.Payload, nil
}

// RenewSession extends the open session's expiry and adopts the returned
// token, which the server may have rotated.
func (c *Client) RenewSession(ctx context.Context) error {
	if c.locked.Load() {
		return ErrClientLocked
	}

	sid := c.sessionID.Load()
	if sid == nil {
		return fmt.Errorf("no open session")
	}

	body, err := json.Marshal(renewSessionRequest{SessionID: *sid})
	if err != nil {
		return err
	}

	var resp renewSessionResponse
	if err := c.post(ctx, "/v1/sessions/renew", body, http.StatusOK, &resp); err != nil {
		return err
	}

	c.token.Store(&resp.Token)
	c.log.Info("client.session_renewed", "session_id", resp.SessionID, "expires_at", resp.ExpiresAt)
	return nil
}

// SetLocked overrides the local lock view.
func (c *Client) SetLocked(locked bool) { c.locked.Store(locked) }

// Counters returns the transmitted/failed totals.
func (c *Client) Counters() (transmitted, failed uint64) {
	return c.transmitted.Load(), c.failed.Load()
}

func (c *Client) post(ctx context.Context, path string, body []byte, wantStatus int, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != wantStatus {
		var er errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		if er.Error.Code == "locked" {
			// Adopt the server view; sends short-circuit until cleared.
			c.locked.Store(true)
			c.log.Warn("client.locked_by_server")
		}
		return &RejectedError{Status: resp.StatusCode, Code: er.Error.Code}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
