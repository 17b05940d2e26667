package loops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	"aegis/cmd/internal/admission"
	"aegis/cmd/internal/sandbox"
)

const (
	wsSubprotocol = "aegis.trust.v1"

	wsMaxFrameBytes   = 128 * 1024
	wsWriteTimeout    = 5 * time.Second
	wsReadIdleTimeout = 2 * time.Minute

	// Origin is required by default and only localhost is allowed, so a
	// dev instance is not reachable from arbitrary pages.
	wsDefaultAllowedOrigins = "https://localhost,http://localhost,http://127.0.0.1"
)

type wsAck struct {
	Admitted bool   `json:"admitted"`
	Code     string `json:"code,omitempty"`
}

// WSGateway feeds the external loop from websocket peers. Every envelope
// runs through the full admission path and the per-message verdict goes
// back on the same connection.
type WSGateway struct {
	external *Adapter
	log      *slog.Logger

	allowedOrigins []string
	originPatterns []string
}

// NewWSGateway builds the gateway over the external loop's adapter.
func NewWSGateway(external *Adapter, log *slog.Logger) (*WSGateway, error) {
	if external == nil || external.Kind() != KindExternal || log == nil {
		return nil, ErrConfig
	}

	allowed := wsDefaultAllowedOrigins
	if v := os.Getenv("AEGIS_WS_ALLOWED_ORIGINS"); v != "" {
		allowed = v
	}

	g := &WSGateway{external: external, log: log}
	for _, o := range strings.Split(allowed, ",") {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		g.allowedOrigins = append(g.allowedOrigins, o)
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			g.originPatterns = append(g.originPatterns, u.Host)
		}
	}
	return g, nil
}

// ServeHTTP upgrades the request and runs the envelope loop.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && !g.originAllowed(origin) {
		g.log.Info("ws.reject.origin", "origin", origin, "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{wsSubprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(wsMaxFrameBytes)
	g.run(r.Context(), conn)
}

func (g *WSGateway) run(ctx context.Context, conn *websocket.Conn) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, wsReadIdleTimeout)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return
			}
			g.log.Info("ws.read.fail", "err", err)
			return
		}

		var msg admission.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			g.writeAck(ctx, conn, wsAck{Admitted: false, Code: "bad_envelope"})
			continue
		}

		ack := wsAck{Admitted: true}
		if err := g.external.Process(ctx, msg, time.Now().UTC()); err != nil {
			ack = wsAck{Admitted: false, Code: rejectCode(err)}
		}
		g.writeAck(ctx, conn, ack)
	}
}

func (g *WSGateway) writeAck(ctx context.Context, conn *websocket.Conn, ack wsAck) {
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		g.log.Info("ws.write.fail", "err", err)
	}
}

func (g *WSGateway) originAllowed(origin string) bool {
	for _, o := range g.allowedOrigins {
		if strings.EqualFold(origin, o) || strings.HasPrefix(strings.ToLower(origin), strings.ToLower(o)+":") {
			return true
		}
	}
	return false
}

// rejectCode flattens a pipeline error to a wire code.
func rejectCode(err error) string {
	switch {
	case err == admission.ErrServerLocked:
		return "locked"
	case err == admission.ErrNoActiveSession:
		return "no_session"
	case err == admission.ErrSandboxNotSynchronized:
		return "not_synchronized"
	case err == sandbox.ErrSyncTimeout:
		return "lock_timeout"
	case err == admission.ErrDecryptionFailed:
		return "decrypt_failed"
	case err == admission.ErrAnomalyDetected:
		return "anomaly"
	default:
		var ite *admission.InvalidTokenError
		if errors.As(err, &ite) {
			return "invalid_token"
		}
		return "rejected"
	}
}
