package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
)

const handshakeTimeout = 30 * time.Second

// conn is one WebSocket session with the gateway. The gateway answers
// requests in order on a session, so each conn serves one request at a
// time; the pool hands out conns accordingly.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// dial opens a WebSocket session and performs the connect exchange.
func dial(ctx context.Context, cfg ConnectionConfig) (*conn, error) {
	tlsConfig, err := tlsConfigFor(cfg)
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		TLSClientConfig:  tlsConfig,
		HandshakeTimeout: handshakeTimeout,
	}

	u := url.URL{Scheme: "wss", Host: cfg.Endpoint(), Path: "/db/"}
	header := http.Header{}
	header.Set("Authorization", "Basic "+basicAuth(cfg.User, cfg.Password))

	ws, httpResp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if httpResp != nil {
			return nil, errs.Wrap(errs.KindDatabase,
				fmt.Sprintf("gateway handshake with %s rejected (status %d)", cfg.Endpoint(), httpResp.StatusCode), err)
		}
		return nil, errs.Wrap(errs.KindDatabase,
			fmt.Sprintf("failed to reach gateway at %s", cfg.Endpoint()), err)
	}

	c := &conn{ws: ws}
	resp, err := c.roundTrip(ctx, request{
		ID:        uuid.NewString(),
		Type:      typeConnect,
		Technique: "tcp",
	})
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	if !resp.Success {
		_ = ws.Close()
		return nil, errs.Newf(errs.KindDatabase,
			"gateway refused the connection: %s", resp.errorMessage())
	}
	return c, nil
}

func tlsConfigFor(cfg ConnectionConfig) (*tls.Config, error) {
	if cfg.IgnoreUnauthorized {
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // per-source opt-out
	}
	if len(cfg.RootCA) == 0 {
		return &tls.Config{}, nil
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(cfg.RootCA) {
		return nil, errs.New(errs.KindDatabase, "gateway root certificate is not valid PEM")
	}
	return &tls.Config{RootCAs: pool}, nil
}

func basicAuth(user, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
}

// roundTrip sends one request and waits for the matching reply. Replies
// with a different correlation id are discarded; the gateway only produces
// those after a client-side timeout abandoned an earlier request.
func (c *conn) roundTrip(ctx context.Context, req request) (*response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
		_ = c.ws.SetReadDeadline(deadline)
	} else {
		_ = c.ws.SetWriteDeadline(time.Time{})
		_ = c.ws.SetReadDeadline(time.Time{})
	}

	// Unblock the read below when the context is cancelled; the closed
	// socket makes this conn unusable, which the pool handles by
	// discarding it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.ws.Close()
		case <-done:
		}
	}()

	if err := c.ws.WriteJSON(req); err != nil {
		return nil, wrapIO(ctx, "failed to send gateway request", err)
	}

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return nil, wrapIO(ctx, "failed to read gateway response", err)
		}
		resp, err := decodeResponse(raw)
		if err != nil {
			return nil, errs.Wrap(errs.KindDatabase, "protocol error", err)
		}
		if resp.ID == req.ID {
			return resp, nil
		}
	}
}

func wrapIO(ctx context.Context, msg string, err error) error {
	if ctx.Err() != nil {
		return errs.Wrap(errs.KindCancelled, "gateway call cancelled", ctx.Err())
	}
	return errs.Wrap(errs.KindDatabase, msg, err)
}

func (c *conn) close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

func (r *response) errorMessage() string {
	if r.Error != "" {
		return r.Error
	}
	if r.SQLState != "" {
		return fmt.Sprintf("SQLSTATE %s (rc %d)", r.SQLState, r.SQLReturnCode)
	}
	return "unknown gateway error"
}
