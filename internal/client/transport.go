package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

// Transport is one live connection to the event server.
type Transport interface {
	// Send writes one frame. It is safe to call concurrently.
	Send(frame []byte) error
	// Receive blocks for the next frame. It fails once the transport closes.
	Receive() ([]byte, error)
	Close() error
	Connected() bool
}

// Dialer opens transports. A rejected token must surface as *model.AuthError.
type Dialer interface {
	Dial(ctx context.Context, url, token string) (Transport, error)
}

// WebSocketURL turns an HTTP base URL into the event channel endpoint.
func WebSocketURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	if !strings.HasSuffix(u, "/v1/ws") {
		u += "/v1/ws"
	}
	return u
}

// WSDialer dials the server's WebSocket endpoint with gorilla/websocket.
type WSDialer struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// WriteTimeout bounds each frame write. Default 10s.
	WriteTimeout time.Duration
}

func (d WSDialer) Dial(ctx context.Context, url, token string) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, url, hdr)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, &model.AuthError{Reason: handshakeReason(resp), Err: err}
		}
		return nil, err
	}

	wt := d.WriteTimeout
	if wt <= 0 {
		wt = 10 * time.Second
	}
	return &wsTransport{conn: conn, writeTimeout: wt}, nil
}

func handshakeReason(resp *http.Response) string {
	if resp.Body == nil {
		return "handshake rejected"
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return "handshake rejected"
}

type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  atomic.Bool
}

func (t *wsTransport) Send(frame []byte) error {
	if t.closed.Load() {
		return ErrNotConnected
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.closed.Store(true)
		return err
	}
	return nil
}

func (t *wsTransport) Receive() ([]byte, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			t.closed.Store(true)
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	err := t.conn.Close()
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (t *wsTransport) Connected() bool {
	return !t.closed.Load()
}
