package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/lendbus/internal/events"
	"github.com/alfredjeanlab/lendbus/internal/model"
	"github.com/alfredjeanlab/lendbus/internal/registry"
)

// errSendBufferFull is returned by wsConn.Send when the peer is not
// draining its queue.
var errSendBufferFull = errors.New("send buffer full")

// wsConn is the registry.Sink for one WebSocket connection. Send only
// enqueues; the write pump owns every data write to the socket.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

var _ registry.Sink = (*wsConn)(nil)

func newWSConn(conn *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *wsConn) Send(frame []byte) error {
	select {
	case <-c.done:
		return registry.ErrTransportClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close stops the write pump, which closes the socket; the read pump then
// fails and unregisters the connection.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *wsConn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// handleWebSocket handles GET /v1/ws. AuthMiddleware has already rejected
// unauthenticated handshakes with 401.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request.
		slog.Info("server: websocket upgrade failed", "user", id.UserID, "err", err)
		return
	}

	sink := newWSConn(conn, s.sendBuffer)
	// connection:confirmed is queued before the connection joins its private
	// channel, so it is always the first frame the client reads.
	connID, err := s.registry.RegisterGreeted(id, sink, func(connID string) ([]byte, error) {
		now := s.now().UTC()
		return events.Encode("", events.ConnectionConfirmed{
			ConnectionID: connID,
			UserID:       id.UserID,
			Role:         id.Role,
			Timestamp:    now,
		}, now)
	})
	if err != nil {
		slog.Warn("server: register failed", "user", id.UserID, "err", err)
		_ = conn.Close()
		return
	}
	s.metrics.SetConnections(s.registry.Count())

	go s.writePump(sink)
	s.readPump(connID, id, sink)
}

// readPump reads control frames until the socket fails, then unregisters.
// It is the only caller of Unregister for WebSocket connections.
func (s *Server) readPump(connID string, id model.Identity, c *wsConn) {
	defer func() {
		s.registry.Unregister(connID)
		_ = c.Close()
		s.metrics.SetConnections(s.registry.Count())
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	c.conn.SetPongHandler(func(string) error {
		s.registry.Touch(connID)
		return c.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Info("server: websocket read failed", "conn", connID, "user", id.UserID, "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(s.pongWait))
		s.registry.Touch(connID)
		s.handleFrame(connID, c, data)
	}
}

// writePump drains the send queue and pings the peer every 9/10 of the
// pong wait.
func (s *Server) writePump(c *wsConn) {
	ticker := time.NewTicker(s.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.Close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Info("server: websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// handleFrame applies one inbound control frame.
func (s *Server) handleFrame(connID string, c *wsConn, data []byte) {
	f, err := events.ParseFrame(data)
	if err != nil {
		s.metrics.ObserveInbound("invalid")
		s.reply(c, "", events.Error{Code: "bad_frame", Message: err.Error()})
		return
	}
	s.metrics.ObserveInbound(f.Event)

	switch f.Event {
	case events.EventSubscribe:
		if err := s.registry.Subscribe(connID, f.Channel); err != nil {
			s.reply(c, f.Channel, errorFrame(err))
			return
		}
		s.reply(c, f.Channel, events.Subscribed{Channel: f.Channel})

	case events.EventUnsubscribe:
		if err := s.registry.Unsubscribe(connID, f.Channel); err != nil {
			s.reply(c, f.Channel, errorFrame(err))
			return
		}
		s.reply(c, f.Channel, events.Unsubscribed{Channel: f.Channel})

	case events.EventPing:
		s.reply(c, "", events.Pong{Timestamp: s.now().UTC()})

	default:
		s.reply(c, "", events.Error{Code: "unknown_event", Message: "unsupported event " + f.Event})
	}
}

// reply sends a frame to a single connection outside the dispatcher.
func (s *Server) reply(c *wsConn, channel string, p events.Payload) {
	frame, err := events.Encode(channel, p, s.now().UTC())
	if err != nil {
		slog.Error("server: encoding reply", "event", p.EventName(), "err", err)
		return
	}
	if err := c.Send(frame); err != nil {
		slog.Warn("server: reply dropped", "event", p.EventName(), "err", err)
	}
}

func errorFrame(err error) events.Error {
	var (
		ua *model.Unauthorized
		ve *model.ValidationError
	)
	switch {
	case errors.As(err, &ua):
		return events.Error{Code: "unauthorized", Message: ua.Error()}
	case errors.As(err, &ve):
		return events.Error{Code: "invalid_channel", Message: ve.Error()}
	case errors.Is(err, model.ErrNotFound):
		return events.Error{Code: "not_connected", Message: err.Error()}
	default:
		return events.Error{Code: "internal", Message: err.Error()}
	}
}
