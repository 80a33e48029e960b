package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/viewersense/internal/broadcast"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// closeWait bounds the close handshake frame on shutdown
	closeWait = time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// WebSocketHandler upgrades requests and registers each connection with the
// hub. Clients only listen; anything they send is read and dropped.
type WebSocketHandler struct {
	hub        *broadcast.Hub
	logger     *slog.Logger
	readLimit  int64
	pingPeriod time.Duration
	pongWait   time.Duration
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newWSConn(conn)
	if _, err := h.hub.Register(c, r.RemoteAddr); err != nil {
		c.Shutdown()
		return
	}
	defer func() {
		h.hub.Unregister(c)
		c.Close()
	}()

	go c.pingLoop(h.pingPeriod)
	c.readPump(h.readLimit, h.pongWait)
}

var _ broadcast.Shutdowner = (*wsConn)(nil)

// wsConn adapts a gorilla connection to broadcast.Conn.
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn, done: make(chan struct{})}
}

// Send writes msg as one text frame. The write deadline is the earlier of
// writeWait and the ctx deadline.
func (c *wsConn) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Close sends a normal close frame and closes the socket. It is used when the
// peer hangs up, stops answering pings or fails a send.
func (c *wsConn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

// Shutdown sends a going-away close frame and closes the socket.
func (c *wsConn) Shutdown() error {
	return c.closeWith(websocket.CloseGoingAway, "server shutting down")
}

// closeWith closes the connection; only the first call has an effect.
func (c *wsConn) closeWith(code int, reason string) error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(code, reason)
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// readPump reads until the peer goes away or stops answering pings.
func (c *wsConn) readPump(limit int64, wait time.Duration) {
	c.conn.SetReadLimit(limit)
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

func (c *wsConn) pingLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
