// Package broadcast fans detection events out to every connected client.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/viewersense/internal/event"
)

// DefaultSendTimeout bounds how long a single client may take to accept a message.
const DefaultSendTimeout = 2 * time.Second

// ErrClosed is returned by Register after the hub has been closed.
var ErrClosed = errors.New("broadcast: hub closed")

// Conn is one client connection as seen by the hub.
type Conn interface {
	// Send writes one message, giving up when ctx is done.
	Send(ctx context.Context, msg []byte) error
	// Close tears the connection down. It may be called more than once.
	Close() error
}

// Shutdowner is a Conn that can tell its peer the server is going away.
// Close uses Shutdown instead of Close for such connections.
type Shutdowner interface {
	Conn
	Shutdown() error
}

// Client describes a registered connection.
type Client struct {
	ID          string
	Remote      string
	ConnectedAt time.Time
	conn        Conn
}

// Config holds hub options.
type Config struct {
	// SendTimeout bounds each per-client send (default DefaultSendTimeout).
	SendTimeout time.Duration
	// Logger receives connect, disconnect and drop messages.
	Logger *slog.Logger
}

// Result summarizes one broadcast.
type Result struct {
	Delivered int
	Dropped   int
}

// Hub is the live client registry. Registration, removal and broadcast may be
// called from any goroutine; each Broadcast works on a snapshot of the
// registry taken when it starts.
type Hub struct {
	mu       sync.RWMutex
	clients  map[Conn]*Client
	closed   bool
	inflight sync.WaitGroup

	sendTimeout time.Duration
	logger      *slog.Logger

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub(cfg Config) *Hub {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		clients:     make(map[Conn]*Client),
		sendTimeout: cfg.SendTimeout,
		logger:      cfg.Logger.With("component", "broadcast"),
	}
}

// Register adds conn to the live set. Past events are not replayed.
func (h *Hub) Register(conn Conn, remote string) (*Client, error) {
	c := &Client{
		ID:          uuid.NewString(),
		Remote:      remote,
		ConnectedAt: time.Now(),
		conn:        conn,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.clients[conn] = c
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client connected", "client", c.ID, "remote", remote, "clients", count)
	return c, nil
}

// Unregister removes conn from the live set. Removing an absent connection is
// a no-op; the return value reports whether conn was registered.
func (h *Hub) Unregister(conn Conn) bool {
	h.mu.Lock()
	c, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.logger.Info("client disconnected", "client", c.ID, "remote", c.Remote, "clients", count)
	}
	return ok
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients returns a snapshot of the registered clients.
func (h *Hub) Clients() []Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, *c)
	}
	return out
}

// Stats returns the lifetime delivered and dropped message counts.
func (h *Hub) Stats() (delivered, dropped uint64) {
	return h.delivered.Load(), h.dropped.Load()
}

// Broadcast encodes ev once and sends it to every client registered when the
// call starts. Sends run concurrently, each bounded by the send timeout; a
// client whose send fails is unregistered and closed. Failures never reach
// the caller.
func (h *Hub) Broadcast(ctx context.Context, ev event.DetectionEvent) (Result, error) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return Result{}, fmt.Errorf("encode event: %w", err)
	}
	return h.BroadcastRaw(ctx, msg), nil
}

// BroadcastRaw sends an already-encoded message; see Broadcast. After Close
// it sends nothing.
func (h *Hub) BroadcastRaw(ctx context.Context, msg []byte) Result {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return Result{}
	}
	h.inflight.Add(1)
	defer h.inflight.Done()
	snapshot := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	if len(snapshot) == 0 {
		return Result{}
	}

	failed := make([]error, len(snapshot))
	var wg sync.WaitGroup
	for i, c := range snapshot {
		wg.Add(1)
		go func(i int, c *Client) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
			defer cancel()
			failed[i] = c.conn.Send(sendCtx, msg)
		}(i, c)
	}
	wg.Wait()

	var res Result
	for i, c := range snapshot {
		if failed[i] == nil {
			res.Delivered++
			continue
		}
		// Abandoned because the caller gave up, not because the client failed;
		// the client stays registered for Close.
		if ctx.Err() != nil && errors.Is(failed[i], ctx.Err()) {
			continue
		}
		res.Dropped++
		h.drop(c, failed[i])
	}

	h.delivered.Add(uint64(res.Delivered))
	h.dropped.Add(uint64(res.Dropped))
	return res
}

// drop unregisters and closes a client after a failed send.
func (h *Hub) drop(c *Client, cause error) {
	if h.Unregister(c.conn) {
		h.logger.Warn("dropped client after failed send", "client", c.ID, "remote", c.Remote, "error", cause)
	}
	if err := c.conn.Close(); err != nil {
		h.logger.Debug("close after failed send", "client", c.ID, "error", err)
	}
}

// Close stops accepting registrations and broadcasts, waits for broadcasts
// already sending, then empties the registry and shuts every connection down.
// Sends are bounded by the send timeout, so the wait is too. It is safe to
// call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.inflight.Wait()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[Conn]*Client)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for conn, c := range clients {
		wg.Add(1)
		go func(conn Conn, c *Client) {
			defer wg.Done()
			if err := shutdown(conn); err != nil {
				h.logger.Debug("close client", "client", c.ID, "error", err)
			}
		}(conn, c)
	}
	wg.Wait()

	h.logger.Info("hub closed", "clients", len(clients))
}

func shutdown(conn Conn) error {
	if s, ok := conn.(Shutdowner); ok {
		return s.Shutdown()
	}
	return conn.Close()
}
