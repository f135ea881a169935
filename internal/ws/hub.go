package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Application close codes.
const (
	CloseSuperseded = 4001
	CloseAuthFailed = 4003
)

// Conn is the write side of a websocket connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ClientOptions bounds a client's outbound queue and writes.
type ClientOptions struct {
	SendBuffer int
	WriteWait  time.Duration
	PingPeriod time.Duration
}

// Client is one authenticated connection. All writes to conn go through writePump.
type Client struct {
	UserID int64
	Info   ConnInfo

	conn Conn
	opts ClientOptions
	send chan []byte
	done chan struct{}

	closeOnce  sync.Once
	mu         sync.Mutex
	superseded bool
	log        *zap.Logger
}

// NewClient wraps conn for info.UserID. Call Start to begin writing.
func NewClient(conn Conn, info ConnInfo, opts ClientOptions, log *zap.Logger) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &Client{
		UserID: info.UserID,
		Info:   info,
		conn:   conn,
		opts:   opts,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
		log:    log.With(zap.Int64("user_id", info.UserID), zap.String("conn_id", info.ConnID)),
	}
}

// Start launches the writer goroutine.
func (c *Client) Start() {
	go c.writePump()
}

// Send encodes event and queues it without blocking.
func (c *Client) Send(event any) bool {
	payload, err := encode(event)
	if err != nil {
		c.log.Error("encode event failed", zap.Error(err))
		return false
	}
	return c.enqueue(payload)
}

func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame with code and tears down the socket. Only the first call acts.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.opts.WriteWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.conn.Close()
	})
}

// Superseded reports whether a newer connection for the same user replaced this one.
func (c *Client) Superseded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.superseded
}

func (c *Client) markSuperseded() {
	c.mu.Lock()
	c.superseded = true
	c.mu.Unlock()
}

func (c *Client) writePump() {
	var tick <-chan time.Time
	if c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Debug("websocket write failed", zap.Error(err))
				c.Close(websocket.CloseGoingAway, "write failed")
				return
			}
		case <-tick:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.log.Debug("websocket ping failed", zap.Error(err))
				c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

// Hub is the registry of live connections, at most one per user.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]*Client
	log     *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{clients: make(map[int64]*Client), log: log}
}

// Register installs c as the live connection for its user. A previous connection is
// marked superseded and closed before c is installed. The hub lock is not held while
// the previous socket is closed.
func (h *Hub) Register(c *Client) {
	for {
		h.mu.Lock()
		prev, ok := h.clients[c.UserID]
		if !ok || prev == c {
			h.clients[c.UserID] = c
			h.mu.Unlock()
			return
		}
		prev.markSuperseded()
		delete(h.clients, c.UserID)
		h.mu.Unlock()

		prev.Close(CloseSuperseded, "superseded by a newer connection")
		h.log.Info("connection superseded", zap.Int64("user_id", c.UserID), zap.String("conn_id", prev.Info.ConnID))
	}
}

// Unregister removes c if it is still the registered connection for its user.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.UserID] != c {
		return false
	}
	delete(h.clients, c.UserID)
	return true
}

// Release unregisters c and reports whether its user is left with no live connection.
// It is false when c was superseded or when another connection for the user is
// already registered, e.g. after c was evicted and the user reconnected.
func (h *Hub) Release(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.UserID]; ok {
		if cur != c {
			return false
		}
		delete(h.clients, c.UserID)
	}
	return !c.Superseded()
}

// Lookup returns the live connection for userID.
func (h *Hub) Lookup(userID int64) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[userID]
	return c, ok
}

// IsOnline reports whether userID has a live connection.
func (h *Hub) IsOnline(userID int64) bool {
	_, ok := h.Lookup(userID)
	return ok
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendTo queues event for userID. A client that cannot take it is evicted.
func (h *Hub) SendTo(userID int64, event any) bool {
	c, ok := h.Lookup(userID)
	if !ok {
		return false
	}
	payload, err := encode(event)
	if err != nil {
		h.log.Error("encode event failed", zap.Error(err))
		return false
	}
	return h.deliver(c, payload)
}

// SendToMany queues event for each user id and returns how many accepted it.
func (h *Hub) SendToMany(userIDs []int64, event any) int {
	if len(userIDs) == 0 {
		return 0
	}
	payload, err := encode(event)
	if err != nil {
		h.log.Error("encode event failed", zap.Error(err))
		return 0
	}
	var sent int
	for _, id := range userIDs {
		if c, ok := h.Lookup(id); ok && h.deliver(c, payload) {
			sent++
		}
	}
	return sent
}

// Broadcast queues event for every live connection except exclude.
func (h *Hub) Broadcast(event any, exclude int64) int {
	payload, err := encode(event)
	if err != nil {
		h.log.Error("encode event failed", zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		if id != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	var sent int
	for _, c := range targets {
		if h.deliver(c, payload) {
			sent++
		}
	}
	return sent
}

func (h *Hub) deliver(c *Client, payload []byte) bool {
	if c.enqueue(payload) {
		return true
	}
	if h.Unregister(c) {
		h.log.Warn("evicting unresponsive connection", zap.Int64("user_id", c.UserID), zap.String("conn_id", c.Info.ConnID))
		go c.Close(websocket.ClosePolicyViolation, "send queue full")
	}
	return false
}
