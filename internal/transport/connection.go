// Package transport implements C8 (the connection registry) and C9 (the
// transport sender) on top of gorilla/websocket: a mutex-guarded map of open
// connections with one reader and one writer goroutine per connection.
package transport

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// expirationWindow is the maximum lifetime of a single connection (§4.8). It
// is checked when a frame arrives: the first frame read after the window has
// passed closes the connection instead of being handled. An idle connection
// is not closed by it.
const expirationWindow = 24 * time.Hour

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 131072 // matches the default LIMITATION_MAX_MESSAGE_LENGTH
)

// Connection is one open WebSocket session, C8's unit of registration.
type Connection struct {
	ID        string
	conn      *websocket.Conn
	send      chan []byte
	createdAt time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(conn *websocket.Conn) *Connection {
	return &Connection{
		ID:        uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, 256),
		createdAt: time.Now(),
		closed:    make(chan struct{}),
	}
}

// Expired reports whether the connection has outlived its 24h budget (§4.8).
func (c *Connection) Expired() bool {
	return time.Since(c.createdAt) > expirationWindow
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		close(c.send)
		c.conn.Close()
	})
}

// Registry is C8's public contract: register, unregister, expire, and look
// up connections, the connection bookkeeping layer underneath the handler
// (C11/C12) and the transport sender (C9). Delivering frames is Sender's job;
// the Registry itself has no broadcast operation.
type Registry struct {
	register   chan *Connection
	unregister chan *Connection

	mu    sync.RWMutex
	conns map[string]*Connection

	onDisconnect func(connID string)
}

// NewRegistry builds a Registry. onDisconnect, if non-nil, is invoked
// whenever a connection is removed (normal close, write failure, or
// expiration) so the subscription registry (C7) can drop its subscriptions.
func NewRegistry(onDisconnect func(connID string)) *Registry {
	return &Registry{
		register:     make(chan *Connection),
		unregister:   make(chan *Connection),
		conns:        make(map[string]*Connection),
		onDisconnect: onDisconnect,
	}
}

// Accept wraps a live *websocket.Conn as a registered Connection and starts
// its read/write pumps. Returns the connection's id.
func (r *Registry) Accept(conn *websocket.Conn, onMessage func(connID string, data []byte)) string {
	c := newConnection(conn)
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go r.writePump(c)
	go r.readPump(c, onMessage)
	return c.ID
}

func (r *Registry) readPump(c *Connection, onMessage func(connID string, data []byte)) {
	defer r.remove(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if c.Expired() {
			return
		}
		onMessage(c.ID, data)
	}
}

func (r *Registry) writePump(c *Connection) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		r.remove(c)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (r *Registry) remove(c *Connection) {
	r.mu.Lock()
	_, existed := r.conns[c.ID]
	delete(r.conns, c.ID)
	r.mu.Unlock()
	if !existed {
		return
	}
	c.close()
	if r.onDisconnect != nil {
		r.onDisconnect(c.ID)
	}
}

// Exists reports whether connID is still registered (§4.9 precondition for
// Send).
func (r *Registry) Exists(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[connID]
	return ok
}

// Count returns the number of currently registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close force-closes connID and removes it from the registry, running the
// disconnect callback. It is a no-op for an unknown connID.
func (r *Registry) Close(connID string) {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	r.remove(c)
}

// Shutdown force-closes every registered connection, called during graceful
// server shutdown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()
	for _, c := range conns {
		r.remove(c)
	}
}
