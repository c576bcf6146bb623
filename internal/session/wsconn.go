package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// closeGrace bounds the close handshake write.
const closeGrace = time.Second

// WSConn adapts a gorilla WebSocket connection to Conn.
//
// gorilla allows one concurrent writer; every write goes through mu so the
// dispatcher, the ping loop and the read loop's replies can share the socket.
type WSConn struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewWSConn wraps conn with a fresh transport ID.
func NewWSConn(conn *websocket.Conn, writeTimeout time.Duration) *WSConn {
	return &WSConn{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// ID returns the transport ID.
func (c *WSConn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address as host:port.
func (c *WSConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Send writes v as a JSON text frame.
func (c *WSConn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	//nolint:errcheck // write error is reported below
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Ping writes a protocol-level ping.
func (c *WSConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// CloseWith sends a close frame carrying code and reason, then closes the
// socket.
func (c *WSConn) CloseWith(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	//nolint:errcheck // best effort, the socket is closed regardless
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(closeGrace),
	)
	return c.conn.Close()
}

// Close closes the socket without a close frame.
func (c *WSConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Closed reports whether Close or CloseWith has been called.
func (c *WSConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
