// network/connection.go
package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrBackpressure     = errors.New("send buffer full")
	ErrConnectionClosed = errors.New("connection closed")
)

// Connection is one live client socket. Send never blocks: a full buffer
// drops the frame and reports ErrBackpressure.
type Connection interface {
	Send(data []byte) error
	Close() error
	RemoteAddr() net.Addr
	SetHeartbeat(interval time.Duration)
	ReadMessage() ([]byte, error)
}

type WSConnection struct {
	conn      *websocket.Conn
	send      chan []byte
	sendMutex sync.RWMutex
	closed    bool
	heartbeat time.Duration
	activity  func()
}

func NewWSConnection(conn *websocket.Conn, sendBuffer int) *WSConnection {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &WSConnection{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

func (c *WSConnection) Send(data []byte) error {
	c.sendMutex.RLock()
	defer c.sendMutex.RUnlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// WritePump drains the send buffer until ctx ends or the connection closes.
func (c *WSConnection) WritePump(ctx context.Context) {
	var ping <-chan time.Time
	if c.heartbeat > 0 {
		ticker := time.NewTicker(c.heartbeat)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSConnection) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if c.heartbeat > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.heartbeat * 2))
	}
	c.active()
	return data, nil
}

// OnActivity registers fn to run on every inbound frame and pong. Call it
// before the read loop starts.
func (c *WSConnection) OnActivity(fn func()) {
	c.activity = fn
}

func (c *WSConnection) active() {
	if c.activity != nil {
		c.activity()
	}
}

// SetHeartbeat arms the read deadline; pongs and any inbound frame extend it.
func (c *WSConnection) SetHeartbeat(interval time.Duration) {
	c.heartbeat = interval
	_ = c.conn.SetReadDeadline(time.Now().Add(interval * 2))
	c.conn.SetPongHandler(func(string) error {
		c.active()
		return c.conn.SetReadDeadline(time.Now().Add(interval * 2))
	})
}

func (c *WSConnection) SetReadLimit(limit int64) {
	if limit > 0 {
		c.conn.SetReadLimit(limit)
	}
}

// Close stops the write pump; the socket itself is closed once.
func (c *WSConnection) Close() error {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return c.conn.Close()
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
