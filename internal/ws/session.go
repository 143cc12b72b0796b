package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 10
)

// ConnInfo describes who is behind a websocket connection.
type ConnInfo struct {
	ConnID      string
	UserID      int64
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Conn is a websocket Session with a bounded outbound buffer.
type Conn struct {
	conn      *websocket.Conn
	info      ConnInfo
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewConn wraps an upgraded connection. buffer bounds the queued outbound frames.
func NewConn(conn *websocket.Conn, info ConnInfo, buffer int, logger *slog.Logger) *Conn {
	if info.ConnID == "" {
		info.ConnID = uuid.NewString()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Conn{
		conn:   conn,
		info:   info,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		logger: logger.With("conn_id", info.ConnID, "user_id", info.UserID),
	}
}

func (c *Conn) ID() string {
	return c.info.ConnID
}

func (c *Conn) UserID() int64 {
	return c.info.UserID
}

func (c *Conn) Info() ConnInfo {
	return c.info
}

func (c *Conn) Deliver(payload []byte) bool {
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

// Close stops the write pump, which closes the socket.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once the connection is shutting down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// WritePump drains the outbound buffer and keeps the peer alive with pings.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("websocket write failed", "err", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// ReadPump hands every inbound text frame to handle until the peer goes away,
// then returns the cause.
func (c *Conn) ReadPump(handle func(payload []byte)) error {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.Close()
			return err
		}
		if kind == websocket.TextMessage && handle != nil {
			handle(payload)
		}
	}
}
