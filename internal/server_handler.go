package internal

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	handshakeTimeout = 15 * time.Second

	// DefaultMaxFrameSize bounds one inbound frame.
	DefaultMaxFrameSize = 1 << 20
)

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: handshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// wsConn adapts a gorilla connection to Conn.
type wsConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(conn *websocket.Conn, maxFrameSize int64) *wsConn {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &wsConn{conn: conn}
}

// ReadFrame returns the next text frame. Binary frames are skipped.
func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return payload, nil
		}
	}
}

func (c *wsConn) WriteFrame(payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close asks the peer to close, then drops the socket. Safe to call more than once.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
