package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a message-oriented bidirectional connection
type Conn interface {
	WriteMessage(data []byte) error
	ReadMessage() ([]byte, error)
	Close(code int, reason string) error
}

// Dialer opens connections to the realtime backend
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial connects and wraps the socket for concurrent writes
func (d WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, fmt.Errorf("handshake failed with status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), err)
		}
		return nil, err
	}

	return &safeConn{conn: conn}, nil
}

// safeConn serializes writes on a websocket connection; reads need no lock
// because only the session's read loop reads
type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *safeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *safeConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *safeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

// closeCode extracts the websocket close code from a read error.
// Errors that are not close frames count as abnormal closure.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

// toWebSocketBase converts an http(s) base URL to the corresponding ws(s) URL.
// e.g. https://api.example -> wss://api.example
func toWebSocketBase(httpBase string) string {
	b := strings.TrimRight(httpBase, "/")
	if strings.HasPrefix(b, "https://") {
		return "wss://" + strings.TrimPrefix(b, "https://")
	} else if strings.HasPrefix(b, "http://") {
		return "ws://" + strings.TrimPrefix(b, "http://")
	}
	// If the provided base already looks like ws:// or wss://, return as-is.
	return b
}
