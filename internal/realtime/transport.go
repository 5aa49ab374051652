package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one open bidirectional connection. ReadMessage blocks until
// a frame arrives or the transport fails.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

type WebSocketDialer struct {
	dialer *websocket.Dialer
	header http.Header
}

func NewWebSocketDialer(dialer *websocket.Dialer, header http.Header) *WebSocketDialer {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return &WebSocketDialer{
		dialer,
		header,
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, d.header)
	if err != nil {
		return nil, err
	}

	return NewWebSocketTransport(conn), nil
}

type WebSocketTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{
		conn: conn,
	}
}

func (t *WebSocketTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *WebSocketTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal closure frame before closing the socket.
func (t *WebSocketTransport) Close() error {
	t.writeMu.Lock()
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()

	return t.conn.Close()
}

// IsNormalClosure reports whether err ends a transport cleanly, as opposed
// to an abnormal close that warrants a reconnect.
func IsNormalClosure(err error) bool {
	if err == nil {
		return true
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure
	}

	return false
}
