package channel

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketDialer dials push channels over WebSocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
	header http.Header
	limit  int64
}

// WebsocketConfig tunes the WebSocket transport.
type WebsocketConfig struct {
	HandshakeTimeout time.Duration
	ReadLimitBytes   int64
	Header           http.Header
}

// NewWebsocketDialer builds a dialer from cfg.
func NewWebsocketDialer(cfg WebsocketConfig) *WebsocketDialer {
	d := *websocket.DefaultDialer
	if cfg.HandshakeTimeout > 0 {
		d.HandshakeTimeout = cfg.HandshakeTimeout
	}
	return &WebsocketDialer{dialer: &d, header: cfg.Header, limit: cfg.ReadLimitBytes}
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if d.limit > 0 {
		conn.SetReadLimit(d.limit)
	}
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("websocket read: %w", err)
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *websocketConn) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("websocket close: %w", err)
	}
	return nil
}
