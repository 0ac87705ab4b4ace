// Package wsconn provides subtransws.Conn adapters for common
// WebSocket libraries.
package wsconn

import (
	"context"

	"github.com/gqlws/subtransws"
	"nhooyr.io/websocket"
)

// NhooyrConn adapts a nhooyr.io/websocket connection.
type NhooyrConn struct {
	conn *websocket.Conn
}

var _ subtransws.Conn = (*NhooyrConn)(nil)

// NewNhooyr wraps an accepted nhooyr.io/websocket connection.
func NewNhooyr(conn *websocket.Conn) *NhooyrConn {
	return &NhooyrConn{
		conn: conn,
	}
}

func (c *NhooyrConn) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *NhooyrConn) Send(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *NhooyrConn) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}
