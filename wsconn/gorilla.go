package wsconn

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gqlws/subtransws"
)

const gorillaCloseTimeout = 5 * time.Second

// GorillaConn adapts a github.com/gorilla/websocket connection.
//
// Gorilla connections support one concurrent reader and one concurrent
// writer, so the adapter serializes writes itself.
type GorillaConn struct {
	conn       *websocket.Conn
	writeMutex sync.Mutex
}

var _ subtransws.Conn = (*GorillaConn)(nil)

// NewGorilla wraps an upgraded gorilla/websocket connection.
func NewGorilla(conn *websocket.Conn) *GorillaConn {
	return &GorillaConn{
		conn: conn,
	}
}

func (c *GorillaConn) Receive(ctx context.Context) ([]byte, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}

	err := c.conn.SetReadDeadline(deadline)
	if err != nil {
		return nil, err
	}

	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *GorillaConn) Send(ctx context.Context, data []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}

	err := c.conn.SetWriteDeadline(deadline)
	if err != nil {
		return err
	}

	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *GorillaConn) Close(code int, reason string) error {
	message := websocket.FormatCloseMessage(code, reason)

	err := c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(gorillaCloseTimeout))

	cerr := c.conn.Close()
	if err == nil {
		err = cerr
	}

	return err
}
