// Package wsserver implements the subscriptions-transport-ws protocol
// state machine on top of the subtransws.Conn capability.
package wsserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/google/uuid"
	"github.com/gqlws/subtransws"
	"github.com/gqlws/subtransws/wserr"
	"github.com/gqlws/subtransws/wsutil"
	"github.com/jensneuse/abstractlogger"
	"nhooyr.io/websocket"
)

const defaultInitTimeout = 3 * time.Second

// Server runs the subscriptions-transport-ws protocol over accepted
// connections and keeps a directory of the live ones for shutdown.
//
// The zero value is a working server that accepts every connection.
type Server struct {
	// InitFunc is called after receiving the "connection_init" message
	// with the WebSocket handshake HTTP request and the message payload.
	//
	// The returned Context, if not nil, is provided to GraphQL
	// resolvers. When the Context is done, the connection is also
	// closed.
	//
	// The returned ObjectPayload, if not nil, is used as the payload for
	// the "connection_ack" message.
	//
	// If a non-nil error is returned, a "connection_error" message is
	// sent and the connection is closed.
	//
	// If InitFunc is nil, all connections are accepted.
	InitFunc func(*http.Request, wsutil.ObjectPayload) (context.Context, wsutil.ObjectPayload, error)

	// CloseFunc is called once after the connection has been torn down
	// and every operation cancelled, with the connection context.
	CloseFunc func(context.Context)

	// InitTimeout is the duration to wait for a "connection_init"
	// message before closing the connection.
	//
	// Defaults to 3 seconds.
	InitTimeout time.Duration

	// If KeepAliveInterval is set, a "ka" message is sent after
	// "connection_ack" and then whenever no message has been received
	// for the specified duration.
	KeepAliveInterval time.Duration

	// Logger receives protocol-level events. Defaults to
	// abstractlogger.NoopLogger.
	Logger abstractlogger.Logger

	mu    sync.Mutex
	conns map[*connection]struct{}
}

// Handle runs the protocol on conn until the connection terminates. It
// blocks for the lifetime of the connection.
//
// The request is the WebSocket handshake request; its context is the
// parent of every operation started on the connection.
func (s *Server) Handle(r *http.Request, conn subtransws.Conn, exec graphql.GraphExecutor) {
	logger := s.Logger
	if logger == nil {
		logger = abstractlogger.NoopLogger
	}

	initTimeout := s.InitTimeout
	if initTimeout.Nanoseconds() <= 0 {
		initTimeout = defaultInitTimeout
	}

	c := &connection{
		server:      s,
		id:          uuid.NewString(),
		conn:        conn,
		req:         r,
		ctx:         r.Context(),
		exec:        exec,
		logger:      logger,
		initTimeout: initTimeout,
		done:        make(chan struct{}),
	}

	s.track(c)
	defer s.untrack(c)

	c.handle()
}

// CloseAll closes every live connection. Each connection then drains
// and cancels its own operations.
func (s *Server) CloseAll() {
	s.mu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close(wserr.CloseError{
			Code:   int(websocket.StatusGoingAway),
			Reason: "server shutting down",
		})
	}
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.conns)
}

func (s *Server) track(c *connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conns == nil {
		s.conns = make(map[*connection]struct{})
	}

	s.conns[c] = struct{}{}
}

func (s *Server) untrack(c *connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, c)
}
