// Package wstransport implements a gqlgen WebSocket transport speaking
// the subscriptions-transport-ws protocol.
package wstransport

import (
	"net/http"
	"sync"

	"github.com/99designs/gqlgen/graphql"
	"github.com/gqlws/subtransws/internal/util"
	"github.com/gqlws/subtransws/wsconn"
	"github.com/gqlws/subtransws/wsserver"
	"github.com/gqlws/subtransws/wsutil"
	"nhooyr.io/websocket"
)

// ProtocolName is the WebSocket subprotocol name used by the
// Sec-WebSocket-Protocol header.
const ProtocolName = "graphql-ws"

// Transport is a gqlgen transport that accepts WebSocket connections
// and runs the subscriptions-transport-ws protocol over them.
//
// Requests advertising a different subprotocol are not supported and
// fall through to the next transport.
type Transport struct {
	// Server handles accepted connections. If nil, a zero-value server
	// is created on first use.
	Server *wsserver.Server

	// AcceptOptions defines options used during the WebSocket handshake.
	AcceptOptions websocket.AcceptOptions

	serverOnce sync.Once
}

var _ graphql.Transport = &Transport{}

func (t *Transport) Supports(r *http.Request) bool {
	if !wsutil.IsUpgrade(r) {
		return false
	}

	if !util.HasHeader(r.Header, "Sec-WebSocket-Protocol") {
		return true
	}

	return util.HeaderContains(r.Header, "Sec-WebSocket-Protocol", ProtocolName)
}

func (t *Transport) Do(w http.ResponseWriter, r *http.Request, exec graphql.GraphExecutor) {
	if len(t.AcceptOptions.Subprotocols) == 0 {
		t.AcceptOptions.Subprotocols = []string{ProtocolName}
	}

	c, err := websocket.Accept(w, r, &t.AcceptOptions)
	if err != nil {
		return
	}

	t.server().Handle(r, wsconn.NewNhooyr(c), exec)
}

func (t *Transport) server() *wsserver.Server {
	t.serverOnce.Do(func() {
		if t.Server == nil {
			t.Server = &wsserver.Server{}
		}
	})

	return t.Server
}
