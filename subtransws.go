// Package subtransws implements the server side of the
// subscriptions-transport-ws GraphQL protocol (WebSocket subprotocol
// "graphql-ws").
//
// The protocol logic lives in the wsserver package and only ever talks
// to a client through the Conn capability, so hosting a different
// WebSocket library means writing an adapter, not touching the server.
// Adapters for nhooyr.io/websocket and github.com/gorilla/websocket are
// provided by the wsconn package, and wstransport exposes the server as
// a gqlgen transport.
package subtransws

import "context"

// Conn is the duplex message channel the protocol server runs on.
//
// Each hosting transport provides one implementation. Frames are
// complete messages; Receive returns an error once the underlying
// transport is closed.
type Conn interface {
	// Receive returns the next inbound frame.
	Receive(ctx context.Context) ([]byte, error)

	// Send writes a single outbound frame.
	Send(ctx context.Context, data []byte) error

	// Close closes the transport with a close code and reason.
	Close(code int, reason string) error
}
