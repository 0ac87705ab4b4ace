// Package wsutil provides helpers for WebSocket handshake requests and
// object-typed message payloads.
package wsutil

import (
	"net/http"

	"github.com/gqlws/subtransws/internal/util"
)

// IsUpgrade reports whether r asks for a WebSocket upgrade: a GET
// request whose Connection header lists "upgrade" and whose Upgrade
// header lists "websocket".
func IsUpgrade(r *http.Request) bool {
	return r.Method == http.MethodGet &&
		util.HeaderContains(r.Header, "Connection", "upgrade") &&
		util.HeaderContains(r.Header, "Upgrade", "websocket")
}
