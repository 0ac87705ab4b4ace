// Package wserr declares WebSocket error types and implements functions
// to pass WebSocket errors using context.
package wserr

import (
	"fmt"
)

// CloseError represents a WebSocket close error.
//
// Returning a CloseError from a hook or storing one with
// SetOperationError lets the caller choose the close frame sent to the
// client.
type CloseError struct {
	// Code is sent to the client in the close frame.
	Code int

	// Reason is sent to the client in the close frame.
	Reason string

	Err error
}

func (e CloseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d: %s: %s", e.Code, e.Reason, e.Err.Error())
	}

	return fmt.Sprintf("%d: %s", e.Code, e.Reason)
}

func (e CloseError) Unwrap() error {
	return e.Err
}
