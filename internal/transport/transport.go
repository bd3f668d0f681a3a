// Package transport carries commands and event streams between the client
// coordinators and the backend, either in process or over a websocket.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed is returned by calls on a transport that has shut down.
var ErrClosed = errors.New("transport closed")

// Handler receives one event payload. Payloads on a single stream arrive in
// the order they were published.
type Handler func(payload json.RawMessage)

type Transport interface {
	// Call runs one command and returns its JSON result. It blocks until the
	// backend answers or ctx is done.
	Call(ctx context.Context, command string, payload any) (json.RawMessage, error)

	// Listen attaches h to stream. The returned function detaches it and is
	// safe to call more than once.
	Listen(ctx context.Context, stream string, h Handler) (func(), error)
}

// RemoteError is a failure the backend reported while executing a command,
// as opposed to a failure to reach it.
type RemoteError struct {
	Command string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}
