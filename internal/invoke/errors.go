package invoke

import (
	"context"
	"errors"
	"fmt"

	"github.com/mgomes/sefind/internal/transport"
)

// ErrTimeout marks an attempt the gateway stopped waiting for. The backend
// may still finish the command.
var ErrTimeout = errors.New("command timed out")

type Kind int

const (
	KindTimeout Kind = iota + 1
	KindTransport
	KindBackend
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindBackend:
		return "backend"
	default:
		return "unknown"
	}
}

// Error is the terminal failure of a command after every attempt was used.
// Err is the error of the last attempt.
type Error struct {
	Command  string
	Kind     Kind
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s) (%s): %v", e.Command, e.Attempts, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func classify(err error) Kind {
	var remote *transport.RemoteError
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &remote):
		return KindBackend
	default:
		return KindTransport
	}
}

// IsTimeout reports whether err ended in a client-side timeout.
func IsTimeout(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindTimeout
	}
	return errors.Is(err, ErrTimeout)
}
