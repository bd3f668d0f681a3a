package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
)

// Dispatcher executes commands and publishes events. *backend.Backend
// implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, command string, args json.RawMessage) (json.RawMessage, error)
	Subscribe(stream string, fn func(json.RawMessage)) func()
}

// Local runs commands against a backend in the same process.
type Local struct {
	d      Dispatcher
	closed atomic.Bool
}

func NewLocal(d Dispatcher) *Local {
	return &Local{d: d}
}

// Call runs the command on its own goroutine so a caller that gives up does
// not wait for the backend to finish.
func (l *Local) Call(ctx context.Context, command string, payload any) (json.RawMessage, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	args, err := encodeArgs(payload)
	if err != nil {
		return nil, err
	}

	type result struct {
		out json.RawMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := l.d.Dispatch(ctx, command, args)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.Canceled) || errors.Is(r.err, context.DeadlineExceeded) {
				return nil, r.err
			}
			return nil, &RemoteError{Command: command, Message: r.err.Error()}
		}
		return r.out, nil
	}
}

func (l *Local) Listen(ctx context.Context, stream string, h Handler) (func(), error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.d.Subscribe(stream, func(p json.RawMessage) { h(p) }), nil
}

// Close makes later calls fail with ErrClosed. Attached handlers stay
// attached until released.
func (l *Local) Close() error {
	l.closed.Store(true)
	return nil
}

func encodeArgs(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}
	return data, nil
}
