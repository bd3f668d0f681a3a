// Package invoke issues backend commands with a client-side timeout and a
// bounded number of retries.
package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mgomes/sefind/internal/retry"
	"github.com/mgomes/sefind/internal/transport"
)

// Request describes one command call. A zero Timeout takes the command's
// entry in the timeout table, then the gateway default. MaxRetries is used
// as given; build requests with Gateway.Request to pick up the table value.
type Request struct {
	Name       string
	Payload    any
	Timeout    time.Duration
	MaxRetries int
}

// Outcome holds either Value or Err, never both. Err is always an *Error.
type Outcome struct {
	Value    json.RawMessage
	Err      error
	Attempts int
}

type Gateway struct {
	tr       transport.Transport
	clock    clockwork.Clock
	defaults Budget
	table    map[string]Budget
	onFail   AttemptFunc
}

// AttemptFunc observes an attempt that failed. attempt counts from 1.
type AttemptFunc func(command string, attempt int, err error)

type Option func(*Gateway)

func WithClock(c clockwork.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// WithDefaults sets the fallback timeout for commands missing from the
// table and the retry count for every command that does not set its own.
func WithDefaults(timeout time.Duration, retries int) Option {
	return func(g *Gateway) {
		if timeout > 0 {
			g.defaults.Timeout = timeout
		}
		if retries >= 0 {
			g.defaults.Retries = retries
		}
	}
}

// WithBudget overrides the table entry for one command.
func WithBudget(command string, b Budget) Option {
	return func(g *Gateway) { g.table[command] = b }
}

// WithAttemptHook reports every failed attempt to fn. The gateway itself
// never logs.
func WithAttemptHook(fn AttemptFunc) Option {
	return func(g *Gateway) { g.onFail = fn }
}

func New(tr transport.Transport, opts ...Option) *Gateway {
	g := &Gateway{
		tr:       tr,
		clock:    clockwork.NewRealClock(),
		defaults: Budget{Timeout: DefaultTimeout, Retries: DefaultRetries},
		table:    DefaultTable(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Budget returns the timeout and retry budget the gateway uses for command.
func (g *Gateway) Budget(command string) Budget {
	b, ok := g.table[command]
	if !ok {
		return g.defaults
	}
	if b.Timeout <= 0 {
		b.Timeout = g.defaults.Timeout
	}
	if b.Retries < 0 {
		b.Retries = g.defaults.Retries
	}
	return b
}

// Request builds a request carrying the command's configured budget.
func (g *Gateway) Request(command string, payload any) Request {
	s := g.Budget(command)
	return Request{Name: command, Payload: payload, Timeout: s.Timeout, MaxRetries: s.Retries}
}

// Invoke runs req until an attempt succeeds or MaxRetries additional
// attempts have failed. Attempts follow each other without a pause. A
// cancelled ctx ends the call without further attempts.
func (g *Gateway) Invoke(ctx context.Context, req Request) Outcome {
	if req.Timeout <= 0 {
		req.Timeout = g.Budget(req.Name).Timeout
	}

	var value json.RawMessage
	policy := retry.Policy{MaxRetries: req.MaxRetries}
	attempts, err := retry.Do(ctx, g.clock, policy, func(ctx context.Context, _ int) error {
		v, err := g.attempt(ctx, req)
		if err != nil {
			return err
		}
		value = v
		return nil
	}, func(attempt int, err error) {
		if g.onFail != nil {
			g.onFail(req.Name, attempt, err)
		}
	})
	if err != nil {
		return Outcome{
			Err:      &Error{Command: req.Name, Kind: classify(err), Attempts: attempts, Err: err},
			Attempts: attempts,
		}
	}
	return Outcome{Value: value, Attempts: attempts}
}

func (g *Gateway) attempt(ctx context.Context, req Request) (json.RawMessage, error) {
	type result struct {
		value json.RawMessage
		err   error
	}

	// Buffered so a call finishing after the timeout does not block forever.
	ch := make(chan result, 1)
	go func() {
		v, err := g.tr.Call(ctx, req.Name, req.Payload)
		ch <- result{value: v, err: err}
	}()

	timer := g.clock.NewTimer(req.Timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-timer.Chan():
		return nil, fmt.Errorf("%w after %s", ErrTimeout, req.Timeout)
	case <-ctx.Done():
		return nil, retry.Permanent(ctx.Err())
	}
}

// Call invokes req and decodes the result into T. An empty or null result
// yields the zero value.
func Call[T any](ctx context.Context, g *Gateway, req Request) (T, error) {
	var zero T
	out := g.Invoke(ctx, req)
	if out.Err != nil {
		return zero, out.Err
	}
	if len(out.Value) == 0 || string(out.Value) == "null" {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(out.Value, &v); err != nil {
		return zero, fmt.Errorf("failed to decode %s result: %w", req.Name, err)
	}
	return v, nil
}
