// Package events attaches handlers to backend event streams as a group and
// releases them together.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mgomes/sefind/internal/logging"
	"github.com/mgomes/sefind/internal/retry"
	"github.com/mgomes/sefind/internal/transport"
)

const (
	DefaultRetries = 3
	DefaultBackoff = 600 * time.Millisecond
)

type Request struct {
	Stream     string
	Handler    transport.Handler
	MaxRetries int
	Backoff    time.Duration
}

// On builds a request with the default retry policy.
func On(stream string, h transport.Handler) Request {
	return Request{Stream: stream, Handler: h, MaxRetries: DefaultRetries, Backoff: DefaultBackoff}
}

// Handle is one attached handler. After Release the handler never runs
// again, even for payloads the transport had already queued.
type Handle struct {
	Stream string

	once     sync.Once
	released atomic.Bool
	detach   func()
}

func (h *Handle) Release() {
	h.once.Do(func() {
		h.released.Store(true)
		if h.detach != nil {
			h.detach()
		}
	})
}

func (h *Handle) Released() bool {
	return h.released.Load()
}

// ErrorFunc is told about every failed attach attempt along with the index
// of the request in its set.
type ErrorFunc func(err error, index int)

// Set owns the handles attached for one activation.
type Set struct {
	tr      transport.Transport
	clock   clockwork.Clock
	onError ErrorFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	handles []*Handle
	closed  bool
}

func NewSet(ctx context.Context, tr transport.Transport, clock clockwork.Clock, onError ErrorFunc) *Set {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Set{
		tr:      tr,
		clock:   clock,
		onError: onError,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Attach attaches reqs one after another. Request i+1 starts only once
// request i has attached or used up its retries; a request that never
// attaches does not stop the rest. Attach returns the number of handles it
// attached and must be called once per set.
func (s *Set) Attach(reqs []Request) int {
	defer close(s.done)

	attached := 0
	for i, req := range reqs {
		if s.ctx.Err() != nil {
			break
		}

		policy := retry.Policy{MaxRetries: req.MaxRetries, Backoff: req.Backoff, Multiplier: 2}
		var h *Handle
		_, err := retry.Do(s.ctx, s.clock, policy, func(ctx context.Context, _ int) error {
			var err error
			h, err = s.attachOne(ctx, req)
			return err
		}, func(_ int, err error) {
			if s.onError != nil {
				s.onError(err, i)
			}
		})
		if err != nil {
			continue
		}
		if s.keep(h) {
			attached++
		}
	}
	return attached
}

func (s *Set) attachOne(ctx context.Context, req Request) (*Handle, error) {
	h := &Handle{Stream: req.Stream}
	detach, err := s.tr.Listen(ctx, req.Stream, func(payload json.RawMessage) {
		if h.Released() {
			return
		}
		req.Handler(payload)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", req.Stream, err)
	}
	h.detach = detach
	return h, nil
}

// keep records h, or releases it right away when the set was torn down
// while the attach was in flight.
func (s *Set) keep(h *Handle) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		h.Release()
		return false
	}
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return true
}

// Teardown stops any attach still in progress and releases every attached
// handle. Calling it again does nothing.
func (s *Set) Teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	s.cancel()
	for _, h := range handles {
		h.Release()
	}
}

// Done is closed when Attach returns.
func (s *Set) Done() <-chan struct{} {
	return s.done
}

// Handles returns the currently attached handles.
func (s *Set) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Handle(nil), s.handles...)
}

// Manager keeps at most one active set per owner and swaps it when the
// owner's subscriptions change.
type Manager struct {
	tr    transport.Transport
	clock clockwork.Clock
	tag   string

	mu      sync.Mutex
	current *Set
}

// NewManager returns a manager whose attach failures are logged under tag.
func NewManager(tr transport.Transport, clock clockwork.Clock, tag string) *Manager {
	return &Manager{tr: tr, clock: clock, tag: tag}
}

// Activate tears down the previous set, then, when active, attaches reqs in
// the background. The returned teardown releases everything attached by this
// activation and is safe to call more than once.
func (m *Manager) Activate(ctx context.Context, active bool, reqs []Request) (teardown func()) {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()

	if prev != nil {
		prev.Teardown()
	}
	if !active {
		return func() {}
	}

	set := NewSet(ctx, m.tr, m.clock, func(err error, index int) {
		stream := ""
		if index < len(reqs) {
			stream = reqs[index].Stream
		}
		logging.Failure("subscribe:"+m.tag, err, "stream", stream, "index", index)
	})

	m.mu.Lock()
	m.current = set
	m.mu.Unlock()

	go set.Attach(reqs)

	return func() {
		set.Teardown()
		m.mu.Lock()
		if m.current == set {
			m.current = nil
		}
		m.mu.Unlock()
	}
}

// Current returns the active set, or nil.
func (m *Manager) Current() *Set {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
