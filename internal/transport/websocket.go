package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mordilloSan/go-logger/logger"
	"golang.org/x/sync/errgroup"
)

// Frame types exchanged over the socket.
const (
	frameCall     = "call"
	frameResult   = "result"
	frameListen   = "listen"
	frameListened = "listened"
	frameUnlisten = "unlisten"
	frameEvent    = "event"
)

const (
	outboundQueue = 256
	closeWait     = time.Second
)

// Path is where the server accepts connections.
const Path = "/ws"

type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command,omitempty"`
	Stream  string          `json:"stream,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	// Only loopback listeners are expected.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Server exposes a Dispatcher to websocket clients.
type Server struct {
	d Dispatcher
}

func NewServer(d Dispatcher) *Server {
	return &Server{d: d}
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("[WebSocket] listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("[WebSocket] upgrade failed: %v", err)
		return
	}
	logger.Infof("[WebSocket] connected: remote=%s", r.RemoteAddr)
	err = s.serveConn(r.Context(), conn)
	if err != nil && !isExpectedClose(err) {
		logger.Warnf("[WebSocket] disconnect: %v", err)
	} else {
		logger.Debugf("[WebSocket] disconnected: remote=%s", r.RemoteAddr)
	}
}

// serveConn reads frames until the peer goes away. Every write goes through
// one queue so events on a stream leave in publish order.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan frame, outboundQueue)
	send := func(f frame) {
		select {
		case out <- f:
		case <-ctx.Done():
		}
	}

	var (
		mu   sync.Mutex
		subs = make(map[string]func())
	)
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for id, off := range subs {
			off()
			delete(subs, id)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(closeWait))
				return conn.Close()
			case f := <-out:
				if err := conn.WriteJSON(f); err != nil {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return err
			}

			switch f.Type {
			case frameCall:
				go func(f frame) {
					res, err := s.d.Dispatch(gctx, f.Command, f.Payload)
					reply := frame{Type: frameResult, ID: f.ID, Command: f.Command, Payload: res}
					if err != nil {
						reply.Payload = nil
						reply.Error = err.Error()
					}
					send(reply)
				}(f)
			case frameListen:
				id, stream := f.ID, f.Stream
				off := s.d.Subscribe(stream, func(p json.RawMessage) {
					send(frame{Type: frameEvent, ID: id, Stream: stream, Payload: p})
				})
				mu.Lock()
				subs[id] = off
				mu.Unlock()
				send(frame{Type: frameListened, ID: id, Stream: stream})
			case frameUnlisten:
				mu.Lock()
				if off, ok := subs[f.ID]; ok {
					off()
					delete(subs, f.ID)
				}
				mu.Unlock()
			default:
				logger.Warnf("[WebSocket] unknown frame type %q", f.Type)
			}
		}
	})
	return g.Wait()
}

func isExpectedClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return true
		}
	}
	return errors.Is(err, net.ErrClosed) || strings.Contains(strings.ToLower(err.Error()), "use of closed network connection")
}

// Client is a Transport backed by a websocket connection to a Server.
type Client struct {
	conn *websocket.Conn
	wmu  sync.Mutex

	mu      sync.Mutex
	calls   map[string]chan frame
	acks    map[string]chan struct{}
	streams map[string]Handler
	err     error

	done chan struct{}
}

// Dial connects to a server. url is a ws:// address including Path.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	c := &Client{
		conn:    conn,
		calls:   make(map[string]chan frame),
		acks:    make(map[string]chan struct{}),
		streams: make(map[string]Handler),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) write(f frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return c.conn.WriteJSON(f)
}

// readLoop delivers events on the read goroutine so a stream's handler sees
// payloads in order.
func (c *Client) readLoop() {
	var err error
	defer func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		var f frame
		if err = c.conn.ReadJSON(&f); err != nil {
			if !isExpectedClose(err) {
				logger.Debugf("[WebSocket] client read: %v", err)
			}
			return
		}

		c.mu.Lock()
		switch f.Type {
		case frameResult:
			if ch, ok := c.calls[f.ID]; ok {
				delete(c.calls, f.ID)
				ch <- f
			}
			c.mu.Unlock()
		case frameListened:
			if ch, ok := c.acks[f.ID]; ok {
				delete(c.acks, f.ID)
				close(ch)
			}
			c.mu.Unlock()
		case frameEvent:
			h := c.streams[f.ID]
			c.mu.Unlock()
			if h != nil {
				h(f.Payload)
			}
		default:
			c.mu.Unlock()
			logger.Warnf("[WebSocket] unknown frame type %q", f.Type)
		}
	}
}

func (c *Client) Call(ctx context.Context, command string, payload any) (json.RawMessage, error) {
	args, err := encodeArgs(payload)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ch := make(chan frame, 1)
	c.mu.Lock()
	c.calls[id] = ch
	c.mu.Unlock()
	forget := func() {
		c.mu.Lock()
		delete(c.calls, id)
		c.mu.Unlock()
	}

	if err := c.write(frame{Type: frameCall, ID: id, Command: command, Payload: args}); err != nil {
		forget()
		return nil, c.closedErr(err)
	}

	select {
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.closedErr(nil)
	case f := <-ch:
		if f.Error != "" {
			return nil, &RemoteError{Command: command, Message: f.Error}
		}
		return f.Payload, nil
	}
}

// Listen registers h before asking the server to subscribe, so no event sent
// after the acknowledgement is missed.
func (c *Client) Listen(ctx context.Context, stream string, h Handler) (func(), error) {
	id := uuid.NewString()
	ack := make(chan struct{})
	c.mu.Lock()
	c.streams[id] = h
	c.acks[id] = ack
	c.mu.Unlock()

	var once sync.Once
	detach := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.streams, id)
			delete(c.acks, id)
			c.mu.Unlock()
			if err := c.write(frame{Type: frameUnlisten, ID: id, Stream: stream}); err != nil && !errors.Is(err, ErrClosed) {
				logger.Debugf("[WebSocket] unlisten %s: %v", stream, err)
			}
		})
	}

	if err := c.write(frame{Type: frameListen, ID: id, Stream: stream}); err != nil {
		detach()
		return nil, c.closedErr(err)
	}

	select {
	case <-ctx.Done():
		detach()
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.closedErr(nil)
	case <-ack:
		return detach, nil
	}
}

func (c *Client) closedErr(err error) error {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.err != nil && !isExpectedClose(c.err) {
			return fmt.Errorf("%w: %v", ErrClosed, c.err)
		}
		return ErrClosed
	default:
		return err
	}
}

// Close ends the connection and waits for the read loop to stop.
func (c *Client) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWait))
	c.wmu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}
