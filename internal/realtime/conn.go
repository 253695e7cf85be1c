package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrNotConnected = errors.New("realtime: not connected")

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type HandlerFunc func(payload json.RawMessage) error

// Handler is a named callback. The pointer is its identity: registering
// the same *Handler twice for one event is a no-op.
type Handler struct {
	name string
	fn   HandlerFunc
}

func NewHandler(name string, fn HandlerFunc) *Handler {
	return &Handler{name: name, fn: fn}
}

func (h *Handler) Name() string { return h.name }

func (h *Handler) invoke(event string, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("realtime handler panicked", "event", event, "handler", h.name, "panic", r)
		}
	}()
	if err := h.fn(data); err != nil {
		slog.Warn("realtime handler failed", "event", event, "handler", h.name, "error", err)
	}
}

// Backoff bounds the delay between reconnect attempts.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	if d <= 0 {
		d = time.Second
	}
	for i := 0; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Conn is one realtime connection. It dials, reads and redials on its own
// goroutine until Close; failures only show up as state transitions.
type Conn struct {
	url     string
	dialer  Dialer
	backoff Backoff
	onState func(*Conn, State)

	mu        sync.Mutex
	state     State
	handlers  map[string][]*Handler
	listeners []func(reconnect bool)
	sock      Socket
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}

	writeMu sync.Mutex
}

func newConn(url string, dialer Dialer, backoff Backoff, onState func(*Conn, State)) *Conn {
	return &Conn{
		url:      url,
		dialer:   dialer,
		backoff:  backoff,
		onState:  onState,
		handlers: make(map[string][]*Handler),
	}
}

// On attaches h for event. It reports false when h was already attached.
func (c *Conn) On(event string, h *Handler) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.handlers[event] {
		if existing == h {
			return false
		}
	}
	c.handlers[event] = append(c.handlers[event], h)
	return true
}

func (c *Conn) Off(event string, h *Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hs := c.handlers[event]
	for i, existing := range hs {
		if existing == h {
			c.handlers[event] = append(hs[:i:i], hs[i+1:]...)
			break
		}
	}
	if len(c.handlers[event]) == 0 {
		delete(c.handlers, event)
	}
}

// HandlerCount reports how many handlers are attached for event.
func (c *Conn) HandlerCount(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[event])
}

// OnConnect registers a lifecycle listener fired after every successful
// dial. reconnect is true for every dial after the first.
func (c *Conn) OnConnect(fn func(reconnect bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Conn) offLifecycle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = nil
	c.onState = nil
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) Connected() bool {
	return c.State() == StateConnected
}

// Emit sends one event. It fails with ErrNotConnected between dials.
func (c *Conn) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error encoding %s payload: %w", event, err)
	}

	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := sock.WriteJSON(Envelope{Event: event, Data: data}); err != nil {
		return fmt.Errorf("error writing %s: %w", event, err)
	}
	return nil
}

func (c *Conn) start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil || c.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Close stops the connection loop and waits for it to exit. Handlers
// never fire after Close returns.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sock, cancel, done := c.sock, c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sock != nil {
		sock.Close()
	}
	if done != nil {
		<-done
	}
	c.setState(StateDisconnected)
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)

	connectedBefore := false
	attempt := 0
	c.setState(StateConnecting)

	for {
		sock, err := c.dialer.Dial(ctx, c.url)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := c.backoff.Delay(attempt)
			attempt++
			slog.Warn("realtime connect failed", "url", c.url, "attempt", attempt, "retry_in", delay, "error", err)
			c.setState(StateReconnecting)
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		if !c.setSocket(sock) {
			sock.Close()
			return
		}
		attempt = 0
		c.setState(StateConnected)
		slog.Info("realtime connected", "url", c.url, "reconnect", connectedBefore)
		c.fireConnected(connectedBefore)
		connectedBefore = true

		err = c.readLoop(sock)
		c.setSocket(nil)
		sock.Close()
		if ctx.Err() != nil {
			return
		}

		slog.Warn("realtime connection dropped", "url", c.url, "error", err)
		c.setState(StateReconnecting)
		if !sleepCtx(ctx, c.backoff.Delay(0)) {
			return
		}
	}
}

func (c *Conn) readLoop(sock Socket) error {
	for {
		_, msg, err := sock.ReadMessage()
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			slog.Warn("dropping malformed realtime frame", "error", err)
			continue
		}
		if env.Event == "" {
			slog.Warn("dropping realtime frame without event name")
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

// dispatch runs every handler for event in registration order. A failing
// handler is logged and does not stop the rest.
func (c *Conn) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	hs := append([]*Handler(nil), c.handlers[event]...)
	c.mu.Unlock()

	if len(hs) == 0 {
		slog.Debug("no handlers for realtime event", "event", event)
		return
	}
	for _, h := range hs {
		h.invoke(event, data)
	}
}

func (c *Conn) fireConnected(reconnect bool) {
	c.mu.Lock()
	listeners := make([]func(bool), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("realtime connect listener panicked", "panic", r)
				}
			}()
			fn(reconnect)
		}()
	}
}

// setSocket stores the live socket. It refuses a new socket once the
// connection is closed.
func (c *Conn) setSocket(sock Socket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sock != nil && c.closed {
		return false
	}
	c.sock = sock
	return true
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	cb := c.onState
	c.mu.Unlock()

	if cb != nil {
		cb(c, s)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
