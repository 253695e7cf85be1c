// Package realtimetest provides an in-memory transport for tests of
// realtime consumers.
package realtimetest

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mr1hm/go-sos-alerts/internal/realtime"
)

// Socket is an in-memory realtime.Socket. Frames pushed with Send are read
// by the connection loop; frames written by Emit are collected.
type Socket struct {
	In        chan []byte
	writes    chan realtime.Envelope
	closed    chan struct{}
	closeOnce sync.Once
	dropOnce  sync.Once
}

func NewSocket() *Socket {
	return &Socket{
		In:     make(chan []byte, 16),
		writes: make(chan realtime.Envelope, 16),
		closed: make(chan struct{}),
	}
}

func (s *Socket) ReadMessage() (int, []byte, error) {
	select {
	case msg, ok := <-s.In:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, msg, nil
	case <-s.closed:
		return 0, nil, net.ErrClosed
	}
}

func (s *Socket) WriteJSON(v any) error {
	select {
	case <-s.closed:
		return net.ErrClosed
	default:
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var env realtime.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	select {
	case s.writes <- env:
	default:
	}
	return nil
}

func (s *Socket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Send queues an inbound event frame.
func (s *Socket) Send(t testing.TB, event string, payload string) {
	t.Helper()
	frame, err := json.Marshal(realtime.Envelope{Event: event, Data: json.RawMessage(payload)})
	if err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}
	s.In <- frame
}

// Drop simulates the server closing the connection.
func (s *Socket) Drop() {
	s.dropOnce.Do(func() { close(s.In) })
}

// NextWrite returns the next outbound frame.
func (s *Socket) NextWrite(t testing.TB) realtime.Envelope {
	t.Helper()
	select {
	case env := <-s.writes:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for outbound frame")
		return realtime.Envelope{}
	}
}

// Dialer hands out sockets queued with Accept. Dial blocks until one is
// queued or the context ends.
type Dialer struct {
	sockets chan *Socket
}

func NewDialer() *Dialer {
	return &Dialer{sockets: make(chan *Socket, 4)}
}

func (d *Dialer) Dial(ctx context.Context, url string) (realtime.Socket, error) {
	select {
	case s := <-d.sockets:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Accept queues a socket for the next Dial.
func (d *Dialer) Accept() *Socket {
	s := NewSocket()
	d.sockets <- s
	return s
}

// NewManager returns a Manager wired to d with short reconnect delays.
func NewManager(d *Dialer) *realtime.Manager {
	return realtime.NewManager(realtime.Options{
		URL:     "ws://test/socket",
		Dialer:  d,
		Backoff: realtime.Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond},
	})
}

// Connect creates a connection on m, completes the dial and consumes the
// registration handshake.
func Connect(t testing.TB, m *realtime.Manager, d *Dialer, subjectID string) (*realtime.Conn, *Socket) {
	t.Helper()
	sock := d.Accept()
	c := m.Create(subjectID)
	sock.NextWrite(t)
	WaitFor(t, "realtime connected", c.Connected)
	return c, sock
}

func WaitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
