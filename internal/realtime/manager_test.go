package realtime_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"github.com/mr1hm/go-sos-alerts/internal/models"
	"github.com/mr1hm/go-sos-alerts/internal/realtime"
	"github.com/mr1hm/go-sos-alerts/internal/realtime/realtimetest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func decodeRegister(t *testing.T, env realtime.Envelope) models.RegisterAuthority {
	t.Helper()
	if env.Event != models.EventRegisterAuthority {
		t.Fatalf("expected %s, got %s", models.EventRegisterAuthority, env.Event)
	}
	var reg models.RegisterAuthority
	if err := json.Unmarshal(env.Data, &reg); err != nil {
		t.Fatalf("failed to decode handshake: %v", err)
	}
	return reg
}

func TestManager_CreateSendsHandshake(t *testing.T) {
	d := realtimetest.NewDialer()
	m := realtimetest.NewManager(d)
	sock := d.Accept()

	c := m.Create("officer-7")
	defer m.Destroy(c)

	reg := decodeRegister(t, sock.NextWrite(t))
	if reg.Role != "authority" || reg.UserID != "officer-7" {
		t.Errorf("unexpected handshake %+v", reg)
	}
	realtimetest.WaitFor(t, "connected", m.Live)
}

func TestManager_CreateIsIdempotentWhileConnected(t *testing.T) {
	d := realtimetest.NewDialer()
	m := realtimetest.NewManager(d)
	sock := d.Accept()

	c1 := m.Create("u1")
	defer m.Destroy(c1)
	sock.NextWrite(t)
	realtimetest.WaitFor(t, "connected", c1.Connected)

	c2 := m.Create("u1")
	if c1 != c2 {
		t.Error("expected Create to return the connected instance")
	}
	if m.Current() != c1 {
		t.Error("current connection changed")
	}
}

func TestManager_CreateReplacesStaleConnection(t *testing.T) {
	d := realtimetest.NewDialer()
	m := realtimetest.NewManager(d)

	// No socket queued: the first connection never gets past dialing.
	stale := m.Create("u1")
	if stale.Connected() {
		t.Fatal("stale connection should not be connected")
	}

	fresh := m.Create("u1")
	defer m.Destroy(fresh)
	sock := d.Accept()

	if fresh == stale {
		t.Fatal("expected a new connection")
	}
	sock.NextWrite(t)
	realtimetest.WaitFor(t, "fresh connected", fresh.Connected)
	if stale.State() != realtime.StateDisconnected {
		t.Errorf("expected stale connection closed, got %s", stale.State())
	}
}

func TestManager_ReconnectResendsHandshake(t *testing.T) {
	d := realtimetest.NewDialer()
	m := realtimetest.NewManager(d)
	first := d.Accept()

	c := m.Create("u9")
	defer m.Destroy(c)
	decodeRegister(t, first.NextWrite(t))

	second := d.Accept()
	first.Drop()

	reg := decodeRegister(t, second.NextWrite(t))
	if reg.UserID != "u9" {
		t.Errorf("expected handshake for u9 after reconnect, got %+v", reg)
	}
	realtimetest.WaitFor(t, "reconnected", c.Connected)
}

func TestManager_DestroyStaleReferenceKeepsCurrent(t *testing.T) {
	d := realtimetest.NewDialer()
	m := realtimetest.NewManager(d)

	old := m.Create("u1")
	cur := m.Create("u1")
	defer m.Destroy(cur)
	d.Accept()

	m.Destroy(old)
	if m.Current() != cur {
		t.Error("destroying a stale connection must not clear the current one")
	}

	m.Destroy(cur)
	if m.Current() != nil {
		t.Error("expected current cleared")
	}
	if m.State() != realtime.StateDisconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}
}

func TestManager_DestroyStopsDispatch(t *testing.T) {
	d := realtimetest.NewDialer()
	m := realtimetest.NewManager(d)
	r := realtime.NewRouter(m)
	sock := d.Accept()

	var mu sync.Mutex
	calls := 0
	h := realtime.NewHandler("count", func(json.RawMessage) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	r.On("ping", h)

	c := m.Create("u1")
	sock.NextWrite(t)
	sock.Send(t, "ping", `{}`)
	realtimetest.WaitFor(t, "first dispatch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	})

	m.Destroy(c)
	if c.State() != realtime.StateDisconnected {
		t.Errorf("expected disconnected after destroy, got %s", c.State())
	}
	pending, attached := r.Counts("ping")
	if pending != 1 || attached != 0 {
		t.Errorf("expected registration back to pending, got pending=%d attached=%d", pending, attached)
	}
}

func TestManager_StateListeners(t *testing.T) {
	d := realtimetest.NewDialer()
	m := realtimetest.NewManager(d)

	var mu sync.Mutex
	var seen []realtime.State
	remove := m.OnStateChange(func(s realtime.State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer remove()

	first := d.Accept()
	c := m.Create("u1")
	first.NextWrite(t)
	realtimetest.WaitFor(t, "connected", c.Connected)

	second := d.Accept()
	first.Drop()
	second.NextWrite(t)
	realtimetest.WaitFor(t, "reconnected", c.Connected)
	m.Destroy(c)

	mu.Lock()
	defer mu.Unlock()
	want := []realtime.State{realtime.StateConnecting, realtime.StateConnected, realtime.StateReconnecting, realtime.StateConnected, realtime.StateDisconnected}
	if len(seen) != len(want) {
		t.Fatalf("expected states %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("state %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}

func TestManager_EmitWhileDisconnected(t *testing.T) {
	d := realtimetest.NewDialer()
	m := realtimetest.NewManager(d)
	c := m.Create("u1")
	defer m.Destroy(c)

	if err := c.Emit("x", map[string]string{}); err != realtime.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := realtime.Backoff{Initial: time.Second, Max: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for attempt, w := range want {
		if got := b.Delay(attempt); got != w {
			t.Errorf("attempt %d: expected %v, got %v", attempt, w, got)
		}
	}
}

func TestManager_WebsocketTransport(t *testing.T) {
	upgrader := websocket.Upgrader{}
	handshakes := make(chan models.RegisterAuthority, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var env realtime.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		var reg models.RegisterAuthority
		json.Unmarshal(env.Data, &reg)
		handshakes <- reg

		ws.WriteJSON(realtime.Envelope{Event: models.EventNewSOSAlert, Data: json.RawMessage(`{"alertId":"A1"}`)})

		// Hold the connection until the client goes away.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m := realtime.NewManager(realtime.Options{
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		Dialer:  &realtime.WebsocketDialer{HandshakeTimeout: time.Second},
		Backoff: realtime.Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond},
	})
	r := realtime.NewRouter(m)

	received := make(chan string, 1)
	r.On(models.EventNewSOSAlert, realtime.NewHandler("test", func(data json.RawMessage) error {
		received <- string(data)
		return nil
	}))

	c := m.Create("officer-1")
	defer m.Destroy(c)

	select {
	case reg := <-handshakes:
		if reg.Role != models.RoleAuthority || reg.UserID != "officer-1" {
			t.Errorf("unexpected handshake %+v", reg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for handshake")
	}

	select {
	case data := <-received:
		if data != `{"alertId":"A1"}` {
			t.Errorf("unexpected payload %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}
