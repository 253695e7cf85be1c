package realtime_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/mr1hm/go-sos-alerts/internal/realtime"
	"github.com/mr1hm/go-sos-alerts/internal/realtime/realtimetest"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handler(name string) *realtime.Handler {
	return realtime.NewHandler(name, func(json.RawMessage) error {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.mu.Unlock()
		return nil
	})
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestRouter_OnBeforeConnectionIsQueued(t *testing.T) {
	m := realtimetest.NewManager(realtimetest.NewDialer())
	r := realtime.NewRouter(m)
	rec := &recorder{}
	h := rec.handler("a")

	if r.On("evt", h) {
		t.Error("expected attached=false without a connection")
	}
	pending, attached := r.Counts("evt")
	if pending != 1 || attached != 0 {
		t.Errorf("expected 1 pending, got pending=%d attached=%d", pending, attached)
	}
}

func TestRouter_IdempotentRegistration(t *testing.T) {
	d := realtimetest.NewDialer()
	m := realtimetest.NewManager(d)
	r := realtime.NewRouter(m)
	rec := &recorder{}
	h := rec.handler("a")

	r.On("evt", h)
	r.On("evt", h)
	if pending, _ := r.Counts("evt"); pending != 1 {
		t.Fatalf("expected a single pending registration, got %d", pending)
	}

	sock := d.Accept()
	c := m.Create("u1")
	defer m.Destroy(c)
	sock.NextWrite(t)

	if c.HandlerCount("evt") != 1 {
		t.Errorf("expected exactly one attachment, got %d", c.HandlerCount("evt"))
	}
	if !r.On("evt", h) {
		t.Error("re-registering an attached handler should report attached=true")
	}

	sock.Send(t, "evt", `{}`)
	realtimetest.WaitFor(t, "dispatch", func() bool { return len(rec.snapshot()) >= 1 })

	// one more round trip so a duplicate invocation would have landed
	marker := make(chan struct{})
	r.On("done2", realtime.NewHandler("marker", func(json.RawMessage) error { close(marker); return nil }))
	sock.Send(t, "done2", `{}`)
	<-marker

	if got := rec.snapshot(); len(got) != 1 {
		t.Errorf("expected exactly one invocation, got %v", got)
	}
}

func TestRouter_OnAfterConnectionAttachesDirectly(t *testing.T) {
	d := realtimetest.NewDialer()
	m := realtimetest.NewManager(d)
	r := realtime.NewRouter(m)
	c := m.Create("u1")
	defer m.Destroy(c)

	if !r.On("evt", (&recorder{}).handler("a")) {
		t.Error("expected attached=true with a connection object")
	}
	if c.HandlerCount("evt") != 1 {
		t.Errorf("expected handler on connection, got %d", c.HandlerCount("evt"))
	}
}

func TestRouter_OffPendingAndAttached(t *testing.T) {
	d := realtimetest.NewDialer()
	m := realtimetest.NewManager(d)
	r := realtime.NewRouter(m)
	rec := &recorder{}
	pendingH := rec.handler("pending")
	attachedH := rec.handler("attached")

	r.On("evt", pendingH)
	r.Off("evt", pendingH)
	if p, a := r.Counts("evt"); p != 0 || a != 0 {
		t.Errorf("expected pending registration removed, got pending=%d attached=%d", p, a)
	}

	c := m.Create("u1")
	defer m.Destroy(c)
	if c.HandlerCount("evt") != 0 {
		t.Error("removed pending handler must not be attached")
	}

	r.On("evt", attachedH)
	r.Off("evt", attachedH)
	if c.HandlerCount("evt") != 0 {
		t.Errorf("expected handler removed from connection, got %d", c.HandlerCount("evt"))
	}

	// unknown handler is a no-op
	r.Off("evt", rec.handler("never"))
	r.Off("other", attachedH)
}

func TestRouter_FanOutOrderAndIsolation(t *testing.T) {
	d := realtimetest.NewDialer()
	m := realtimetest.NewManager(d)
	r := realtime.NewRouter(m)
	rec := &recorder{}

	r.On("evt", rec.handler("first"))
	r.On("evt", realtime.NewHandler("panics", func(json.RawMessage) error { panic("boom") }))
	r.On("evt", realtime.NewHandler("fails", func(json.RawMessage) error { return errors.New("nope") }))
	r.On("evt", rec.handler("last"))

	sock := d.Accept()
	c := m.Create("u1")
	defer m.Destroy(c)
	sock.NextWrite(t)
	sock.Send(t, "evt", `{}`)

	realtimetest.WaitFor(t, "fan-out", func() bool { return len(rec.snapshot()) == 2 })
	got := rec.snapshot()
	if got[0] != "first" || got[1] != "last" {
		t.Errorf("expected [first last], got %v", got)
	}
}

func TestRouter_RegistrationsFollowNewConnection(t *testing.T) {
	d := realtimetest.NewDialer()
	m := realtimetest.NewManager(d)
	r := realtime.NewRouter(m)
	rec := &recorder{}
	r.On("evt", rec.handler("a"))

	first := m.Create("u1")
	m.Destroy(first)
	if p, _ := r.Counts("evt"); p != 1 {
		t.Fatalf("expected registration pending after destroy, got %d", p)
	}

	sock := d.Accept()
	second := m.Create("u1")
	defer m.Destroy(second)
	sock.NextWrite(t)

	if second.HandlerCount("evt") != 1 {
		t.Errorf("expected handler attached to the new connection, got %d", second.HandlerCount("evt"))
	}
}

func TestConn_MalformedFrameIsDropped(t *testing.T) {
	d := realtimetest.NewDialer()
	m := realtimetest.NewManager(d)
	r := realtime.NewRouter(m)
	rec := &recorder{}
	r.On("evt", rec.handler("a"))

	sock := d.Accept()
	c := m.Create("u1")
	defer m.Destroy(c)
	sock.NextWrite(t)

	sock.In <- []byte(`not json`)
	sock.In <- []byte(`{"data":{}}`)
	sock.Send(t, "evt", `{}`)

	realtimetest.WaitFor(t, "dispatch after bad frames", func() bool { return len(rec.snapshot()) == 1 })
	if !c.Connected() {
		t.Error("malformed frames must not drop the connection")
	}
}
