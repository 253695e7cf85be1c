package realtime

import (
	"log/slog"
	"sync"

	"github.com/mr1hm/go-sos-alerts/internal/models"
)

type Options struct {
	URL     string
	Dialer  Dialer
	Backoff Backoff
}

// Manager owns the single current realtime connection. It is created once
// by the application and handed to every consumer that needs it.
type Manager struct {
	opts Options

	mu        sync.Mutex
	current   *Conn
	attach    func(*Conn)
	detach    func(*Conn)
	listeners map[uint64]func(State)
	nextID    uint64
}

func NewManager(opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = &WebsocketDialer{}
	}
	return &Manager{
		opts:      opts,
		listeners: make(map[uint64]func(State)),
	}
}

// Create returns the current connection when it is connected. Otherwise
// it replaces any stale instance with a new connection, attaches every
// registration known to the router and starts dialing. The handshake is
// sent on every connect, including reconnects.
func (m *Manager) Create(subjectID string) *Conn {
	m.mu.Lock()
	if cur := m.current; cur != nil && cur.Connected() {
		m.mu.Unlock()
		return cur
	}

	stale := m.current
	c := newConn(m.opts.URL, m.opts.Dialer, m.opts.Backoff, m.stateChanged)
	c.OnConnect(func(reconnect bool) {
		register(c, subjectID, reconnect)
	})
	m.current = c
	if m.attach != nil {
		m.attach(c)
	}
	c.start()
	m.mu.Unlock()

	if stale != nil {
		slog.Info("replacing stale realtime connection", "state", stale.State())
		stale.offLifecycle()
		stale.Close()
	}
	return c
}

// Destroy detaches the lifecycle listeners of c and closes it. The
// current reference is cleared only when c is still the current one.
// Destroy must not be called from inside a handler running on c.
func (m *Manager) Destroy(c *Conn) {
	if c == nil {
		return
	}

	m.mu.Lock()
	wasCurrent := m.current == c
	if wasCurrent {
		m.current = nil
		if m.detach != nil {
			m.detach(c)
		}
	}
	m.mu.Unlock()

	c.offLifecycle()
	c.Close()

	if wasCurrent {
		m.notify(StateDisconnected)
	}
}

// Current returns the current connection or nil.
func (m *Manager) Current() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Live reports whether a connection exists and is connected.
func (m *Manager) Live() bool {
	c := m.Current()
	return c != nil && c.Connected()
}

func (m *Manager) State() State {
	c := m.Current()
	if c == nil {
		return StateDisconnected
	}
	return c.State()
}

// OnStateChange registers fn for state transitions of the current
// connection. The returned func removes it.
func (m *Manager) OnStateChange(fn func(State)) (remove func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// withCurrent runs fn while the current reference cannot change.
func (m *Manager) withCurrent(fn func(*Conn)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.current)
}

func (m *Manager) bind(attach, detach func(*Conn)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attach = attach
	m.detach = detach
}

func (m *Manager) stateChanged(c *Conn, s State) {
	m.mu.Lock()
	isCurrent := m.current == c
	m.mu.Unlock()
	if !isCurrent {
		return
	}
	slog.Debug("realtime state changed", "state", s.String())
	m.notify(s)
}

func (m *Manager) notify(s State) {
	m.mu.Lock()
	listeners := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

func register(c *Conn, subjectID string, reconnect bool) {
	err := c.Emit(models.EventRegisterAuthority, models.RegisterAuthority{
		Role:   models.RoleAuthority,
		UserID: subjectID,
	})
	if err != nil {
		slog.Warn("failed to register with realtime channel", "user_id", subjectID, "reconnect", reconnect, "error", err)
		return
	}
	slog.Info("registered with realtime channel", "user_id", subjectID, "reconnect", reconnect)
}
