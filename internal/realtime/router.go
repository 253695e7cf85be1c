package realtime

import "sync"

// registration is one (event, handler) pair. conn is nil while the
// registration is pending and points at the connection it is attached to
// otherwise.
type registration struct {
	handler *Handler
	conn    *Conn
}

func (r *registration) attached() bool { return r.conn != nil }

// Router is the pub/sub layer over the Manager. Handlers may be
// registered before any connection exists; they are attached the moment
// the Manager creates one, and moved to every later connection.
type Router struct {
	mgr *Manager

	mu     sync.Mutex
	events map[string][]*registration
}

func NewRouter(mgr *Manager) *Router {
	r := &Router{
		mgr:    mgr,
		events: make(map[string][]*registration),
	}
	mgr.bind(r.attachAll, r.detachAll)
	return r
}

// On registers h for event. It reports whether h is attached to a live
// connection object (true) or queued until one is created (false).
// Registering the same handler twice keeps a single registration.
func (r *Router) On(event string, h *Handler) bool {
	var attached bool
	r.mgr.withCurrent(func(c *Conn) {
		r.mu.Lock()
		defer r.mu.Unlock()

		if reg := r.find(event, h); reg != nil {
			attached = reg.attached()
			return
		}

		reg := &registration{handler: h}
		if c != nil {
			c.On(event, h)
			reg.conn = c
		}
		r.events[event] = append(r.events[event], reg)
		attached = reg.attached()
	})
	return attached
}

// Off removes h from whichever store holds it. Unknown handlers are a
// no-op.
func (r *Router) Off(event string, h *Handler) {
	r.mgr.withCurrent(func(*Conn) {
		r.mu.Lock()
		defer r.mu.Unlock()

		regs := r.events[event]
		for i, reg := range regs {
			if reg.handler != h {
				continue
			}
			if reg.conn != nil {
				reg.conn.Off(event, h)
			}
			r.events[event] = append(regs[:i:i], regs[i+1:]...)
			break
		}
		if len(r.events[event]) == 0 {
			delete(r.events, event)
		}
	})
}

// Counts reports pending and attached registrations for event.
func (r *Router) Counts(event string) (pending, attached int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.events[event] {
		if reg.attached() {
			attached++
		} else {
			pending++
		}
	}
	return pending, attached
}

func (r *Router) find(event string, h *Handler) *registration {
	for _, reg := range r.events[event] {
		if reg.handler == h {
			return reg
		}
	}
	return nil
}

// attachAll flushes every registration onto c in registration order.
// Called by the Manager with its lock held.
func (r *Router) attachAll(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for event, regs := range r.events {
		for _, reg := range regs {
			if reg.conn != nil && reg.conn != c {
				reg.conn.Off(event, reg.handler)
			}
			c.On(event, reg.handler)
			reg.conn = c
		}
	}
}

// detachAll returns registrations attached to c to the pending state.
func (r *Router) detachAll(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, regs := range r.events {
		for _, reg := range regs {
			if reg.conn == c {
				reg.conn = nil
			}
		}
	}
}
