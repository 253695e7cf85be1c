package effects

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/mr1hm/go-sos-alerts/internal/models"
	"github.com/mr1hm/go-sos-alerts/internal/realtime"
	"github.com/mr1hm/go-sos-alerts/internal/worker"
)

const defaultSeenCapacity = 500

// Effect is one reaction to a new SOS alert.
type Effect interface {
	Name() string
	Fire(ctx context.Context, a models.Alert) error
}

type tracked struct {
	effect Effect
	seen   *seenSet
}

// Dispatcher fans newSOSAlert events out to its effects on the worker
// pool. Each effect fires at most once per alert ID, independently of the
// others.
type Dispatcher struct {
	pool    *worker.WorkerPool
	effects []tracked
	handler *realtime.Handler
}

func NewDispatcher(pool *worker.WorkerPool, effects ...Effect) *Dispatcher {
	d := &Dispatcher{pool: pool}
	for _, e := range effects {
		d.effects = append(d.effects, tracked{effect: e, seen: newSeenSet(defaultSeenCapacity)})
	}
	d.handler = realtime.NewHandler("effects", d.HandleAlert)
	return d
}

func (d *Dispatcher) Attach(router *realtime.Router) {
	router.On(models.EventNewSOSAlert, d.handler)
}

func (d *Dispatcher) Detach(router *realtime.Router) {
	router.Off(models.EventNewSOSAlert, d.handler)
}

func (d *Dispatcher) HandleAlert(data json.RawMessage) error {
	if err := models.ValidatePushLocation(data); err != nil {
		return err
	}
	n, err := models.NormalizeAlert(data)
	if err != nil {
		return err
	}
	d.Dispatch(n.Alert)
	return nil
}

// Dispatch queues every effect that has not yet fired for a.ID.
func (d *Dispatcher) Dispatch(a models.Alert) {
	for _, t := range d.effects {
		if !t.seen.add(a.ID) {
			slog.Debug("effect already fired", "effect", t.effect.Name(), "alert_id", a.ID)
			continue
		}

		effect := t.effect
		task := worker.Task{
			Name: effect.Name(),
			Run: func(ctx context.Context) error {
				return effect.Fire(ctx, a)
			},
		}
		if !d.pool.Submit(task) {
			t.seen.remove(a.ID)
			slog.Warn("effect queue full, dropping", "effect", effect.Name(), "alert_id", a.ID)
		}
	}
}

// seenSet remembers the most recent capacity IDs.
type seenSet struct {
	mu       sync.Mutex
	capacity int
	ids      map[string]struct{}
	order    []string
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		capacity: capacity,
		ids:      make(map[string]struct{}, capacity),
	}
}

// add reports false when id is already present.
func (s *seenSet) add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, oldest)
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

func (s *seenSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; !ok {
		return
	}
	delete(s.ids, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *seenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func describe(a models.Alert) (title, body string) {
	who := a.TouristName
	if who == "" {
		who = a.TouristID
	}
	if who == "" {
		who = "unknown tourist"
	}
	title = "SOS: " + who
	body = "Emergency alert " + a.ID
	if a.Location.Name != "" {
		body += " near " + a.Location.Name
	}
	return title, body
}
