package banner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/go-sos-alerts/internal/clock"
	"github.com/mr1hm/go-sos-alerts/internal/models"
	"github.com/mr1hm/go-sos-alerts/internal/realtime"
	"github.com/mr1hm/go-sos-alerts/internal/storage"
)

const DefaultTTL = 60 * time.Second

// Record is the persisted banner. Timestamp is the epoch-ms moment the
// banner was raised, not the alert's own timestamp.
type Record struct {
	Alert     models.Alert `json:"alert"`
	Timestamp int64        `json:"timestamp"`
}

func (r Record) ShownAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}

type Options struct {
	TTL            time.Duration
	SuppressRoutes []string
	Clock          clock.Clock
}

// State holds the single most recent SOS banner. A new alert replaces the
// previous one; every record disappears TTL after it was raised, across
// restarts.
type State struct {
	store    storage.Store
	clock    clock.Clock
	ttl      time.Duration
	suppress map[string]bool
	handler  *realtime.Handler

	// persistMu orders writes to the store. It is taken before mu.
	persistMu sync.Mutex

	mu        sync.Mutex
	current   *Record
	dismissed bool
	timer     clock.Timer
	gen       uint64
	closed    bool
	listeners []func(*Record)
}

func New(store storage.Store, opts Options) *State {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}

	s := &State{
		store:    store,
		clock:    opts.Clock,
		ttl:      opts.TTL,
		suppress: make(map[string]bool, len(opts.SuppressRoutes)),
	}
	for _, route := range opts.SuppressRoutes {
		s.suppress[route] = true
	}
	s.handler = realtime.NewHandler("banner", s.HandleAlert)
	return s
}

// Attach registers the banner for newSOSAlert events.
func (s *State) Attach(router *realtime.Router) {
	router.On(models.EventNewSOSAlert, s.handler)
}

func (s *State) Detach(router *realtime.Router) {
	router.Off(models.EventNewSOSAlert, s.handler)
}

// OnChange registers fn to be called with the visible record, or nil when
// the banner goes away.
func (s *State) OnChange(fn func(*Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// HandleAlert validates a newSOSAlert payload and raises it. Re-delivery
// of the alert already on the banner is ignored and keeps its TTL.
func (s *State) HandleAlert(data json.RawMessage) error {
	if _, err := models.ValidateSOSPayload(data); err != nil {
		return err
	}
	n, err := models.NormalizeAlert(data)
	if err != nil {
		return err
	}
	if cur, ok := s.Current(); ok && cur.Alert.ID == n.Alert.ID {
		slog.Debug("sos banner already showing alert", "alert_id", n.Alert.ID)
		return nil
	}
	s.Set(n.Alert)
	return nil
}

// Set raises a as the banner, replacing and un-dismissing any previous one.
func (s *State) Set(a models.Alert) {
	rec := Record{Alert: a, Timestamp: s.clock.Now().UnixMilli()}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.current = &rec
	s.dismissed = false
	s.scheduleLocked(s.ttl)
	s.mu.Unlock()

	s.sync(context.Background())
	slog.Info("sos banner raised", "alert_id", a.ID, "tourist_id", a.TouristID)
	s.changed()
}

// Load restores a persisted banner that is still within its TTL and
// purges one that is not. A missing record is not an error.
func (s *State) Load(ctx context.Context) error {
	data, err := s.store.Load(ctx, storage.KeyLatestBanner)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error loading banner: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec.Timestamp == 0 {
		slog.Warn("discarding unreadable banner record", "error", err)
		s.sync(ctx)
		return nil
	}

	age := s.clock.Now().Sub(rec.ShownAt())
	if age > s.ttl {
		slog.Debug("persisted banner expired", "alert_id", rec.Alert.ID, "age", age)
		s.sync(ctx)
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.current = &rec
	s.dismissed = false
	s.scheduleLocked(s.ttl - age)
	s.mu.Unlock()

	slog.Info("sos banner restored", "alert_id", rec.Alert.ID, "remaining", s.ttl-age)
	s.changed()
	return nil
}

// Current returns the active record, dismissed or not.
func (s *State) Current() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.expiredLocked() {
		return Record{}, false
	}
	return *s.current, true
}

// Remaining is the time until the active record expires, or zero.
func (s *State) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0
	}
	left := s.ttl - s.clock.Now().Sub(s.current.ShownAt())
	if left < 0 {
		return 0
	}
	return left
}

// Dismiss hides the banner for this process only. The persisted record
// keeps its TTL.
func (s *State) Dismiss() {
	s.mu.Lock()
	if s.current == nil || s.dismissed {
		s.mu.Unlock()
		return
	}
	s.dismissed = true
	s.mu.Unlock()
	s.changed()
}

// Visible reports whether the banner should be shown on route.
func (s *State) Visible(route string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.dismissed || s.expiredLocked() {
		return false
	}
	return !s.suppress[route]
}

func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *State) scheduleLocked(after time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(after, func() { s.expire(gen) })
}

func (s *State) expire(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.current == nil {
		s.mu.Unlock()
		return
	}
	id := s.current.Alert.ID
	s.current = nil
	s.dismissed = false
	s.timer = nil
	s.mu.Unlock()

	s.sync(context.Background())
	slog.Info("sos banner expired", "alert_id", id)
	s.changed()
}

func (s *State) expiredLocked() bool {
	return s.clock.Now().Sub(s.current.ShownAt()) > s.ttl
}

// sync writes the record held at the time of the call, or deletes the
// stored one when there is none. Writes are serialized, so the last one
// to finish always reflects the latest state.
func (s *State) sync(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	var rec *Record
	if s.current != nil {
		cp := *s.current
		rec = &cp
	}
	s.mu.Unlock()

	if rec == nil {
		if err := s.store.Delete(ctx, storage.KeyLatestBanner); err != nil {
			slog.Error("failed to remove persisted banner", "error", err)
		}
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("failed to encode banner", "error", err)
		return
	}
	if err := s.store.Save(ctx, storage.KeyLatestBanner, data); err != nil {
		slog.Error("failed to persist banner", "error", err)
	}
}

func (s *State) changed() {
	s.mu.Lock()
	var visible *Record
	if s.current != nil && !s.dismissed {
		rec := *s.current
		visible = &rec
	}
	listeners := append([]func(*Record){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(visible)
	}
}
