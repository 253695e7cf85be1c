package feed

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
)

var errMissingAlertID = errors.New("status update without alert id")

// Fetcher returns the raw alert list from the snapshot endpoint.
type Fetcher interface {
	FetchAlerts(ctx context.Context) ([]json.RawMessage, error)
}

// Snapshot is what subscribers receive on every change. Err is the last
// fetch error and clears on the next successful update.
type Snapshot struct {
	Alerts  []models.Alert
	Err     error
	Polling bool
}

type Options struct {
	PollInterval time.Duration
	Clock        clock.Clock
}

// Feed is the ordered, de-duplicated list of alerts. It is kept current by
// realtime pushes and, while the realtime channel is down, by polling the
// snapshot endpoint.
type Feed struct {
	mgr     *realtime.Manager
	router  *realtime.Router
	fetcher Fetcher
	poller  *Poller

	sosHandler    *realtime.Handler
	statusHandler *realtime.Handler

	// lifeMu serializes start, stop and poller re-arming.
	lifeMu      sync.Mutex
	removeState func()
	cancel      context.CancelFunc
	fetches     sync.WaitGroup

	mu     sync.Mutex
	alerts []models.Alert
	pushed map[string]uint64
	seq    uint64
	err    error
	subs   []subscriber
	nextID uint64
}

type subscriber struct {
	id uint64
	fn func(Snapshot)
}

func New(mgr *realtime.Manager, router *realtime.Router, fetcher Fetcher, opts Options) *Feed {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}

	f := &Feed{
		mgr:     mgr,
		router:  router,
		fetcher: fetcher,
		pushed:  make(map[string]uint64),
	}
	f.poller = NewPoller(opts.Clock, opts.PollInterval, f.poll)
	f.sosHandler = realtime.NewHandler("feed", f.handleSOS)
	f.statusHandler = realtime.NewHandler("feed-status", f.handleStatus)
	return f
}

// Subscribe registers fn and immediately delivers the current snapshot to
// it. The first subscriber activates the feed. fn must not call
// Unsubscribe.
func (f *Feed) Subscribe(fn func(Snapshot)) uint64 {
	f.lifeMu.Lock()
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs = append(f.subs, subscriber{id: id, fn: fn})
	first := len(f.subs) == 1
	f.mu.Unlock()

	if first {
		f.start()
	}
	f.mu.Lock()
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.lifeMu.Unlock()

	deliver(fn, snap)
	return id
}

// Unsubscribe removes a subscriber. The last one leaving stops polling,
// deregisters the realtime handlers and cancels fetches in flight.
func (f *Feed) Unsubscribe(id uint64) {
	f.lifeMu.Lock()
	defer f.lifeMu.Unlock()

	f.mu.Lock()
	removed := false
	for i, s := range f.subs {
		if s.id == id {
			f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
			removed = true
			break
		}
	}
	last := removed && len(f.subs) == 0
	f.mu.Unlock()

	if last {
		f.stop()
	}
}

// Close drops every subscriber and stops the feed.
func (f *Feed) Close() {
	f.lifeMu.Lock()
	defer f.lifeMu.Unlock()

	f.mu.Lock()
	active := len(f.subs) > 0
	f.subs = nil
	f.mu.Unlock()

	if active {
		f.stop()
	}
}

// Alerts returns a copy of the current list, newest pushes first.
func (f *Feed) Alerts() []models.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Alert(nil), f.alerts...)
}

func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Feed) Polling() bool {
	return f.poller.Running()
}

// start runs with lifeMu held.
func (f *Feed) start() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.removeState = f.mgr.OnStateChange(f.connectionStateChanged)

	f.router.On(models.EventNewSOSAlert, f.sosHandler)
	f.router.On(models.EventAlertStatusUpdate, f.statusHandler)

	if f.mgr.Live() {
		f.fetches.Add(1)
		go func() {
			defer f.fetches.Done()
			f.poll(ctx)
		}()
		slog.Info("alert feed started", "mode", "realtime")
		return
	}
	f.poller.Start()
	slog.Info("alert feed started", "mode", "polling")
}

// stop runs with lifeMu held.
func (f *Feed) stop() {
	f.router.Off(models.EventNewSOSAlert, f.sosHandler)
	f.router.Off(models.EventAlertStatusUpdate, f.statusHandler)
	if f.removeState != nil {
		f.removeState()
		f.removeState = nil
	}

	f.poller.Stop()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.poller.Wait()
	f.fetches.Wait()
	slog.Info("alert feed stopped")
}

func (f *Feed) connectionStateChanged(s realtime.State) {
	if s != realtime.StateReconnecting && s != realtime.StateDisconnected {
		return
	}

	f.lifeMu.Lock()
	defer f.lifeMu.Unlock()

	f.mu.Lock()
	active := len(f.subs) > 0
	f.mu.Unlock()
	if !active {
		return
	}
	if f.poller.Start() {
		slog.Warn("realtime channel unavailable, falling back to polling", "state", s.String())
	}
}

// poll fetches one snapshot and merges it.
func (f *Feed) poll(ctx context.Context) {
	f.mu.Lock()
	since := f.seq
	f.mu.Unlock()

	items, err := f.fetcher.FetchAlerts(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Error("failed to fetch alerts", "error", err)
		f.mu.Lock()
		f.err = err
		snap := f.snapshotLocked()
		f.mu.Unlock()
		f.publish(snap)
		return
	}

	alerts := normalizeBatch(items)

	f.mu.Lock()
	f.alerts = mergeSnapshot(f.alerts, alerts, f.pushed, since)
	f.err = nil
	f.prunePushedLocked()
	snap := f.snapshotLocked()
	f.mu.Unlock()

	slog.Debug("alert snapshot merged", "count", len(snap.Alerts))
	f.publish(snap)
}

// handleSOS merges a realtime alert. Any delivery, valid or not, shows the
// channel is live and ends the polling fallback.
func (f *Feed) handleSOS(data json.RawMessage) error {
	if f.poller.Stop() {
		slog.Info("realtime alert received, polling fallback stopped")
	}

	if err := models.ValidatePushLocation(data); err != nil {
		return fmt.Errorf("rejected realtime alert: %w", err)
	}
	n, err := models.NormalizeAlert(data)
	if err != nil {
		return err
	}
	if n.DerivedID {
		slog.Warn("alert without identifier, using derived id", "alert_id", n.Alert.ID, "tourist_id", n.Alert.TouristID)
	}

	f.push(n.Alert)
	return nil
}

// handleStatus applies an alertStatusUpdate to an entry already in the
// feed. Updates for unknown alerts are ignored.
func (f *Feed) handleStatus(data json.RawMessage) error {
	var u statusUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("error decoding status update: %w", err)
	}
	if u.alertID() == "" {
		return errMissingAlertID
	}

	f.mu.Lock()
	next, ok := applyStatus(f.alerts, u)
	if !ok {
		f.mu.Unlock()
		slog.Debug("status update for unknown alert", "alert_id", u.alertID())
		return nil
	}
	f.seq++
	f.pushed[u.alertID()] = f.seq
	f.alerts = next
	snap := f.snapshotLocked()
	f.mu.Unlock()

	f.publish(snap)
	return nil
}

func (f *Feed) push(a models.Alert) {
	f.mu.Lock()
	f.seq++
	f.pushed[a.ID] = f.seq
	f.alerts = upsert(f.alerts, a)
	f.err = nil
	snap := f.snapshotLocked()
	f.mu.Unlock()

	f.publish(snap)
}

func (f *Feed) prunePushedLocked() {
	keep := make(map[string]bool, len(f.alerts))
	for _, a := range f.alerts {
		keep[a.ID] = true
	}
	for id := range f.pushed {
		if !keep[id] {
			delete(f.pushed, id)
		}
	}
}

func (f *Feed) snapshotLocked() Snapshot {
	return Snapshot{
		Alerts:  append([]models.Alert(nil), f.alerts...),
		Err:     f.err,
		Polling: f.poller.Running(),
	}
}

func (f *Feed) publish(snap Snapshot) {
	f.mu.Lock()
	subs := append([]subscriber(nil), f.subs...)
	f.mu.Unlock()

	for _, s := range subs {
		deliver(s.fn, snap)
	}
}

func deliver(fn func(Snapshot), snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("alert feed subscriber panicked", "panic", r)
		}
	}()
	fn(snap)
}
