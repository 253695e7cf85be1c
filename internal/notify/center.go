package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/mr1hm/go-sos-alerts/internal/clock"
	"github.com/mr1hm/go-sos-alerts/internal/models"
	"github.com/mr1hm/go-sos-alerts/internal/storage"
)

const (
	DefaultMax       = 50
	DefaultRetention = 24 * time.Hour
	DefaultRefresh   = 30 * time.Second
)

type Options struct {
	Max       int
	Retention time.Duration
	Refresh   time.Duration
	Clock     clock.Clock
}

// Center is the persisted notification log shown in the sidebar, newest
// first. Every mutation writes the whole list back to the store.
type Center struct {
	store     storage.Store
	clock     clock.Clock
	max       int
	retention time.Duration
	refresh   time.Duration
	handlers  []eventHandler

	// persistMu orders writes to the store. It is taken before mu.
	persistMu sync.Mutex

	mu        sync.Mutex
	sos       *seenAlerts
	items     []models.Notification
	timer     clock.Timer
	running   bool
	listeners []func([]models.Notification)
}

func New(store storage.Store, opts Options) *Center {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Max <= 0 {
		opts.Max = DefaultMax
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Refresh <= 0 {
		opts.Refresh = DefaultRefresh
	}

	c := &Center{
		store:     store,
		clock:     opts.Clock,
		max:       opts.Max,
		retention: opts.Retention,
		refresh:   opts.Refresh,
		sos:       newSeenAlerts(opts.Max * 4),
	}
	c.handlers = c.eventHandlers()
	return c
}

// OnChange registers fn to receive the list after every change,
// including label refreshes.
func (c *Center) OnChange(fn func([]models.Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Load restores the persisted log. Read records older than the retention
// window are dropped; unread ones are kept regardless of age.
func (c *Center) Load(ctx context.Context) error {
	data, err := c.store.Load(ctx, storage.KeyNotifications)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error loading notifications: %w", err)
	}

	var items []models.Notification
	if err := json.Unmarshal(data, &items); err != nil {
		slog.Warn("discarding unreadable notifications", "error", err)
		return nil
	}

	now := c.clock.Now()
	kept := items[:0]
	for _, n := range items {
		if n.Read && now.Sub(time.UnixMilli(n.Timestamp)) > c.retention {
			continue
		}
		n.Label = label(n.Timestamp, now)
		kept = append(kept, n)
	}
	if len(kept) > c.max {
		kept = kept[:c.max]
	}
	purged := len(items) - len(kept)

	c.mu.Lock()
	c.items = kept
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if purged > 0 {
		slog.Info("purged old notifications", "count", purged)
		c.persist()
	}
	c.notify(snap)
	return nil
}

// Add prepends a new unread record.
func (c *Center) Add(text string, typ models.NotificationType, tag string) models.Notification {
	now := c.clock.Now()
	n := models.Notification{
		ID:        uuid.NewString(),
		Tag:       tag,
		Text:      text,
		Type:      typ,
		Timestamp: now.UnixMilli(),
		Label:     label(now.UnixMilli(), now),
	}

	c.mu.Lock()
	c.items = append([]models.Notification{n}, c.items...)
	if len(c.items) > c.max {
		c.items = c.items[:c.max]
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.persist()
	c.notify(snap)
	return n
}

// MarkRead reports false when no record has id.
func (c *Center) MarkRead(id string) bool {
	return c.update(func(items []models.Notification) ([]models.Notification, bool) {
		for i := range items {
			if items[i].ID == id {
				items[i].Read = true
				return items, true
			}
		}
		return items, false
	})
}

func (c *Center) MarkAllRead() {
	c.update(func(items []models.Notification) ([]models.Notification, bool) {
		for i := range items {
			items[i].Read = true
		}
		return items, true
	})
}

// Remove reports false when no record has id.
func (c *Center) Remove(id string) bool {
	return c.update(func(items []models.Notification) ([]models.Notification, bool) {
		for i := range items {
			if items[i].ID == id {
				return append(items[:i], items[i+1:]...), true
			}
		}
		return items, false
	})
}

func (c *Center) Clear() {
	c.update(func([]models.Notification) ([]models.Notification, bool) {
		return nil, true
	})
}

func (c *Center) List() []models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	unread := 0
	for _, n := range c.items {
		if !n.Read {
			unread++
		}
	}
	return unread
}

// Start begins refreshing relative-time labels.
func (c *Center) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.timer = c.clock.AfterFunc(c.refresh, c.relabel)
}

func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Center) relabel() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	for i := range c.items {
		c.items[i].Label = label(c.items[i].Timestamp, now)
	}
	snap := c.snapshotLocked()
	c.timer = c.clock.AfterFunc(c.refresh, c.relabel)
	c.mu.Unlock()

	c.notify(snap)
}

// update applies fn to a copy of the list and persists the result when fn
// reports a change.
func (c *Center) update(fn func([]models.Notification) ([]models.Notification, bool)) bool {
	c.mu.Lock()
	next, changed := fn(c.snapshotLocked())
	if !changed {
		c.mu.Unlock()
		return false
	}
	c.items = next
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.persist()
	c.notify(snap)
	return true
}

func (c *Center) snapshotLocked() []models.Notification {
	return append([]models.Notification{}, c.items...)
}

// persist writes the list as it is at the time of the call. Writes are
// serialized, so the last one to finish always holds the latest list.
func (c *Center) persist() {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	items := c.snapshotLocked()
	c.mu.Unlock()

	data, err := json.Marshal(items)
	if err != nil {
		slog.Error("failed to encode notifications", "error", err)
		return
	}
	if err := c.store.Save(context.Background(), storage.KeyNotifications, data); err != nil {
		slog.Error("failed to persist notifications", "error", err)
	}
}

func (c *Center) notify(items []models.Notification) {
	c.mu.Lock()
	listeners := append([]func([]models.Notification){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(items)
	}
}

func label(ts int64, now time.Time) string {
	return humanize.RelTime(time.UnixMilli(ts), now, "ago", "from now")
}
