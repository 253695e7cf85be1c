package notify

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/mr1hm/go-sos-alerts/internal/clock"
	"github.com/mr1hm/go-sos-alerts/internal/models"
	"github.com/mr1hm/go-sos-alerts/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

func newCenter(store storage.Store, clk clock.Clock) *Center {
	return New(store, Options{Max: 5, Clock: clk})
}

func persisted(t *testing.T, store storage.Store) []models.Notification {
	t.Helper()
	data, err := store.Load(context.Background(), storage.KeyNotifications)
	if err != nil {
		t.Fatalf("expected persisted notifications: %v", err)
	}
	var items []models.Notification
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatal(err)
	}
	return items
}

func TestCenter_AddPrependsUnread(t *testing.T) {
	store := storage.NewMemoryStore()
	c := newCenter(store, clock.NewFake(epoch))

	first := c.Add("first", models.NotificationInfo, "Status")
	second := c.Add("second", models.NotificationError, "SOS")

	list := c.List()
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}
	if list[0].Read || c.UnreadCount() != 2 {
		t.Errorf("expected unread records, unread=%d", c.UnreadCount())
	}
	if list[0].Timestamp != epoch.UnixMilli() {
		t.Errorf("unexpected timestamp %d", list[0].Timestamp)
	}
	if first.ID == second.ID || first.ID == "" {
		t.Error("expected distinct generated ids")
	}
	if got := persisted(t, store); len(got) != 2 {
		t.Errorf("expected 2 persisted records, got %d", len(got))
	}
}

func TestCenter_AddDropsOldestOverCap(t *testing.T) {
	c := newCenter(storage.NewMemoryStore(), clock.NewFake(epoch))
	for i := 0; i < 7; i++ {
		c.Add(string(rune('a'+i)), models.NotificationInfo, "Status")
	}

	list := c.List()
	if len(list) != 5 {
		t.Fatalf("expected cap of 5, got %d", len(list))
	}
	if list[0].Text != "g" || list[4].Text != "c" {
		t.Errorf("expected newest five kept, got %s..%s", list[0].Text, list[4].Text)
	}
}

func TestCenter_Mutations(t *testing.T) {
	store := storage.NewMemoryStore()
	c := newCenter(store, clock.NewFake(epoch))
	a := c.Add("a", models.NotificationInfo, "Status")
	b := c.Add("b", models.NotificationInfo, "Status")

	if !c.MarkRead(a.ID) {
		t.Fatal("expected MarkRead to find the record")
	}
	if c.MarkRead("missing") {
		t.Error("expected MarkRead to report unknown ids")
	}
	if c.UnreadCount() != 1 {
		t.Errorf("expected 1 unread, got %d", c.UnreadCount())
	}

	c.MarkAllRead()
	if c.UnreadCount() != 0 {
		t.Errorf("expected all read, got %d unread", c.UnreadCount())
	}
	for _, n := range persisted(t, store) {
		if !n.Read {
			t.Errorf("expected persisted read flag on %s", n.ID)
		}
	}

	if !c.Remove(b.ID) {
		t.Fatal("expected Remove to find the record")
	}
	if list := c.List(); len(list) != 1 || list[0].ID != a.ID {
		t.Errorf("expected only a left, got %+v", list)
	}

	c.Clear()
	if len(c.List()) != 0 || len(persisted(t, store)) != 0 {
		t.Error("expected empty list after Clear")
	}
}

func TestCenter_LoadPurgesOldReadRecords(t *testing.T) {
	store := storage.NewMemoryStore()
	old := epoch.Add(-25 * time.Hour).UnixMilli()
	recent := epoch.Add(-time.Hour).UnixMilli()
	items := []models.Notification{
		{ID: "recent-read", Read: true, Timestamp: recent},
		{ID: "old-unread", Read: false, Timestamp: old},
		{ID: "old-read", Read: true, Timestamp: old},
	}
	data, _ := json.Marshal(items)
	store.Save(context.Background(), storage.KeyNotifications, data)

	c := newCenter(store, clock.NewFake(epoch))
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	list := c.List()
	if len(list) != 2 || list[0].ID != "recent-read" || list[1].ID != "old-unread" {
		t.Fatalf("expected read record older than 24h purged, got %+v", list)
	}
	if list[1].Label != "1 day ago" {
		t.Errorf("expected relabel on load, got %q", list[1].Label)
	}
	if got := persisted(t, store); len(got) != 2 {
		t.Errorf("expected purge persisted, got %d records", len(got))
	}
}

func TestCenter_LoadWithoutRecords(t *testing.T) {
	c := newCenter(storage.NewMemoryStore(), clock.NewFake(epoch))
	if err := c.Load(context.Background()); err != nil {
		t.Errorf("expected nil for missing key, got %v", err)
	}
	if len(c.List()) != 0 {
		t.Error("expected empty list")
	}
}

func TestCenter_RefreshUpdatesLabelsOnly(t *testing.T) {
	clk := clock.NewFake(epoch)
	c := New(storage.NewMemoryStore(), Options{Refresh: 30 * time.Second, Clock: clk})

	var mu sync.Mutex
	refreshes := 0
	c.OnChange(func([]models.Notification) {
		mu.Lock()
		refreshes++
		mu.Unlock()
	})

	n := c.Add("a", models.NotificationInfo, "Status")
	c.Start()
	defer c.Close()

	clk.Advance(3 * time.Minute)

	got := c.List()[0]
	if got.Timestamp != n.Timestamp {
		t.Error("refresh must not touch timestamps")
	}
	if !strings.Contains(got.Label, "minutes ago") {
		t.Errorf("expected refreshed label, got %q", got.Label)
	}
	mu.Lock()
	if refreshes < 7 {
		t.Errorf("expected add plus six refreshes, got %d", refreshes)
	}
	mu.Unlock()
}

func TestCenter_CloseStopsRefresh(t *testing.T) {
	clk := clock.NewFake(epoch)
	c := newCenter(storage.NewMemoryStore(), clk)
	c.Start()
	c.Close()

	if clk.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", clk.Pending())
	}
}

// gatedStore blocks the first Save until release is closed.
type gatedStore struct {
	*storage.MemoryStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		MemoryStore: storage.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedStore) Save(ctx context.Context, key string, value []byte) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.MemoryStore.Save(ctx, key, value)
}

func TestCenter_ConcurrentWritesKeepLatestList(t *testing.T) {
	store := newGatedStore()
	c := newCenter(store, clock.NewFake(epoch))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.Add("sos", models.NotificationError, "SOS")
	}()
	<-store.entered

	go func() {
		defer wg.Done()
		c.Add("check-in", models.NotificationSuccess, "Check-in")
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(c.List()) != 2 {
		if time.Now().After(deadline) {
			t.Fatal("expected the second record in memory while the first write is held")
		}
		time.Sleep(time.Millisecond)
	}
	close(store.release)
	wg.Wait()

	got := persisted(t, store)
	if len(got) != 2 || got[0].Text != "check-in" || got[1].Text != "sos" {
		t.Errorf("expected persisted [check-in sos], got %+v", got)
	}
}
