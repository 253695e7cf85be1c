package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	return s
}

func TestSQLiteStore_SaveAndLoad(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	if err := s.Save(ctx, KeyLatestBanner, []byte(`{"timestamp":1}`)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Load(ctx, KeyLatestBanner)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(got) != `{"timestamp":1}` {
		t.Errorf("unexpected value %s", got)
	}
}

func TestSQLiteStore_Overwrite(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	s.Save(ctx, KeyNotifications, []byte(`[1]`))
	s.Save(ctx, KeyNotifications, []byte(`[1,2]`))

	got, err := s.Load(ctx, KeyNotifications)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(got) != `[1,2]` {
		t.Errorf("expected overwritten value, got %s", got)
	}
}

func TestSQLiteStore_NotFound(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	_, err := s.Load(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()
	s.Save(ctx, KeyLatestBanner, []byte(`{}`))
	if err := s.Delete(ctx, KeyLatestBanner); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Load(ctx, KeyLatestBanner); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing key is not an error
	if err := s.Delete(ctx, "never-set"); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	s.Save(ctx, KeyLatestBanner, []byte(`{"alert":{}}`))
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	got, err := s.Load(ctx, KeyLatestBanner)
	if err != nil {
		t.Fatalf("Load after reopen failed: %v", err)
	}
	if string(got) != `{"alert":{}}` {
		t.Errorf("unexpected value %s", got)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	buf := []byte("abc")
	m.Save(ctx, "k", buf)
	buf[0] = 'x'

	got, err := m.Load(ctx, "k")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("store should copy values, got %s", got)
	}

	m.Delete(ctx, "k")
	if _, err := m.Load(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
