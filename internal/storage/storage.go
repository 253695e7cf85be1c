package storage

import (
	"context"
	"errors"
)

// Persisted keys.
const (
	KeyLatestBanner  = "latest_sos_banner"
	KeyNotifications = "sidebar_notifications"
)

var ErrNotFound = errors.New("storage: key not found")

// Store is the local persisted state used by the banner and the
// notification center. Writers always store the complete value.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
