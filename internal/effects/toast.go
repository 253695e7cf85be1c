package effects

import (
	"context"

	"github.com/mr1hm/go-sos-alerts/internal/models"
	"github.com/mr1hm/go-sos-alerts/internal/stream"
)

type Publisher interface {
	Publish(msgType string, data any)
}

// Toast pushes a popup to connected dashboard clients.
type Toast struct {
	pub Publisher
}

func NewToast(pub Publisher) *Toast {
	return &Toast{pub: pub}
}

func (t *Toast) Name() string { return "toast" }

func (t *Toast) Fire(ctx context.Context, a models.Alert) error {
	title, body := describe(a)
	t.pub.Publish(stream.TypeToast, stream.Toast{
		AlertID:  a.ID,
		Title:    title,
		Body:     body,
		Severity: string(a.Severity),
	})
	return nil
}
