package effects

import (
	"context"
	"fmt"

	"github.com/mr1hm/go-sos-alerts/internal/models"
)

const appName = "sos-dashboard"

// Desktop raises an operating system notification for each new alert.
type Desktop struct {
	run Runner
}

func NewDesktop(run Runner) *Desktop {
	if run == nil {
		run = ExecRunner
	}
	return &Desktop{run: run}
}

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) Fire(ctx context.Context, a models.Alert) error {
	title, body := describe(a)
	urgency := "normal"
	if a.Severity == models.AlertSeverityCritical || a.Severity == models.AlertSeverityHigh {
		urgency = "critical"
	}

	name, args := notifyCommand(title, body, urgency)
	if name == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := d.run(ctx, name, args...); err != nil {
		return fmt.Errorf("error sending desktop notification: %w", err)
	}
	return nil
}
