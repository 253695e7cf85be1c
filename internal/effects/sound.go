package effects

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"golang.org/x/time/rate"

	"github.com/mr1hm/go-sos-alerts/internal/models"
)

const commandTimeout = 10 * time.Second

// Runner executes an external command.
type Runner func(ctx context.Context, name string, args ...string) error

func ExecRunner(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Sound plays an alarm through an external player, at most once per
// minInterval however many alerts arrive.
type Sound struct {
	command []string
	limiter *rate.Limiter
	run     Runner
}

func NewSound(command []string, minInterval time.Duration, run Runner) *Sound {
	if run == nil {
		run = ExecRunner
	}
	return &Sound{
		command: command,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		run:     run,
	}
}

func (s *Sound) Name() string { return "sound" }

func (s *Sound) Fire(ctx context.Context, a models.Alert) error {
	if len(s.command) == 0 {
		return nil
	}
	if !s.limiter.Allow() {
		slog.Debug("alarm sound rate limited", "alert_id", a.ID)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := s.run(ctx, s.command[0], s.command[1:]...); err != nil {
		return fmt.Errorf("error playing alarm: %w", err)
	}
	return nil
}
