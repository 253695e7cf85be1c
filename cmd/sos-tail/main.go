package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mr1hm/go-sos-alerts/internal/config"
	"github.com/mr1hm/go-sos-alerts/internal/logging"
	"github.com/mr1hm/go-sos-alerts/internal/models"
	"github.com/mr1hm/go-sos-alerts/internal/realtime"
)

// sos-tail prints every realtime event the authority channel delivers.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, "sos-tail")

	slog.Info("tailing realtime events", "url", cfg.Realtime.URL, "user_id", cfg.Realtime.AuthorityID)

	var header map[string][]string
	if cfg.Backend.Token != "" {
		header = map[string][]string{"Authorization": {"Bearer " + cfg.Backend.Token}}
	}
	mgr := realtime.NewManager(realtime.Options{
		URL:    cfg.Realtime.URL,
		Dialer: &realtime.WebsocketDialer{Header: header},
		Backoff: realtime.Backoff{
			Initial: cfg.Realtime.Delay,
			Max:     cfg.Realtime.DelayMax,
		},
	})
	router := realtime.NewRouter(mgr)

	events := []string{
		models.EventNewSOSAlert,
		models.EventTouristCheckin,
		models.EventAlertStatusUpdate,
		models.EventLocationUpdate,
	}
	for _, event := range events {
		router.On(event, realtime.NewHandler("tail", logEvent(event)))
	}

	remove := mgr.OnStateChange(func(s realtime.State) {
		slog.Info("realtime state changed", "state", s.String())
	})
	defer remove()

	conn := mgr.Create(cfg.Realtime.AuthorityID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	mgr.Destroy(conn)
	slog.Info("shutdown complete")
}

func logEvent(event string) realtime.HandlerFunc {
	return func(data json.RawMessage) error {
		if event == models.EventNewSOSAlert {
			n, err := models.NormalizeAlert(data)
			if err != nil {
				return err
			}
			slog.Info("sos alert",
				"alert_id", n.Alert.ID,
				"tourist", n.Alert.TouristName,
				"severity", n.Alert.Severity,
				"status", n.Alert.Status,
				"derived_id", n.DerivedID,
			)
			return nil
		}
		slog.Info("realtime event", "event", event, "data", string(data))
		return nil
	}
}
