package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-sos-alerts/internal/api"
	"github.com/mr1hm/go-sos-alerts/internal/backend"
	"github.com/mr1hm/go-sos-alerts/internal/banner"
	"github.com/mr1hm/go-sos-alerts/internal/config"
	"github.com/mr1hm/go-sos-alerts/internal/effects"
	"github.com/mr1hm/go-sos-alerts/internal/feed"
	"github.com/mr1hm/go-sos-alerts/internal/logging"
	"github.com/mr1hm/go-sos-alerts/internal/models"
	"github.com/mr1hm/go-sos-alerts/internal/notify"
	"github.com/mr1hm/go-sos-alerts/internal/realtime"
	"github.com/mr1hm/go-sos-alerts/internal/storage"
	"github.com/mr1hm/go-sos-alerts/internal/stream"
	"github.com/mr1hm/go-sos-alerts/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, "sos-dashboard")

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	store, closeStore := openStore(cfg.DB.Path)
	defer closeStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcaster := stream.NewBroadcaster()

	mgr := realtime.NewManager(realtime.Options{
		URL:    cfg.Realtime.URL,
		Dialer: &realtime.WebsocketDialer{Header: authHeader(cfg.Backend.Token), HandshakeTimeout: 10 * time.Second},
		Backoff: realtime.Backoff{
			Initial: cfg.Realtime.Delay,
			Max:     cfg.Realtime.DelayMax,
		},
	})
	router := realtime.NewRouter(mgr)

	client := backend.NewClient(cfg.Backend.URL, cfg.Backend.Token, cfg.Backend.Timeout)
	alerts := feed.New(mgr, router, client, feed.Options{PollInterval: cfg.Feed.PollInterval})
	alerts.Subscribe(func(s feed.Snapshot) {
		broadcaster.Publish(stream.TypeAlerts, s.Alerts)
	})

	bannerState := banner.New(store, banner.Options{
		TTL:            cfg.Banner.TTL,
		SuppressRoutes: cfg.Banner.SuppressRoutes,
	})
	bannerState.OnChange(func(rec *banner.Record) {
		broadcaster.Publish(stream.TypeBanner, rec)
	})
	if err := bannerState.Load(ctx); err != nil {
		slog.Warn("failed to restore banner", "error", err)
	}
	bannerState.Attach(router)

	center := notify.New(store, notify.Options{
		Max:       cfg.Notifications.Max,
		Retention: cfg.Notifications.Retention,
		Refresh:   cfg.Notifications.Refresh,
	})
	center.OnChange(func(items []models.Notification) {
		broadcaster.Publish(stream.TypeNotifications, items)
	})
	if err := center.Load(ctx); err != nil {
		slog.Warn("failed to restore notifications", "error", err)
	}
	center.Start()
	center.Attach(router)

	pool := worker.NewWorkerPool(cfg.Worker.Count, cfg.Worker.BufferSize)
	pool.Start(ctx)

	fx := []effects.Effect{effects.NewToast(broadcaster)}
	if cfg.Effects.SoundEnabled {
		fx = append(fx, effects.NewSound(cfg.Effects.SoundCommand, cfg.Effects.SoundMinInterval, nil))
	}
	if cfg.Effects.DesktopEnabled {
		fx = append(fx, effects.NewDesktop(nil))
	}
	dispatcher := effects.NewDispatcher(pool, fx...)
	dispatcher.Attach(router)

	if cfg.Realtime.AuthorityID == "" {
		slog.Warn("AUTHORITY_ID is not set, registering without a user id")
	}
	mgr.Create(cfg.Realtime.AuthorityID)

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	engine.Use(api.RateLimitMiddleware(cfg.Server.RateLimit, "/health"))

	handler := api.NewHandler(api.Deps{
		Alerts:        alerts,
		Banner:        bannerState,
		Notifications: center,
		Stream:        broadcaster,
		Realtime:      mgr,
	})
	handler.RegisterRoutes(engine)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	dispatcher.Detach(router)
	center.Detach(router)
	bannerState.Detach(router)
	alerts.Close()
	mgr.Destroy(mgr.Current())

	cancel()
	pool.Stop()
	center.Close()
	bannerState.Close()
	broadcaster.Close() // Close all streams gracefully

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}

// openStore opens the SQLite state file. An empty DB_PATH keeps state in
// memory only.
func openStore(path string) (storage.Store, func()) {
	if path == "" {
		slog.Warn("DB_PATH is empty, banner and notifications will not survive a restart")
		return storage.NewMemoryStore(), func() {}
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			logging.Fatalf("Failed to create database directory: %v", err)
		}
	}
	db, err := storage.NewSQLiteStore(path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	return db, func() { db.Close() }
}

func authHeader(token string) http.Header {
	if token == "" {
		return nil
	}
	return http.Header{"Authorization": []string{"Bearer " + token}}
}
