package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig
	Backend       BackendConfig
	Realtime      RealtimeConfig
	Feed          FeedConfig
	Banner        BannerConfig
	Notifications NotificationConfig
	Effects       EffectsConfig
	Worker        WorkerConfig
	DB            DatabaseConfig
	Logging       LoggingConfig
}

type ServerConfig struct {
	Host      string
	Port      int
	RateLimit int
}

type BackendConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

type RealtimeConfig struct {
	URL         string
	AuthorityID string
	Delay       time.Duration
	DelayMax    time.Duration
}

type FeedConfig struct {
	PollInterval time.Duration
}

type BannerConfig struct {
	TTL            time.Duration
	SuppressRoutes []string
}

type NotificationConfig struct {
	Max       int
	Retention time.Duration
	Refresh   time.Duration
}

type EffectsConfig struct {
	SoundEnabled     bool
	SoundCommand     []string
	SoundMinInterval time.Duration
	DesktopEnabled   bool
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:      getEnv("SERVER_HOST", "localhost"),
			Port:      getEnvInt("SERVER_PORT", 8080),
			RateLimit: getEnvInt("RATE_LIMIT_RPS", 20),
		},
		Backend: BackendConfig{
			URL:     getEnv("BACKEND_URL", "http://localhost:5000"),
			Token:   getEnv("AUTH_TOKEN", ""),
			Timeout: getEnvDuration("BACKEND_TIMEOUT", 10*time.Second),
		},
		Realtime: RealtimeConfig{
			URL:         getEnv("REALTIME_URL", "ws://localhost:5000/ws"),
			AuthorityID: getEnv("AUTHORITY_ID", ""),
			Delay:       getEnvDuration("RECONNECT_DELAY", time.Second),
			DelayMax:    getEnvDuration("RECONNECT_DELAY_MAX", 5*time.Second),
		},
		Feed: FeedConfig{
			PollInterval: getEnvDuration("POLL_INTERVAL", 5*time.Second),
		},
		Banner: BannerConfig{
			TTL:            getEnvDuration("BANNER_TTL", 60*time.Second),
			SuppressRoutes: getEnvList("BANNER_SUPPRESS_ROUTES", []string{"/alerts"}),
		},
		Notifications: NotificationConfig{
			Max:       getEnvInt("NOTIFICATION_MAX", 50),
			Retention: getEnvDuration("NOTIFICATION_RETENTION", 24*time.Hour),
			Refresh:   getEnvDuration("NOTIFICATION_REFRESH", 30*time.Second),
		},
		Effects: EffectsConfig{
			SoundEnabled:     getEnvBool("SOUND_ENABLED", false),
			SoundCommand:     strings.Fields(getEnv("SOUND_COMMAND", "paplay /usr/share/sounds/freedesktop/stereo/alarm-clock-elapsed.oga")),
			SoundMinInterval: getEnvDuration("SOUND_MIN_INTERVAL", 3*time.Second),
			DesktopEnabled:   getEnvBool("DESKTOP_NOTIFY_ENABLED", false),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 2),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 20),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/sos-dashboard.db"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimit < 1 {
		return fmt.Errorf("rate limit must be positive: %d", c.Server.RateLimit)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if _, err := url.ParseRequestURI(c.Backend.URL); err != nil {
		return fmt.Errorf("invalid backend url: %w", err)
	}
	u, err := url.Parse(c.Realtime.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("realtime url must be ws:// or wss://: %q", c.Realtime.URL)
	}

	intervals := map[string]time.Duration{
		"poll interval":          c.Feed.PollInterval,
		"banner ttl":             c.Banner.TTL,
		"notification retention": c.Notifications.Retention,
		"notification refresh":   c.Notifications.Refresh,
		"reconnect delay":        c.Realtime.Delay,
		"backend timeout":        c.Backend.Timeout,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Realtime.DelayMax < c.Realtime.Delay {
		return fmt.Errorf("reconnect delay max %s is below reconnect delay %s", c.Realtime.DelayMax, c.Realtime.Delay)
	}

	if c.Notifications.Max < 1 {
		return fmt.Errorf("notification max must be positive: %d", c.Notifications.Max)
	}
	if c.Effects.SoundEnabled && len(c.Effects.SoundCommand) == 0 {
		return fmt.Errorf("SOUND_COMMAND is required when sound is enabled")
	}
	if c.Worker.Count < 1 || c.Worker.BufferSize < 1 {
		return fmt.Errorf("worker count and buffer size must be positive")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList reads a comma separated list. An explicitly empty value
// cannot be expressed, so "-" stands for the empty list.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if val == "-" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
