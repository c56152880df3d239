package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultPumpProgramID is the pump.fun bonding-curve program. The log
// stream subscribes with this as its account filter unless overridden.
const DefaultPumpProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

type Config struct {
	App struct {
		Environment      string
		LogLevel         string
		ListenAddr       string
		FeedCapacity     int
		SubscriberBuffer int
	}

	PumpPortal struct {
		Enabled bool
		URL     string
	}

	LogStream struct {
		Enabled         bool
		URL             string
		APIKey          string
		Programs        []string
		Commitment      string
		MaxMessageBytes int64
	}

	Poller struct {
		Enabled  bool
		URL      string
		Interval time.Duration
	}

	Backoff struct {
		Base time.Duration
		Max  time.Duration
	}

	Timeouts struct {
		Handshake        time.Duration
		Read             time.Duration
		Write            time.Duration
		SubscribeConfirm time.Duration
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// App settings
	cfg.App.Environment = getEnvOrDefault("APP_ENV", "production")
	cfg.App.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.App.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8080")
	cfg.App.FeedCapacity = getEnvAsIntOrDefault("FEED_CAPACITY", 100)
	cfg.App.SubscriberBuffer = getEnvAsIntOrDefault("SUBSCRIBER_BUFFER", 64)

	// PumpPortal WebSocket feed
	cfg.PumpPortal.Enabled = getEnvAsBoolOrDefault("PUMPPORTAL_ENABLED", true)
	cfg.PumpPortal.URL = getEnvOrDefault("PUMPPORTAL_URL", "wss://pumpportal.fun/api/data")

	// Program log stream (RPC provider WebSocket, requires an API key)
	cfg.LogStream.Enabled = getEnvAsBoolOrDefault("LOGSTREAM_ENABLED", false)
	cfg.LogStream.URL = os.Getenv("LOGSTREAM_URL")
	cfg.LogStream.APIKey = os.Getenv("LOGSTREAM_API_KEY")
	cfg.LogStream.Programs = splitList(getEnvOrDefault("LOGSTREAM_PROGRAMS", DefaultPumpProgramID))
	cfg.LogStream.Commitment = getEnvOrDefault("LOGSTREAM_COMMITMENT", "confirmed")
	cfg.LogStream.MaxMessageBytes = int64(getEnvAsIntOrDefault("LOGSTREAM_MAX_MESSAGE_BYTES", 10*1024*1024))

	// REST listing poller, degraded fallback
	cfg.Poller.Enabled = getEnvAsBoolOrDefault("POLLER_ENABLED", false)
	cfg.Poller.URL = getEnvOrDefault("POLLER_URL",
		"https://frontend-api.pump.fun/coins?offset=0&limit=50&sort=created_timestamp&order=DESC&includeNsfw=false")
	cfg.Poller.Interval = getEnvAsDurationOrDefault("POLLER_INTERVAL_SECS", 15) * time.Second

	cfg.Backoff.Base = getEnvAsDurationOrDefault("BACKOFF_BASE_MS", 1000) * time.Millisecond
	cfg.Backoff.Max = getEnvAsDurationOrDefault("BACKOFF_MAX_SECS", 30) * time.Second

	cfg.Timeouts.Handshake = getEnvAsDurationOrDefault("HANDSHAKE_TIMEOUT_SECS", 10) * time.Second
	cfg.Timeouts.Read = getEnvAsDurationOrDefault("READ_TIMEOUT_SECS", 60) * time.Second
	cfg.Timeouts.Write = getEnvAsDurationOrDefault("WRITE_TIMEOUT_SECS", 10) * time.Second
	cfg.Timeouts.SubscribeConfirm = getEnvAsDurationOrDefault("SUBSCRIBE_CONFIRM_TIMEOUT_SECS", 30) * time.Second

	return cfg, validate(cfg)
}

func validate(cfg *Config) error {
	if !cfg.PumpPortal.Enabled && !cfg.LogStream.Enabled && !cfg.Poller.Enabled {
		return errors.New("no sources enabled")
	}
	if cfg.App.FeedCapacity <= 0 {
		return errors.New("invalid FEED_CAPACITY")
	}
	if cfg.App.SubscriberBuffer <= 0 {
		return errors.New("invalid SUBSCRIBER_BUFFER")
	}
	if cfg.PumpPortal.Enabled {
		if err := validateURL(cfg.PumpPortal.URL, "ws"); err != nil {
			return fmt.Errorf("PUMPPORTAL_URL: %w", err)
		}
	}
	if cfg.LogStream.Enabled {
		if cfg.LogStream.APIKey == "" {
			return errors.New("LOGSTREAM_API_KEY is required when the log stream is enabled")
		}
		if err := validateURL(cfg.LogStream.URL, "ws"); err != nil {
			return fmt.Errorf("LOGSTREAM_URL: %w", err)
		}
		if len(cfg.LogStream.Programs) == 0 {
			return errors.New("LOGSTREAM_PROGRAMS is empty")
		}
	}
	if cfg.Poller.Enabled {
		if err := validateURL(cfg.Poller.URL, "http"); err != nil {
			return fmt.Errorf("POLLER_URL: %w", err)
		}
		if cfg.Poller.Interval <= 0 {
			return errors.New("invalid POLLER_INTERVAL_SECS")
		}
	}
	if cfg.Backoff.Base <= 0 || cfg.Backoff.Max < cfg.Backoff.Base {
		return errors.New("invalid backoff configuration")
	}
	return nil
}

func validateURL(rawURL, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	if parsed.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if clean := strings.TrimSpace(part); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDurationOrDefault(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsIntOrDefault(key, defaultValue))
}
