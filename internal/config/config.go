package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/maxmed/visitstat/internal/logging"
)

type Config struct {
	ListenAddr           string
	SiteDir              string
	DBPath               string
	LogPaths             []string
	MaxMindDBPath        string
	FingerprintSalt      string
	LiveWindowMinutes    int
	RetentionDays        int
	EventBufferSize      int
	CounterFlushInterval time.Duration
	CleanupInterval      time.Duration
	LogLevel             logging.Level
	LogFormat            logging.Format
	RateLimitPerMinute   int
	MaxRequestBodyBytes  int64
	DBMaxConnections     int
	DBQueryTimeout       time.Duration
}

// fileConfig mirrors the optional TOML config file. Every value can still be
// overridden by its environment variable.
type fileConfig struct {
	ListenAddr           string   `toml:"listen_addr"`
	SiteDir              string   `toml:"site_dir"`
	DBPath               string   `toml:"db_path"`
	LogPaths             []string `toml:"log_paths"`
	MaxMindDBPath        string   `toml:"maxmind_db_path"`
	FingerprintSalt      string   `toml:"fingerprint_salt"`
	LiveWindowMinutes    int      `toml:"live_window_minutes"`
	RetentionDays        int      `toml:"retention_days"`
	EventBufferSize      int      `toml:"event_buffer_size"`
	CounterFlushInterval string   `toml:"counter_flush_interval"`
	CleanupInterval      string   `toml:"cleanup_interval"`
	LogLevel             string   `toml:"log_level"`
	LogFormat            string   `toml:"log_format"`
	RateLimitPerMinute   int      `toml:"rate_limit_per_minute"`
	MaxRequestBodyBytes  int64    `toml:"max_request_body_bytes"`
	DBMaxConnections     int      `toml:"db_max_connections"`
	DBQueryTimeout       string   `toml:"db_query_timeout"`
}

// Load builds the configuration from defaults, the optional TOML file named by
// CONFIG_FILE, and environment variables, in increasing order of precedence.
func Load() Config {
	fc := fileConfig{
		ListenAddr:           ":8406",
		SiteDir:              "./site",
		DBPath:               "./data/visitstat.db",
		FingerprintSalt:      "visitstat",
		LiveWindowMinutes:    5,
		RetentionDays:        37,
		EventBufferSize:      1024,
		CounterFlushInterval: "10s",
		CleanupInterval:      "12h",
		LogLevel:             "INFO",
		LogFormat:            "text",
		MaxRequestBodyBytes:  1 << 20,
		DBMaxConnections:     1,
		DBQueryTimeout:       "30s",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &fc); err != nil {
			slog.Warn("config file ignored", "path", path, "error", err)
		}
	}

	cfg := Config{
		ListenAddr:           getEnv("LISTEN_ADDR", fc.ListenAddr),
		SiteDir:              getEnv("SITE_DIR", fc.SiteDir),
		DBPath:               getEnv("DB_PATH", fc.DBPath),
		LogPaths:             splitEnv("LOG_PATH", fc.LogPaths),
		MaxMindDBPath:        getEnv("MAXMIND_DB_PATH", fc.MaxMindDBPath),
		FingerprintSalt:      getEnv("FINGERPRINT_SALT", fc.FingerprintSalt),
		LiveWindowMinutes:    getEnvInt("LIVE_WINDOW_MINUTES", fc.LiveWindowMinutes),
		RetentionDays:        getEnvInt("RETENTION_DAYS", fc.RetentionDays),
		EventBufferSize:      getEnvInt("EVENT_BUFFER_SIZE", fc.EventBufferSize),
		CounterFlushInterval: getEnvDuration("COUNTER_FLUSH_INTERVAL", parseDuration(fc.CounterFlushInterval, 10*time.Second)),
		CleanupInterval:      getEnvDuration("CLEANUP_INTERVAL", parseDuration(fc.CleanupInterval, 12*time.Hour)),
		LogLevel:             logging.ParseLevel(getEnv("LOG_LEVEL", fc.LogLevel)),
		LogFormat:            logging.ParseFormat(getEnv("LOG_FORMAT", fc.LogFormat)),
		RateLimitPerMinute:   getEnvInt("RATE_LIMIT_PER_MINUTE", fc.RateLimitPerMinute),
		MaxRequestBodyBytes:  getEnvInt64("MAX_REQUEST_BODY_BYTES", fc.MaxRequestBodyBytes),
		DBMaxConnections:     getEnvInt("DB_MAX_CONNECTIONS", fc.DBMaxConnections),
		DBQueryTimeout:       getEnvDuration("DB_QUERY_TIMEOUT", parseDuration(fc.DBQueryTimeout, 30*time.Second)),
	}

	if cfg.LiveWindowMinutes < 1 || cfg.LiveWindowMinutes > 60 {
		slog.Warn("live window out of range, using default", "minutes", cfg.LiveWindowMinutes)
		cfg.LiveWindowMinutes = 5
	}
	if cfg.RetentionDays < 1 {
		cfg.RetentionDays = 37
	}

	return cfg
}

func loadFile(path string, fc *fileConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(data, fc); err != nil {
		return fmt.Errorf("parse toml: %w", err)
	}
	return nil
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration in config file", "value", val, "error", err)
		return def
	}
	return d
}

func splitEnv(key string, def []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parts := strings.Split(val, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid int environment variable", "key", key, "value", val, "error", err)
		return def
	}
	return parsed
}

func getEnvInt64(key string, def int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		slog.Warn("invalid int64 environment variable", "key", key, "value", val, "error", err)
		return def
	}
	return parsed
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration environment variable", "key", key, "value", val, "error", err)
		return def
	}
	return parsed
}
