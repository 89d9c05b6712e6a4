package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maxmed/visitstat/internal/logging"
)

// clearEnv unsets every variable Load reads so defaults are observable.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CONFIG_FILE", "LISTEN_ADDR", "SITE_DIR", "DB_PATH", "LOG_PATH",
		"MAXMIND_DB_PATH", "FINGERPRINT_SALT", "LIVE_WINDOW_MINUTES",
		"RETENTION_DAYS", "EVENT_BUFFER_SIZE", "COUNTER_FLUSH_INTERVAL",
		"CLEANUP_INTERVAL", "LOG_LEVEL", "LOG_FORMAT", "RATE_LIMIT_PER_MINUTE",
		"MAX_REQUEST_BODY_BYTES", "DB_MAX_CONNECTIONS", "DB_QUERY_TIMEOUT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	if cfg.ListenAddr != ":8406" {
		t.Errorf("ListenAddr = %q, want :8406", cfg.ListenAddr)
	}
	if cfg.DBPath != "./data/visitstat.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.LiveWindowMinutes != 5 {
		t.Errorf("LiveWindowMinutes = %d, want 5", cfg.LiveWindowMinutes)
	}
	if cfg.RetentionDays != 37 {
		t.Errorf("RetentionDays = %d, want 37", cfg.RetentionDays)
	}
	if cfg.CounterFlushInterval != 10*time.Second {
		t.Errorf("CounterFlushInterval = %v, want 10s", cfg.CounterFlushInterval)
	}
	if cfg.LogLevel != logging.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if len(cfg.LogPaths) != 0 {
		t.Errorf("LogPaths = %v, want empty", cfg.LogPaths)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEN_ADDR", ":9000")
	t.Setenv("FINGERPRINT_SALT", "secret")
	t.Setenv("LIVE_WINDOW_MINUTES", "15")
	t.Setenv("LOG_PATH", "/var/log/a.log, /var/log/b.log")
	t.Setenv("COUNTER_FLUSH_INTERVAL", "30s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	if cfg.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q, want :9000", cfg.ListenAddr)
	}
	if cfg.FingerprintSalt != "secret" {
		t.Errorf("FingerprintSalt = %q, want secret", cfg.FingerprintSalt)
	}
	if cfg.LiveWindowMinutes != 15 {
		t.Errorf("LiveWindowMinutes = %d, want 15", cfg.LiveWindowMinutes)
	}
	want := []string{"/var/log/a.log", "/var/log/b.log"}
	if len(cfg.LogPaths) != 2 || cfg.LogPaths[0] != want[0] || cfg.LogPaths[1] != want[1] {
		t.Errorf("LogPaths = %v, want %v", cfg.LogPaths, want)
	}
	if cfg.CounterFlushInterval != 30*time.Second {
		t.Errorf("CounterFlushInterval = %v, want 30s", cfg.CounterFlushInterval)
	}
	if cfg.LogLevel != logging.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "visitstat.toml")
	content := `
listen_addr = ":7777"
fingerprint_salt = "from-file"
live_window_minutes = 10
counter_flush_interval = "1m"
log_paths = ["/srv/access.log"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg := Load()
	if cfg.ListenAddr != ":7777" {
		t.Errorf("ListenAddr = %q, want :7777", cfg.ListenAddr)
	}
	if cfg.FingerprintSalt != "from-file" {
		t.Errorf("FingerprintSalt = %q, want from-file", cfg.FingerprintSalt)
	}
	if cfg.LiveWindowMinutes != 10 {
		t.Errorf("LiveWindowMinutes = %d, want 10", cfg.LiveWindowMinutes)
	}
	if cfg.CounterFlushInterval != time.Minute {
		t.Errorf("CounterFlushInterval = %v, want 1m", cfg.CounterFlushInterval)
	}
	if len(cfg.LogPaths) != 1 || cfg.LogPaths[0] != "/srv/access.log" {
		t.Errorf("LogPaths = %v", cfg.LogPaths)
	}
}

func TestLoad_EnvBeatsConfigFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "visitstat.toml")
	if err := os.WriteFile(path, []byte(`listen_addr = ":7777"`), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LISTEN_ADDR", ":9999")

	cfg := Load()
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want :9999 (env must beat file)", cfg.ListenAddr)
	}
}

func TestLoad_LiveWindowClamped(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"0", 5},
		{"-3", 5},
		{"61", 5},
		{"999", 5},
		{"60", 60},
		{"1", 1},
		{"not-a-number", 5},
	}
	for _, tt := range tests {
		clearEnv(t)
		t.Setenv("LIVE_WINDOW_MINUTES", tt.value)
		cfg := Load()
		if cfg.LiveWindowMinutes != tt.want {
			t.Errorf("LIVE_WINDOW_MINUTES=%q: got %d, want %d", tt.value, cfg.LiveWindowMinutes, tt.want)
		}
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("RETENTION_DAYS", "zero")
	t.Setenv("COUNTER_FLUSH_INTERVAL", "soon")
	t.Setenv("CONFIG_FILE", "/nonexistent/visitstat.toml")

	cfg := Load()
	if cfg.RetentionDays != 37 {
		t.Errorf("RetentionDays = %d, want default 37", cfg.RetentionDays)
	}
	if cfg.CounterFlushInterval != 10*time.Second {
		t.Errorf("CounterFlushInterval = %v, want default 10s", cfg.CounterFlushInterval)
	}
	if cfg.ListenAddr != ":8406" {
		t.Errorf("ListenAddr = %q, missing file must leave defaults intact", cfg.ListenAddr)
	}
}
