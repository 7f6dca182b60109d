package config

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := load(lookupMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Fatalf("Port=%q, want %q", cfg.Port, DefaultPort)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("AllowedOrigins=%v, want [*]", cfg.AllowedOrigins)
	}
	if cfg.Transport.PingInterval != 30*time.Second {
		t.Fatalf("PingInterval=%v, want 30s", cfg.Transport.PingInterval)
	}
	if cfg.Transport.HandshakeTimeout != 10*time.Second {
		t.Fatalf("HandshakeTimeout=%v, want 10s", cfg.Transport.HandshakeTimeout)
	}
	if cfg.Cleanup.Interval != 5*time.Minute {
		t.Fatalf("Cleanup.Interval=%v, want 5m", cfg.Cleanup.Interval)
	}
	if cfg.Cleanup.StreamTimeout != 30*time.Minute || cfg.Cleanup.ChatRoomTimeout != 30*time.Minute {
		t.Fatalf("room timeouts=%v/%v, want 30m", cfg.Cleanup.StreamTimeout, cfg.Cleanup.ChatRoomTimeout)
	}
	if cfg.Redis.Enabled() {
		t.Fatalf("redis enabled without REDIS_ADDR")
	}
	if cfg.Redis.ConnectAttempts != 5 || cfg.Redis.ConnectInterval != 3*time.Second {
		t.Fatalf("redis connect backoff=%d/%v, want 5/3s", cfg.Redis.ConnectAttempts, cfg.Redis.ConnectInterval)
	}
	if cfg.IsProduction() {
		t.Fatalf("default environment reported as production")
	}
}

func TestOverrides(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		"PORT":             "9000",
		"CORS_ORIGIN":      "https://a.example, https://b.example,",
		"PING_INTERVAL":    "15000",
		"PONG_TIMEOUT":     "45s",
		"STREAM_TIMEOUT":   "1h",
		"SEND_BUFFER":      "32",
		"REDIS_ADDR":       "localhost:6379",
		"LOG_LEVEL":        "DEBUG",
		"ENVIRONMENT":      "production",
		"CLEANUP_INTERVAL": "1m",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9000" {
		t.Fatalf("Port=%q", cfg.Port)
	}
	if got := strings.Join(cfg.AllowedOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Fatalf("AllowedOrigins=%q", got)
	}
	if cfg.Transport.PingInterval != 15*time.Second {
		t.Fatalf("PingInterval=%v, want 15s", cfg.Transport.PingInterval)
	}
	if cfg.Transport.PongTimeout != 45*time.Second {
		t.Fatalf("PongTimeout=%v, want 45s", cfg.Transport.PongTimeout)
	}
	if cfg.Cleanup.StreamTimeout != time.Hour {
		t.Fatalf("StreamTimeout=%v, want 1h", cfg.Cleanup.StreamTimeout)
	}
	if cfg.Transport.SendBuffer != 32 {
		t.Fatalf("SendBuffer=%d, want 32", cfg.Transport.SendBuffer)
	}
	if !cfg.Redis.Enabled() {
		t.Fatalf("expected redis enabled")
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel=%q, want debug", cfg.LogLevel)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production")
	}
}

func TestInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"port":          {"PORT": "http"},
		"duration":      {"CLEANUP_INTERVAL": "soon"},
		"negative":      {"STREAM_TIMEOUT": "-5s"},
		"int":           {"SEND_BUFFER": "lots"},
		"zero buffer":   {"SEND_BUFFER": "0"},
		"log level":     {"LOG_LEVEL": "verbose"},
		"pong vs ping":  {"PING_INTERVAL": "30s", "PONG_TIMEOUT": "20s"},
		"zero attempts": {"REDIS_CONNECT_ATTEMPTS": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := load(lookupMap(env)); err == nil {
				t.Fatalf("expected error for %v", env)
			}
		})
	}
}

func TestNewLoggerFormatFollowsEnvironment(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{Environment: "production", LogLevel: "info"}, &buf)
	logger.Debug("hidden")
	logger.Info("room.created", "stream_id", "s1")

	line := strings.TrimSpace(buf.String())
	if strings.Contains(line, "hidden") {
		t.Fatalf("debug entry emitted at info level: %q", line)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", line, err)
	}
	if entry["stream_id"] != "s1" {
		t.Fatalf("stream_id=%v", entry["stream_id"])
	}

	buf.Reset()
	logger = newLogger(&Config{Environment: "development", LogLevel: "debug"}, &buf)
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "msg=visible") {
		t.Fatalf("expected text debug line, got %q", buf.String())
	}
}
