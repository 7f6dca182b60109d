package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	LogLevel       string

	Transport TransportConfig
	Cleanup   CleanupConfig
	Redis     RedisConfig

	ShutdownTimeout time.Duration
}

// TransportConfig controls per-connection websocket behaviour.
type TransportConfig struct {
	PingInterval     time.Duration
	PongTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SendBuffer       int
}

// CleanupConfig controls the janitor sweep. Room age is measured from creation,
// not from last activity.
type CleanupConfig struct {
	Interval        time.Duration
	StreamTimeout   time.Duration
	ChatRoomTimeout time.Duration
}

// RedisConfig is optional; an empty Addr disables the presence mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	ConnectAttempts int
	ConnectInterval time.Duration
	PresenceTTL     time.Duration
}

const (
	DefaultPort             = "34567"
	DefaultPingInterval     = 30 * time.Second
	DefaultPongTimeout      = 60 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultSendBuffer       = 256
	DefaultCleanupInterval  = 5 * time.Minute
	DefaultRoomTimeout      = 30 * time.Minute
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultConnectAttempts  = 5
	DefaultConnectInterval  = 3 * time.Second
	DefaultPresenceTTL      = 24 * time.Hour
)

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// IsProduction reports whether the process runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{
		Port:           getEnv(lookup, "PORT", DefaultPort),
		Environment:    getEnv(lookup, "ENVIRONMENT", "development"),
		AllowedOrigins: splitCSV(getEnv(lookup, "CORS_ORIGIN", "*")),
		LogLevel:       strings.ToLower(getEnv(lookup, "LOG_LEVEL", "info")),
		Redis: RedisConfig{
			Addr:     getEnv(lookup, "REDIS_ADDR", ""),
			Password: getEnv(lookup, "REDIS_PASSWORD", ""),
		},
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT %q: %w", cfg.Port, err)
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"PING_INTERVAL", &cfg.Transport.PingInterval, DefaultPingInterval},
		{"PONG_TIMEOUT", &cfg.Transport.PongTimeout, DefaultPongTimeout},
		{"HANDSHAKE_TIMEOUT", &cfg.Transport.HandshakeTimeout, DefaultHandshakeTimeout},
		{"WRITE_TIMEOUT", &cfg.Transport.WriteTimeout, DefaultWriteTimeout},
		{"CLEANUP_INTERVAL", &cfg.Cleanup.Interval, DefaultCleanupInterval},
		{"STREAM_TIMEOUT", &cfg.Cleanup.StreamTimeout, DefaultRoomTimeout},
		{"CHAT_ROOM_TIMEOUT", &cfg.Cleanup.ChatRoomTimeout, DefaultRoomTimeout},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, DefaultShutdownTimeout},
		{"REDIS_CONNECT_INTERVAL", &cfg.Redis.ConnectInterval, DefaultConnectInterval},
		{"PRESENCE_TTL", &cfg.Redis.PresenceTTL, DefaultPresenceTTL},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(lookup, d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"SEND_BUFFER", &cfg.Transport.SendBuffer, DefaultSendBuffer},
		{"REDIS_DB", &cfg.Redis.DB, 0},
		{"REDIS_CONNECT_ATTEMPTS", &cfg.Redis.ConnectAttempts, DefaultConnectAttempts},
	}
	for _, i := range ints {
		if *i.dst, err = getEnvInt(lookup, i.key, i.def); err != nil {
			return nil, err
		}
	}

	if cfg.Transport.PongTimeout <= cfg.Transport.PingInterval {
		return nil, fmt.Errorf("PONG_TIMEOUT (%s) must be greater than PING_INTERVAL (%s)",
			cfg.Transport.PongTimeout, cfg.Transport.PingInterval)
	}
	if cfg.Transport.SendBuffer < 1 {
		return nil, fmt.Errorf("SEND_BUFFER must be positive, got %d", cfg.Transport.SendBuffer)
	}
	if cfg.Redis.ConnectAttempts < 1 {
		return nil, fmt.Errorf("REDIS_CONNECT_ATTEMPTS must be positive, got %d", cfg.Redis.ConnectAttempts)
	}

	return cfg, nil
}

func getEnv(lookup func(string) (string, bool), key, defaultValue string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvInt(lookup func(string) (string, bool), key string, defaultValue int) (int, error) {
	raw := getEnv(lookup, key, "")
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

// getEnvDuration accepts Go duration strings ("30s") or plain milliseconds ("30000").
func getEnvDuration(lookup func(string) (string, bool), key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(lookup, key, "")
	if raw == "" {
		return defaultValue, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
}

func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
