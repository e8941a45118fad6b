package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv         string
	Port           string
	AllowedOrigins []string

	LogLevel  string
	LogPretty bool

	HistoryDriver string
	DatabaseURL   string

	RedisURL     string
	RelayChannel string

	MeiliSearchHost string
	MeiliMasterKey  string

	SendTimeout         time.Duration
	SaveTimeout         time.Duration
	DispatchParallelism int
	ClientBuffer        int
	PingInterval        time.Duration

	HistoryDefaultLimit int
	HistoryMaxLimit     int

	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	// Don't fail if .env doesn't exist (might be prod env vars)
	_ = godotenv.Load()

	appEnv := getEnv("APP_ENV", "development")

	cfg := &Config{
		AppEnv:         appEnv,
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		HistoryDriver: getEnv("HISTORY_DRIVER", "postgres"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),

		RedisURL:     os.Getenv("REDIS_URL"),
		RelayChannel: getEnv("RELAY_CHANNEL", "notifications:fanout"),

		MeiliSearchHost: os.Getenv("MEILISEARCH_HOST"),
		MeiliMasterKey:  os.Getenv("MEILI_MASTER_KEY"),
	}

	var err error
	if cfg.LogPretty, err = strconv.ParseBool(getEnv("LOG_PRETTY", strconv.FormatBool(appEnv == "development"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_PRETTY: %w", err)
	}

	if cfg.DatabaseURL == "" && cfg.HistoryDriver == "postgres" {
		cfg.DatabaseURL = fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_USER", "postgres"),
			os.Getenv("DB_PASS"),
			getEnv("DB_NAME", "notifications"),
			getEnv("DB_PORT", "5432"),
		)
	}
	if cfg.DatabaseURL == "" && cfg.HistoryDriver == "sqlite" {
		cfg.DatabaseURL = "notifications.db"
	}

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"SEND_TIMEOUT", "2s", &cfg.SendTimeout},
		{"SAVE_TIMEOUT", "5s", &cfg.SaveTimeout},
		{"PING_INTERVAL", "25s", &cfg.PingInterval},
		{"SHUTDOWN_TIMEOUT", "10s", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(getEnv(d.key, d.fallback)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
	}

	ints := []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"DISPATCH_PARALLELISM", 64, &cfg.DispatchParallelism},
		{"CLIENT_BUFFER", 64, &cfg.ClientBuffer},
		{"HISTORY_DEFAULT_LIMIT", 50, &cfg.HistoryDefaultLimit},
		{"HISTORY_MAX_LIMIT", 500, &cfg.HistoryMaxLimit},
	}
	for _, i := range ints {
		if *i.dst, err = getInt(i.key, i.fallback); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints that cannot be expressed by defaults.
func (c *Config) Validate() error {
	switch c.HistoryDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid HISTORY_DRIVER %q: want postgres or sqlite", c.HistoryDriver)
	}
	if c.DispatchParallelism < 1 {
		return fmt.Errorf("DISPATCH_PARALLELISM must be positive, got %d", c.DispatchParallelism)
	}
	if c.ClientBuffer < 1 {
		return fmt.Errorf("CLIENT_BUFFER must be positive, got %d", c.ClientBuffer)
	}
	if c.HistoryDefaultLimit < 1 || c.HistoryDefaultLimit > c.HistoryMaxLimit {
		return fmt.Errorf("HISTORY_DEFAULT_LIMIT must be within 1..%d, got %d", c.HistoryMaxLimit, c.HistoryDefaultLimit)
	}
	if c.SendTimeout <= 0 || c.SaveTimeout <= 0 || c.PingInterval <= 0 {
		return fmt.Errorf("SEND_TIMEOUT, SAVE_TIMEOUT and PING_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
