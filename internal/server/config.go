package server

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `envconfig:"BURST" default:"5"`
	RefillInterval time.Duration `envconfig:"REFILL_INTERVAL" default:"1s"`
}

// Config holds every runtime setting of the chat server.
type Config struct {
	Port            string          `envconfig:"SERVER_PORT" default:":8080"`
	AllowedOrigins  []string        `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	MaxMessageSize  int64           `envconfig:"MAX_MESSAGE_SIZE" default:"4096"`
	RateLimit       RateLimitConfig `envconfig:"RATE_LIMIT"`
	SendBufferSize  int             `envconfig:"SEND_BUFFER_SIZE" default:"256"`
	LogLevel        string          `envconfig:"LOG_LEVEL" default:"INFO"`
	JWTSecret       string          `envconfig:"JWT_SECRET"`
	HistoryBackend  string          `envconfig:"HISTORY_BACKEND" default:"memory"`
	TopicBlocklist  []string        `envconfig:"TOPIC_BLOCKLIST"`
	ShutdownTimeout time.Duration   `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Port:           ":8080",
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		SendBufferSize:  256,
		LogLevel:        "INFO",
		HistoryBackend:  "memory",
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadConfig reads an optional .env file, then the process environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("processing env: %w", err)
	}
	return SanitizeConfig(cfg), nil
}

// SanitizeConfig replaces missing or invalid values with defaults.
func SanitizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}

	if cfg.HistoryBackend == "" {
		cfg.HistoryBackend = def.HistoryBackend
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)
	cfg.TopicBlocklist = trimAll(cfg.TopicBlocklist)
	return cfg
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
