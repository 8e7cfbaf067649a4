// Package config provides configuration helpers that define runtime defaults,
// validation, and environment loading for the relay server.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default values used when neither the environment nor flags override a setting.
const (
	DefaultAddr               = ":7711"
	DefaultMaxClients         = 1024
	DefaultMaxMessageSize     = 1024
	DefaultOutboundBufferSize = 1024
	DefaultWriteTimeout       = 2 * time.Second
	DefaultWelcomeMessage     = "Welcome to Simple Chat! Use /nick <nick> to set your nick.\n"
)

// RateLimitConfig defines the parameters for per-connection chat rate limiting.
// A non-positive Burst disables limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Enabled reports whether chat lines are subject to rate limiting.
func (r RateLimitConfig) Enabled() bool {
	return r.Burst > 0
}

// Config holds the relay configuration.
type Config struct {
	// Addr is the TCP listen address of the relay.
	Addr string
	// HTTPAddr is the listen address of the WebSocket gateway; empty disables it.
	HTTPAddr string
	// AllowedOrigins lists the origins accepted by the WebSocket gateway.
	AllowedOrigins []string

	MaxClients         int
	MaxMessageSize     int
	OutboundBufferSize int
	WelcomeMessage     string

	WriteTimeout time.Duration
	// PollTimeout wakes the event loop up periodically; zero blocks until readiness.
	PollTimeout time.Duration
	// IdleTimeout disconnects silent clients; zero keeps them forever.
	IdleTimeout time.Duration

	// LineFraming accumulates reads per client and relays complete lines only.
	LineFraming bool

	RateLimit RateLimitConfig
	LogLevel  slog.Level
}

func defaultConfig() Config {
	return Config{
		Addr: DefaultAddr,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxClients:         DefaultMaxClients,
		MaxMessageSize:     DefaultMaxMessageSize,
		OutboundBufferSize: DefaultOutboundBufferSize,
		WelcomeMessage:     DefaultWelcomeMessage,
		WriteTimeout:       DefaultWriteTimeout,
		RateLimit: RateLimitConfig{
			RefillInterval: time.Second,
		},
		LogLevel: slog.LevelInfo,
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// Sanitize returns a copy of the configuration with invalid values replaced by defaults.
func (c Config) Sanitize() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.MaxClients <= 0 {
		c.MaxClients = DefaultMaxClients
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.OutboundBufferSize <= 0 {
		c.OutboundBufferSize = DefaultOutboundBufferSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PollTimeout < 0 {
		c.PollTimeout = 0
	}
	if c.IdleTimeout < 0 {
		c.IdleTimeout = 0
	}
	// idle eviction needs the loop to wake up even when nobody talks
	if c.IdleTimeout > 0 && (c.PollTimeout == 0 || c.PollTimeout > c.IdleTimeout) {
		c.PollTimeout = min(time.Second, c.IdleTimeout)
	}
	if c.RateLimit.Burst < 0 {
		c.RateLimit.Burst = 0
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = time.Second
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set or invalid.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if v := os.Getenv("MAX_CLIENTS"); v != "" {
		cfg.MaxClients = parseIntValue(v, cfg.MaxClients)
	}
	if v := os.Getenv("MAX_MESSAGE_SIZE"); v != "" {
		cfg.MaxMessageSize = parseIntValue(v, cfg.MaxMessageSize)
	}
	if v := os.Getenv("OUTBOUND_BUFFER_SIZE"); v != "" {
		cfg.OutboundBufferSize = parseIntValue(v, cfg.OutboundBufferSize)
	}
	if v := os.Getenv("WELCOME_MESSAGE"); v != "" {
		cfg.WelcomeMessage = v
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		cfg.WriteTimeout = parseDuration(v, cfg.WriteTimeout)
	}
	if v := os.Getenv("POLL_TIMEOUT"); v != "" {
		cfg.PollTimeout = parseDuration(v, cfg.PollTimeout)
	}
	if v := os.Getenv("IDLE_TIMEOUT"); v != "" {
		cfg.IdleTimeout = parseDuration(v, cfg.IdleTimeout)
	}
	if v := os.Getenv("LINE_FRAMING"); v != "" {
		cfg.LineFraming = parseBool(v, cfg.LineFraming)
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		cfg.RateLimit.Burst = parseIntValue(v, cfg.RateLimit.Burst)
	}
	if v := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); v != "" {
		cfg.RateLimit.RefillInterval = parseDuration(v, cfg.RateLimit.RefillInterval)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = ParseLogLevel(v, cfg.LogLevel)
	}

	return &cfg
}

// ParseLogLevel maps names such as "debug" or "WARN" onto slog levels.
func ParseLogLevel(value string, defaultValue slog.Level) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return defaultValue
	}
	return level
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration strings ("250ms") as well as bare seconds ("30").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}
