package config

import (
	"log/slog"
	"reflect"
	"testing"
	"time"
)

// TestNewConfigDefaults verifies that NewConfig returns the documented defaults.
func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.Addr != ":7711" {
		t.Errorf("Expected default addr :7711, got %q", cfg.Addr)
	}
	if cfg.HTTPAddr != "" {
		t.Errorf("Expected gateway disabled by default, got %q", cfg.HTTPAddr)
	}
	if cfg.MaxClients != 1024 {
		t.Errorf("Expected 1024 max clients, got %d", cfg.MaxClients)
	}
	if cfg.MaxMessageSize != 1024 || cfg.OutboundBufferSize != 1024 {
		t.Errorf("Unexpected buffer sizes: read=%d outbound=%d", cfg.MaxMessageSize, cfg.OutboundBufferSize)
	}
	if cfg.RateLimit.Enabled() {
		t.Error("Rate limiting should be disabled by default")
	}
	if cfg.PollTimeout != 0 || cfg.IdleTimeout != 0 {
		t.Errorf("Expected no timers by default, got poll=%v idle=%v", cfg.PollTimeout, cfg.IdleTimeout)
	}
	if cfg.LineFraming {
		t.Error("Line framing should be opt-in")
	}
}

// TestNewConfigFromEnv verifies that every supported environment variable is honoured.
func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_ADDR", "127.0.0.1:9000")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, https://b.example")
	t.Setenv("MAX_CLIENTS", "16")
	t.Setenv("MAX_MESSAGE_SIZE", "256")
	t.Setenv("OUTBOUND_BUFFER_SIZE", "300")
	t.Setenv("WELCOME_MESSAGE", "hi\n")
	t.Setenv("WRITE_TIMEOUT", "500ms")
	t.Setenv("POLL_TIMEOUT", "2")
	t.Setenv("IDLE_TIMEOUT", "1m")
	t.Setenv("LINE_FRAMING", "true")
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := NewConfigFromEnv()

	want := Config{
		Addr:               "127.0.0.1:9000",
		HTTPAddr:           ":9090",
		AllowedOrigins:     []string{"http://a.example", "https://b.example"},
		MaxClients:         16,
		MaxMessageSize:     256,
		OutboundBufferSize: 300,
		WelcomeMessage:     "hi\n",
		WriteTimeout:       500 * time.Millisecond,
		PollTimeout:        2 * time.Second,
		IdleTimeout:        time.Minute,
		LineFraming:        true,
		RateLimit:          RateLimitConfig{Burst: 3, RefillInterval: 5 * time.Second},
		LogLevel:           slog.LevelDebug,
	}
	if !reflect.DeepEqual(*cfg, want) {
		t.Errorf("Unexpected config from env:\n got %+v\nwant %+v", *cfg, want)
	}
}

// TestNewConfigFromEnvInvalidValues verifies that malformed values keep the defaults.
func TestNewConfigFromEnvInvalidValues(t *testing.T) {
	t.Setenv("MAX_CLIENTS", "-4")
	t.Setenv("MAX_MESSAGE_SIZE", "lots")
	t.Setenv("WRITE_TIMEOUT", "soon")
	t.Setenv("LINE_FRAMING", "maybe")
	t.Setenv("LOG_LEVEL", "loud")

	cfg := NewConfigFromEnv()
	def := NewConfig()

	if cfg.MaxClients != def.MaxClients {
		t.Errorf("Expected default max clients, got %d", cfg.MaxClients)
	}
	if cfg.MaxMessageSize != def.MaxMessageSize {
		t.Errorf("Expected default message size, got %d", cfg.MaxMessageSize)
	}
	if cfg.WriteTimeout != def.WriteTimeout {
		t.Errorf("Expected default write timeout, got %v", cfg.WriteTimeout)
	}
	if cfg.LineFraming {
		t.Error("Expected line framing to stay disabled")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("Expected info log level, got %v", cfg.LogLevel)
	}
}

// TestSanitize verifies that Sanitize repairs invalid settings without touching valid ones.
func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		in    Config
		check func(t *testing.T, c Config)
	}{
		{
			name: "zero config gets defaults",
			in:   Config{},
			check: func(t *testing.T, c Config) {
				if c.Addr != DefaultAddr || c.MaxClients != DefaultMaxClients ||
					c.MaxMessageSize != DefaultMaxMessageSize || c.OutboundBufferSize != DefaultOutboundBufferSize {
					t.Errorf("Defaults not applied: %+v", c)
				}
				if c.WriteTimeout != DefaultWriteTimeout {
					t.Errorf("Expected default write timeout, got %v", c.WriteTimeout)
				}
				if c.RateLimit.RefillInterval != time.Second {
					t.Errorf("Expected 1s refill interval, got %v", c.RateLimit.RefillInterval)
				}
			},
		},
		{
			name: "idle timeout forces a poll timeout",
			in:   Config{IdleTimeout: 30 * time.Second},
			check: func(t *testing.T, c Config) {
				if c.PollTimeout != time.Second {
					t.Errorf("Expected 1s poll timeout, got %v", c.PollTimeout)
				}
			},
		},
		{
			name: "short idle timeout shortens the poll timeout",
			in:   Config{IdleTimeout: 200 * time.Millisecond, PollTimeout: 5 * time.Second},
			check: func(t *testing.T, c Config) {
				if c.PollTimeout != 200*time.Millisecond {
					t.Errorf("Expected 200ms poll timeout, got %v", c.PollTimeout)
				}
			},
		},
		{
			name: "negative values are cleared",
			in:   Config{PollTimeout: -1, IdleTimeout: -1, RateLimit: RateLimitConfig{Burst: -2}},
			check: func(t *testing.T, c Config) {
				if c.PollTimeout != 0 || c.IdleTimeout != 0 || c.RateLimit.Burst != 0 {
					t.Errorf("Negative values not cleared: %+v", c)
				}
			},
		},
		{
			name: "valid values are preserved",
			in:   Config{Addr: ":1", MaxClients: 2, MaxMessageSize: 3, OutboundBufferSize: 4, WriteTimeout: time.Minute},
			check: func(t *testing.T, c Config) {
				if c.Addr != ":1" || c.MaxClients != 2 || c.MaxMessageSize != 3 ||
					c.OutboundBufferSize != 4 || c.WriteTimeout != time.Minute {
					t.Errorf("Valid values changed: %+v", c)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, tt.in.Sanitize())
		})
	}
}

// TestSanitizeCopiesOrigins verifies that the sanitized config does not share the origins slice.
func TestSanitizeCopiesOrigins(t *testing.T) {
	in := Config{AllowedOrigins: []string{"http://a.example"}}
	out := in.Sanitize()
	out.AllowedOrigins[0] = "changed"

	if in.AllowedOrigins[0] != "http://a.example" {
		t.Error("Sanitize must copy AllowedOrigins")
	}
}
