package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks that the configuration is complete and consistent.
// Call after applyDefaults.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if !strings.HasPrefix(c.Backend.URL, "ws://") && !strings.HasPrefix(c.Backend.URL, "wss://") {
		return fmt.Errorf("backend.url must use ws:// or wss:// scheme, got %q", c.Backend.URL)
	}
	if c.Backend.ReconnectBaseDelay > c.Backend.ReconnectMaxDelay {
		return fmt.Errorf("backend.reconnect_base_delay (%v) cannot exceed reconnect_max_delay (%v)",
			c.Backend.ReconnectBaseDelay, c.Backend.ReconnectMaxDelay)
	}
	if c.Backend.MaxReconnectAttempts < 1 {
		return fmt.Errorf("backend.max_reconnect_attempts must be at least 1, got %d",
			c.Backend.MaxReconnectAttempts)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in range 1-65535, got %d", c.Server.Port)
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be in range 1-65535, got %d", c.Metrics.Port)
	}
	if c.Server.Port == c.Metrics.Port {
		return fmt.Errorf("server.port and metrics.port must differ, both are %d", c.Server.Port)
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel converts the configured level string to a slog.Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", l.Level)
	}
}
