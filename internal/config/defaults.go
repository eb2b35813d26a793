package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerHost        = "0.0.0.0"
	DefaultServerPort        = 11434
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second

	DefaultBackendURL           = "ws://127.0.0.1:8765"
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultMessageBufferSize    = 1000
	DefaultModel                = "llama3.2"

	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"

	DefaultLogLevel = "info"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Backend defaults
	if c.Backend.URL == "" {
		c.Backend.URL = DefaultBackendURL
	}
	if c.Backend.HandshakeTimeout == 0 {
		c.Backend.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Backend.WriteTimeout == 0 {
		c.Backend.WriteTimeout = DefaultWriteTimeout
	}
	if c.Backend.ReconnectBaseDelay == 0 {
		c.Backend.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Backend.ReconnectMaxDelay == 0 {
		c.Backend.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Backend.MaxReconnectAttempts == 0 {
		c.Backend.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Backend.MessageBufferSize == 0 {
		c.Backend.MessageBufferSize = DefaultMessageBufferSize
	}
	if c.Backend.DefaultModel == "" {
		c.Backend.DefaultModel = DefaultModel
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}
