package server

import (
	"fmt"
	"time"

	"github.com/tsarna/wsrelay/pkg/wsrelay/frame"
	"github.com/tsarna/wsrelay/pkg/wsrelay/o11y"
	"go.uber.org/zap"
)

// ListenerConfig holds the configuration for creating a relay Listener.
// Use NewListenerConfig() to create a new configuration and chain methods
// to set the required parameters before calling Build().
type ListenerConfig struct {
	logger           *zap.Logger
	echoToSender     bool
	maxPayload       int64
	handshakeTimeout time.Duration
	idleTimeout      time.Duration
	writeTimeout     time.Duration
	metricsProvider  o11y.MetricsProvider
	tracingProvider  o11y.TracingProvider
}

const (
	// DefaultHandshakeTimeout bounds how long a new socket may take to send
	// its upgrade request.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultWriteTimeout is the default timeout for writing one frame to a client.
	// Should be short enough to detect slow/dead clients quickly.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultMaxPayload is the largest frame payload accepted from a client.
	DefaultMaxPayload = frame.DefaultMaxPayload
)

// NewListenerConfig creates a new ListenerConfig for building a relay Listener.
//
// Example:
//
//	listener, err := server.NewListenerConfig().
//	    WithLogger(logger).
//	    WithEchoToSender(false).
//	    WithIdleTimeout(5 * time.Minute).
//	    Build()
func NewListenerConfig() *ListenerConfig {
	return &ListenerConfig{
		echoToSender:     true,
		maxPayload:       DefaultMaxPayload,
		handshakeTimeout: DefaultHandshakeTimeout,
		writeTimeout:     DefaultWriteTimeout,
	}
}

// WithLogger sets the Logger for the Listener. Required.
func (c *ListenerConfig) WithLogger(logger *zap.Logger) *ListenerConfig {
	c.logger = logger
	return c
}

// WithEchoToSender controls whether a message is relayed back to the
// connection that sent it.
//
// Default: true
func (c *ListenerConfig) WithEchoToSender(echo bool) *ListenerConfig {
	c.echoToSender = echo
	return c
}

// WithMaxPayload sets the largest frame payload accepted from a client. Frames
// declaring a larger length close the connection. Must be positive.
//
// Default: 16 MiB
func (c *ListenerConfig) WithMaxPayload(size int64) *ListenerConfig {
	if size > 0 {
		c.maxPayload = size
	}
	return c
}

// WithHandshakeTimeout sets how long a client has to complete the upgrade
// request. Set to 0 to wait indefinitely.
//
// Default: 10 seconds
func (c *ListenerConfig) WithHandshakeTimeout(timeout time.Duration) *ListenerConfig {
	if timeout >= 0 {
		c.handshakeTimeout = timeout
	}
	return c
}

// WithIdleTimeout closes connections that send nothing for the given
// duration. Set to 0 to disable.
//
// Default: disabled
func (c *ListenerConfig) WithIdleTimeout(timeout time.Duration) *ListenerConfig {
	if timeout >= 0 {
		c.idleTimeout = timeout
	}
	return c
}

// WithWriteTimeout sets the timeout for writing one frame to a client. A
// client that cannot take a frame within this time is dropped. Set to 0 to
// disable.
//
// Default: 10 seconds
func (c *ListenerConfig) WithWriteTimeout(timeout time.Duration) *ListenerConfig {
	if timeout >= 0 {
		c.writeTimeout = timeout
	}
	return c
}

// WithMetricsProvider enables metrics collection.
func (c *ListenerConfig) WithMetricsProvider(provider o11y.MetricsProvider) *ListenerConfig {
	c.metricsProvider = provider
	return c
}

// WithTracingProvider enables a span per connection.
func (c *ListenerConfig) WithTracingProvider(provider o11y.TracingProvider) *ListenerConfig {
	c.tracingProvider = provider
	return c
}

// IsValid checks if the configuration has all required parameters set.
// Returns nil if the configuration is valid, or an error describing what's missing.
func (c *ListenerConfig) IsValid() error {
	var missing []string
	if c.logger == nil {
		missing = append(missing, "Logger")
	}

	if len(missing) > 0 {
		return fmt.Errorf("invalid listener configuration, missing: %v", missing)
	}

	return nil
}

// Build creates a new Listener from the configuration.
func (c *ListenerConfig) Build() (*Listener, error) {
	if err := c.IsValid(); err != nil {
		return nil, err
	}

	return newListener(c), nil
}
