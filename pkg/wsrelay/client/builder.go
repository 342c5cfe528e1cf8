// Package client is a small relay client used by the command line tools.
package client

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ClientBuilder provides a fluent interface for building relay clients.
type ClientBuilder struct {
	url         string
	logger      *zap.Logger
	dialTimeout time.Duration
	readLimit   int64
	headers     http.Header
}

// NewClient creates a new client builder.
func NewClient() *ClientBuilder {
	return &ClientBuilder{
		dialTimeout: 30 * time.Second,
		logger:      zap.NewNop(),
		readLimit:   16 << 20,
	}
}

// WithURL sets the ws:// URL to connect to.
func (b *ClientBuilder) WithURL(url string) *ClientBuilder {
	b.url = url
	return b
}

// WithLogger sets the logger for the client.
func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialTimeout sets the timeout for establishing the connection.
func (b *ClientBuilder) WithDialTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithReadLimit sets the largest message the client will accept.
func (b *ClientBuilder) WithReadLimit(limit int64) *ClientBuilder {
	if limit > 0 {
		b.readLimit = limit
	}
	return b
}

// WithHeader adds a header to the handshake request.
func (b *ClientBuilder) WithHeader(key, value string) *ClientBuilder {
	if b.headers == nil {
		b.headers = make(http.Header)
	}
	b.headers.Add(key, value)
	return b
}

// Build validates the configuration and returns a Client.
func (b *ClientBuilder) Build() (*Client, error) {
	if b.url == "" {
		return nil, fmt.Errorf("URL is required")
	}

	return &Client{
		url:         b.url,
		logger:      b.logger,
		dialTimeout: b.dialTimeout,
		readLimit:   b.readLimit,
		headers:     b.headers.Clone(),
	}, nil
}
