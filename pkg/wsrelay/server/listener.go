package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tsarna/wsrelay/pkg/wsrelay/registry"
)

// Listener accepts TCP connections and runs one Connection per socket. Every
// open connection is registered with the listener's Registry, and each text
// message a client sends is broadcast to the registry.
type Listener struct {
	logger   *zap.Logger
	config   *ListenerConfig
	registry *registry.Registry
	metrics  *RelayMetrics
	stats    Stats

	// All accepted sockets, including ones still handshaking, for shutdown
	connections map[*Connection]struct{}
	connMutex   sync.RWMutex
	sessions    sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// newListener creates a new Listener from the provided configuration.
// This is a private constructor - use NewListenerConfig().Build() instead.
func newListener(config *ListenerConfig) *Listener {
	l := &Listener{
		logger:      config.logger,
		config:      config,
		metrics:     NewRelayMetrics(config.metricsProvider),
		connections: make(map[*Connection]struct{}),
		shutdown:    make(chan struct{}),
	}
	l.registry = registry.New(config.logger,
		registry.WithEchoToSender(config.echoToSender),
		registry.WithObserver(l),
	)
	return l
}

// Registry returns the set of open connections.
func (l *Listener) Registry() *registry.Registry {
	return l.registry
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (l *Listener) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Shutdown is
// called, spawning a goroutine per connection. It returns nil after an
// orderly stop. Cancelling ctx also closes every connection.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	l.logger.Info("Relay listening", zap.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.Shutdown(shutdownCtx)
	})
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.shuttingDown() || errors.Is(err, net.ErrClosed) {
				return nil
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				l.logger.Warn("Accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		l.accept(ctx, conn)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (l *Listener) accept(ctx context.Context, conn net.Conn) {
	if l.shuttingDown() {
		l.logger.Debug("Rejecting new connection due to shutdown")
		conn.Close()
		return
	}

	c := newConnection(conn, l)
	l.stats.accepted.Add(1)
	l.metrics.RecordConnectionStart(ctx)

	l.connMutex.Lock()
	l.connections[c] = struct{}{}
	l.connMutex.Unlock()

	l.sessions.Add(1)
	go func() {
		defer l.sessions.Done()
		defer func() {
			l.connMutex.Lock()
			delete(l.connections, c)
			l.connMutex.Unlock()
		}()

		c.serve(ctx)
	}()
}

func (l *Listener) shuttingDown() bool {
	select {
	case <-l.shutdown:
		return true
	default:
		return false
	}
}

// Broadcast relays text to every open connection on behalf of the server.
func (l *Listener) Broadcast(ctx context.Context, text string) registry.BroadcastResult {
	return l.broadcast(ctx, text, nil)
}

func (l *Listener) broadcast(ctx context.Context, text string, from registry.Peer) registry.BroadcastResult {
	start := time.Now()
	result := l.registry.Broadcast(ctx, text, from)

	l.stats.broadcasts.Add(1)
	l.stats.deliveries.Add(int64(result.Delivered))
	l.metrics.RecordBroadcast(ctx, result, time.Since(start))
	return result
}

// Addr returns the address being served, or nil before Serve is called.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Shutdown stops accepting connections, closes every connection and waits
// for their sessions to finish or for ctx to be done.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() {
		l.logger.Info("Starting relay shutdown")
		close(l.shutdown)

		l.mu.Lock()
		if l.listener != nil {
			l.listener.Close()
		}
		l.mu.Unlock()

		l.connMutex.RLock()
		connections := make([]*Connection, 0, len(l.connections))
		for c := range l.connections {
			connections = append(connections, c)
		}
		l.connMutex.RUnlock()

		l.logger.Info("Closing active connections", zap.Int("connection_count", len(connections)))
		for _, c := range connections {
			if c.State() == StateOpen {
				_ = c.write(ctx, frameGoingAway)
			}
			c.Close()
		}
	})

	done := make(chan struct{})
	go func() {
		l.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("All connections closed")
		return nil
	case <-ctx.Done():
		l.logger.Warn("Shutdown timeout reached with active connections",
			zap.Int("remaining_connections", l.ConnectionCount()),
		)
		return ctx.Err()
	}
}

// ConnectionCount returns the number of open connections.
func (l *Listener) ConnectionCount() int {
	return l.registry.Len()
}

// Stats returns a snapshot of the relay's counters.
func (l *Listener) Stats() StatsSnapshot {
	return l.stats.snapshot(l.registry.Len())
}

// PeerAdded implements registry.Observer.
func (l *Listener) PeerAdded(_ registry.Peer, count int) {
	l.metrics.RecordConnectionActive(context.Background(), count)
}

// PeerRemoved implements registry.Observer.
func (l *Listener) PeerRemoved(_ registry.Peer, count int) {
	l.metrics.RecordConnectionActive(context.Background(), count)
}

// DeliveryFailed implements registry.Observer.
func (l *Listener) DeliveryFailed(peer registry.Peer, err error) {
	l.stats.deliveryFailures.Add(1)
	l.metrics.RecordDeliveryFailure(context.Background())
	l.logger.Debug("Dropping connection after failed delivery",
		zap.String("conn_id", peer.ID()),
		zap.Error(err),
	)
}
