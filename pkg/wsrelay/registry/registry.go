// Package registry tracks the set of open relay connections and fans text
// messages out to them.
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/tsarna/wsrelay/pkg/wsrelay/frame"
	"go.uber.org/zap"
)

// Peer is a registered connection. Send must be safe for concurrent use and
// must write each frame atomically with respect to other Send calls.
type Peer interface {
	ID() string
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// BroadcastResult summarises one broadcast.
type BroadcastResult struct {
	Delivered int
	Failed    int
	Skipped   int // not written because ctx was done
	Bytes     int
}

// Observer is notified about registry changes and delivery failures. All
// methods are called without the registry lock held.
type Observer interface {
	PeerAdded(peer Peer, count int)
	PeerRemoved(peer Peer, count int)
	DeliveryFailed(peer Peer, err error)
}

// Registry is the live connection set. A single lock guards the set; frames
// are written outside of it.
type Registry struct {
	logger       *zap.Logger
	echoToSender bool
	observer     Observer

	mu    sync.RWMutex
	peers map[string]Peer
}

// Option configures a Registry.
type Option func(*Registry)

// WithEchoToSender controls whether a broadcast is also delivered to the
// connection that sent it. The default is true.
func WithEchoToSender(echo bool) Option {
	return func(r *Registry) {
		r.echoToSender = echo
	}
}

// WithObserver installs an Observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// New creates an empty registry. A nil logger disables logging.
func New(logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		logger:       logger,
		echoToSender: true,
		peers:        make(map[string]Peer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EchoToSender reports the echo policy.
func (r *Registry) EchoToSender() bool {
	return r.echoToSender
}

// Add inserts peer. Adding a peer that is already present is a no-op.
func (r *Registry) Add(peer Peer) {
	r.mu.Lock()
	if _, ok := r.peers[peer.ID()]; ok {
		r.mu.Unlock()
		return
	}
	r.peers[peer.ID()] = peer
	count := len(r.peers)
	r.mu.Unlock()

	r.logger.Debug("Connection registered", zap.String("conn_id", peer.ID()), zap.Int("active_connections", count))
	if r.observer != nil {
		r.observer.PeerAdded(peer, count)
	}
}

// Remove deletes peer from the set and closes it. The peer is closed even if
// it was not registered; removing twice is harmless.
func (r *Registry) Remove(peer Peer) {
	r.mu.Lock()
	_, ok := r.peers[peer.ID()]
	if ok {
		delete(r.peers, peer.ID())
	}
	count := len(r.peers)
	r.mu.Unlock()

	if err := peer.Close(); err != nil {
		r.logger.Debug("Error closing connection", zap.String("conn_id", peer.ID()), zap.Error(err))
	}

	if !ok {
		return
	}
	r.logger.Debug("Connection unregistered", zap.String("conn_id", peer.ID()), zap.Int("active_connections", count))
	if r.observer != nil {
		r.observer.PeerRemoved(peer, count)
	}
}

// Contains reports whether a peer with the given ID is registered.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[id]
	return ok
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Snapshot returns the registered peers at the time of the call.
func (r *Registry) Snapshot() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}

// Broadcast encodes text once and writes it to every peer registered when the
// call starts. from identifies the sending peer and may be nil for messages
// that do not originate from a connection. Peers whose write fails are
// removed; a failure never stops delivery to the others. If ctx is done the
// remaining peers are skipped and none of them is removed.
func (r *Registry) Broadcast(ctx context.Context, text string, from Peer) BroadcastResult {
	data := frame.EncodeText(text)
	result := BroadcastResult{}

	for _, peer := range r.Snapshot() {
		if !r.echoToSender && from != nil && peer.ID() == from.ID() {
			continue
		}
		if ctx.Err() != nil {
			result.Skipped++
			continue
		}

		if err := peer.Send(ctx, data); err != nil {
			if errors.Is(err, ctx.Err()) {
				result.Skipped++
				continue
			}
			result.Failed++
			r.logger.Debug("Broadcast delivery failed, dropping connection",
				zap.String("conn_id", peer.ID()),
				zap.Error(err),
			)
			if r.observer != nil {
				r.observer.DeliveryFailed(peer, err)
			}
			r.Remove(peer)
			continue
		}

		result.Delivered++
		result.Bytes += len(data)
	}

	return result
}

// CloseAll removes and closes every registered peer.
func (r *Registry) CloseAll() int {
	peers := r.Snapshot()
	for _, p := range peers {
		r.Remove(p)
	}
	return len(peers)
}
