package server

import (
	"context"
	"time"

	"github.com/tsarna/wsrelay/pkg/wsrelay/o11y"
	"github.com/tsarna/wsrelay/pkg/wsrelay/registry"
)

// RelayMetrics holds the metric instruments recorded by the relay. A nil
// *RelayMetrics is valid and records nothing.
type RelayMetrics struct {
	// Connection metrics
	activeConnections  o11y.Gauge     // Current number of open connections
	totalConnections   o11y.Counter   // Total number of sockets accepted
	connectionDuration o11y.Histogram // Lifetime of connections in seconds
	handshakeFailures  o11y.Counter   // Rejected upgrade requests by reason

	// Message metrics
	messagesReceived o11y.Counter   // Text messages received from clients
	frameErrors      o11y.Counter   // Protocol violations by kind
	messageSize      o11y.Histogram // Payload size distribution (bytes)

	// Broadcast metrics
	broadcasts        o11y.Counter   // Broadcast calls
	deliveries        o11y.Counter   // Frames delivered to peers
	deliveryFailures  o11y.Counter   // Peers dropped because a write failed
	broadcastDuration o11y.Histogram // Time to fan one message out
}

// NewRelayMetrics creates the relay metrics on provider.
// If the provider is nil, returns nil (no metrics will be collected).
func NewRelayMetrics(provider o11y.MetricsProvider) *RelayMetrics {
	if provider == nil {
		return nil
	}

	return &RelayMetrics{
		activeConnections:  provider.Gauge("wsrelay_active_connections"),
		totalConnections:   provider.Counter("wsrelay_connections_total"),
		connectionDuration: provider.Histogram("wsrelay_connection_duration_seconds"),
		handshakeFailures:  provider.Counter("wsrelay_handshake_failures_total"),

		messagesReceived: provider.Counter("wsrelay_messages_received_total"),
		frameErrors:      provider.Counter("wsrelay_frame_errors_total"),
		messageSize:      provider.Histogram("wsrelay_message_size_bytes"),

		broadcasts:        provider.Counter("wsrelay_broadcasts_total"),
		deliveries:        provider.Counter("wsrelay_deliveries_total"),
		deliveryFailures:  provider.Counter("wsrelay_delivery_failures_total"),
		broadcastDuration: provider.Histogram("wsrelay_broadcast_duration_seconds"),
	}
}

// RecordConnectionStart records an accepted socket.
func (m *RelayMetrics) RecordConnectionStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.totalConnections.Add(ctx, 1)
}

// RecordConnectionActive updates the open connection count.
func (m *RelayMetrics) RecordConnectionActive(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(ctx, float64(count))
}

// RecordConnectionEnd records the lifetime of a finished connection.
func (m *RelayMetrics) RecordConnectionEnd(ctx context.Context, duration time.Duration) {
	if m == nil {
		return
	}
	m.connectionDuration.Record(ctx, duration.Seconds())
}

// RecordHandshakeFailure records a rejected upgrade.
func (m *RelayMetrics) RecordHandshakeFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.handshakeFailures.Add(ctx, 1, o11y.Label{Key: "reason", Value: reason})
}

// RecordMessageReceived records a text message read from a client.
func (m *RelayMetrics) RecordMessageReceived(ctx context.Context, sizeBytes int) {
	if m == nil {
		return
	}
	m.messagesReceived.Add(ctx, 1)
	m.messageSize.Record(ctx, float64(sizeBytes))
}

// RecordFrameError records a framing violation.
func (m *RelayMetrics) RecordFrameError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.frameErrors.Add(ctx, 1, o11y.Label{Key: "error_type", Value: errorType})
}

// RecordBroadcast records the outcome of one broadcast.
func (m *RelayMetrics) RecordBroadcast(ctx context.Context, result registry.BroadcastResult, duration time.Duration) {
	if m == nil {
		return
	}
	m.broadcasts.Add(ctx, 1)
	m.deliveries.Add(ctx, int64(result.Delivered))
	m.broadcastDuration.Record(ctx, duration.Seconds())
}

// RecordDeliveryFailure records a peer dropped after a failed write.
func (m *RelayMetrics) RecordDeliveryFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.deliveryFailures.Add(ctx, 1)
}
