package server

import (
	"sync/atomic"
)

// Stats are process-local counters kept regardless of whether a metrics
// provider is configured.
type Stats struct {
	accepted          atomic.Int64
	handshakeFailures atomic.Int64
	messagesReceived  atomic.Int64
	frameErrors       atomic.Int64
	broadcasts        atomic.Int64
	deliveries        atomic.Int64
	deliveryFailures  atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	ActiveConnections int
	Accepted          int64
	HandshakeFailures int64
	MessagesReceived  int64
	FrameErrors       int64
	Broadcasts        int64
	Deliveries        int64
	DeliveryFailures  int64
}

func (s *Stats) snapshot(active int) StatsSnapshot {
	return StatsSnapshot{
		ActiveConnections: active,
		Accepted:          s.accepted.Load(),
		HandshakeFailures: s.handshakeFailures.Load(),
		MessagesReceived:  s.messagesReceived.Load(),
		FrameErrors:       s.frameErrors.Load(),
		Broadcasts:        s.broadcasts.Load(),
		Deliveries:        s.deliveries.Load(),
		DeliveryFailures:  s.deliveryFailures.Load(),
	}
}
