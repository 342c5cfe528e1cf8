package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsarna/wsrelay/pkg/wsrelay/o11y"
	"github.com/tsarna/wsrelay/pkg/wsrelay/registry"
)

// testMetricsProvider implements MetricsProvider for testing
type testMetricsProvider struct {
	counters   map[string]*testCounter
	histograms map[string]*testHistogram
	gauges     map[string]*testGauge
	mu         sync.RWMutex
}

func newTestMetricsProvider() *testMetricsProvider {
	return &testMetricsProvider{
		counters:   make(map[string]*testCounter),
		histograms: make(map[string]*testHistogram),
		gauges:     make(map[string]*testGauge),
	}
}

func (p *testMetricsProvider) Counter(name string) o11y.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if counter, exists := p.counters[name]; exists {
		return counter
	}
	counter := &testCounter{}
	p.counters[name] = counter
	return counter
}

func (p *testMetricsProvider) Histogram(name string) o11y.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()
	if histogram, exists := p.histograms[name]; exists {
		return histogram
	}
	histogram := &testHistogram{}
	p.histograms[name] = histogram
	return histogram
}

func (p *testMetricsProvider) Gauge(name string) o11y.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gauge, exists := p.gauges[name]; exists {
		return gauge
	}
	gauge := &testGauge{}
	p.gauges[name] = gauge
	return gauge
}

func (p *testMetricsProvider) counter(name string) int64 {
	p.mu.RLock()
	c, ok := p.counters[name]
	p.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.Value()
}

type testCounter struct {
	mu     sync.Mutex
	value  int64
	labels [][]o11y.Label
}

func (c *testCounter) Add(_ context.Context, value int64, labels ...o11y.Label) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += value
	c.labels = append(c.labels, labels)
}

func (c *testCounter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

type testHistogram struct {
	mu     sync.Mutex
	values []float64
}

func (h *testHistogram) Record(_ context.Context, value float64, _ ...o11y.Label) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = append(h.values, value)
}

type testGauge struct {
	mu    sync.Mutex
	value float64
}

func (g *testGauge) Set(_ context.Context, value float64, _ ...o11y.Label) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = value
}

func (g *testGauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *RelayMetrics
	ctx := context.Background()

	assert.Nil(t, NewRelayMetrics(nil))
	assert.NotPanics(t, func() {
		m.RecordConnectionStart(ctx)
		m.RecordConnectionActive(ctx, 1)
		m.RecordConnectionEnd(ctx, time.Second)
		m.RecordHandshakeFailure(ctx, "not_upgrade")
		m.RecordMessageReceived(ctx, 10)
		m.RecordFrameError(ctx, "unmasked")
		m.RecordBroadcast(ctx, registry.BroadcastResult{Delivered: 1}, time.Millisecond)
		m.RecordDeliveryFailure(ctx)
	})
}

func TestListenerRecordsMetrics(t *testing.T) {
	provider := newTestMetricsProvider()
	l := startListener(t, NewListenerConfig().WithMetricsProvider(provider))

	a := connect(t, l, 1)
	b := connect(t, l, 2)

	a.sendText("one")
	assert.Equal(t, "one", a.readText())
	assert.Equal(t, "one", b.readText())

	require.Eventually(t, func() bool {
		return provider.counter("wsrelay_deliveries_total") == 2
	}, time.Second, time.Millisecond)

	assert.Equal(t, int64(2), provider.counter("wsrelay_connections_total"))
	assert.Equal(t, int64(1), provider.counter("wsrelay_messages_received_total"))
	assert.Equal(t, int64(1), provider.counter("wsrelay_broadcasts_total"))
	assert.Equal(t, float64(2), provider.gauges["wsrelay_active_connections"].Value())

	bad := dialRaw(t, l)
	_, err := bad.conn.Write([]byte("HEAD / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	bad.expectClosed()

	require.Eventually(t, func() bool {
		return provider.counter("wsrelay_handshake_failures_total") == 1
	}, time.Second, time.Millisecond)
}
