package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tsarna/wsrelay/pkg/wsrelay/frame"
)

var errClosed = errors.New("use of closed connection")

type mockPeer struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	closed bool
	closes int32
}

func newMockPeer(id string) *mockPeer {
	return &mockPeer{id: id}
}

func (p *mockPeer) ID() string { return p.id }

func (p *mockPeer) Send(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errClosed
	}
	p.frames = append(p.frames, append([]byte(nil), data...))
	return nil
}

func (p *mockPeer) Close() error {
	atomic.AddInt32(&p.closes, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *mockPeer) received() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.frames...)
}

type recordingObserver struct {
	mu      sync.Mutex
	added   []string
	removed []string
	failed  []string
}

func (o *recordingObserver) PeerAdded(p Peer, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.added = append(o.added, p.ID())
}

func (o *recordingObserver) PeerRemoved(p Peer, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, p.ID())
}

func (o *recordingObserver) DeliveryFailed(p Peer, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, p.ID())
}

func TestAddRemove(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	a := newMockPeer("a")

	r.Add(a)
	r.Add(a)
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Contains("a"))

	r.Remove(a)
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Contains("a"))
	assert.True(t, a.closed)

	// Removing again still releases the stream but does not fail.
	r.Remove(a)
	assert.Equal(t, int32(2), atomic.LoadInt32(&a.closes))
}

func TestBroadcastFanOut(t *testing.T) {
	obs := &recordingObserver{}
	r := New(zaptest.NewLogger(t), WithObserver(obs))
	a, b, c := newMockPeer("a"), newMockPeer("b"), newMockPeer("c")
	r.Add(a)
	r.Add(b)
	r.Add(c)

	res := r.Broadcast(context.Background(), "hello", a)
	assert.Equal(t, 3, res.Delivered)
	assert.Zero(t, res.Failed)

	want := frame.EncodeText("hello")
	for _, p := range []*mockPeer{a, b, c} {
		require.Len(t, p.received(), 1, p.id)
		assert.Equal(t, want, p.received()[0])
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, obs.added)
}

func TestBroadcastWithoutEcho(t *testing.T) {
	r := New(zaptest.NewLogger(t), WithEchoToSender(false))
	a, b, c := newMockPeer("a"), newMockPeer("b"), newMockPeer("c")
	r.Add(a)
	r.Add(b)
	r.Add(c)

	res := r.Broadcast(context.Background(), "hi", a)
	assert.Equal(t, 2, res.Delivered)

	assert.Empty(t, a.received())
	assert.Len(t, b.received(), 1)
	assert.Len(t, c.received(), 1)
}

// cancellingPeer gives up on the broadcast the way a caller would: it
// cancels the context and reports the context error.
type cancellingPeer struct {
	*mockPeer
	cancel context.CancelFunc
}

func (p *cancellingPeer) Send(ctx context.Context, data []byte) error {
	p.cancel()
	return ctx.Err()
}

func TestBroadcastCancelledContextKeepsPeers(t *testing.T) {
	obs := &recordingObserver{}
	r := New(zaptest.NewLogger(t), WithObserver(obs))
	a, b := newMockPeer("a"), newMockPeer("b")
	r.Add(a)
	r.Add(b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Broadcast(ctx, "late", nil)
	assert.Zero(t, res.Delivered)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 2, res.Skipped)

	assert.Equal(t, 2, r.Len())
	assert.False(t, a.closed)
	assert.False(t, b.closed)
	assert.Empty(t, obs.failed)
	assert.Empty(t, obs.removed)
}

func TestBroadcastCancelledDuringFanOut(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quitter := &cancellingPeer{mockPeer: newMockPeer("quitter"), cancel: cancel}
	r.Add(quitter)
	r.Add(newMockPeer("b"))
	r.Add(newMockPeer("c"))

	res := r.Broadcast(ctx, "hello", nil)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 3, res.Delivered+res.Skipped)
	assert.GreaterOrEqual(t, res.Skipped, 1)

	assert.Equal(t, 3, r.Len())
	assert.True(t, r.Contains("quitter"))
}

func TestBroadcastDropsDeadPeer(t *testing.T) {
	obs := &recordingObserver{}
	r := New(zaptest.NewLogger(t), WithObserver(obs))
	a, b, c := newMockPeer("a"), newMockPeer("b"), newMockPeer("c")
	r.Add(a)
	r.Add(b)
	r.Add(c)

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	var res BroadcastResult
	require.NotPanics(t, func() {
		res = r.Broadcast(context.Background(), "still here", a)
	})

	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, r.Contains("b"))
	assert.Equal(t, 2, r.Len())
	assert.Len(t, a.received(), 1)
	assert.Len(t, c.received(), 1)
	assert.Equal(t, []string{"b"}, obs.failed)
	assert.Equal(t, []string{"b"}, obs.removed)
}

func TestBroadcastConcurrentMutation(t *testing.T) {
	r := New(nil)
	for i := 0; i < 50; i++ {
		r.Add(newMockPeer(fmt.Sprintf("seed-%d", i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Broadcast(context.Background(), "msg", nil)
			}
		}(i)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p := newMockPeer(fmt.Sprintf("churn-%d-%d", n, j))
				r.Add(p)
				r.Remove(p)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, r.Len())
}

func TestCloseAll(t *testing.T) {
	r := New(nil)
	a, b := newMockPeer("a"), newMockPeer("b")
	r.Add(a)
	r.Add(b)

	assert.Equal(t, 2, r.CloseAll())
	assert.Zero(t, r.Len())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
