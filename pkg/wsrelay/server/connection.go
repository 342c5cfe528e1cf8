package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tsarna/wsrelay/pkg/wsrelay/frame"
	"github.com/tsarna/wsrelay/pkg/wsrelay/handshake"
	"github.com/tsarna/wsrelay/pkg/wsrelay/o11y"
)

// State is the lifecycle state of a Connection.
type State int32

const (
	// StateConnecting: socket accepted, handshake not complete.
	StateConnecting State = iota
	// StateOpen: registered and relaying frames.
	StateOpen
	// StateClosed: terminal; unregistered and socket released.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrConnectionClosed is returned by Send on a connection that is not open.
var ErrConnectionClosed = errors.New("connection is not open")

var frameGoingAway = frame.EncodeClose(frame.StatusGoingAway)

// Connection is one accepted socket. It drives the handshake, then reads
// frames and hands text messages to the listener's registry. All writes to
// the socket go through a single mutex so frames from concurrent broadcasts
// are never interleaved.
type Connection struct {
	id       string
	conn     net.Conn
	reader   *bufio.Reader
	listener *Listener
	logger   *zap.Logger
	started  time.Time

	state     atomic.Int32
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newConnection(conn net.Conn, l *Listener) *Connection {
	id := uuid.NewString()
	return &Connection{
		id:       id,
		conn:     conn,
		reader:   bufio.NewReader(conn),
		listener: l,
		logger: l.logger.With(
			zap.String("conn_id", id),
			zap.String("remote_addr", conn.RemoteAddr().String()),
		),
		started: time.Now(),
	}
}

// ID returns the connection's unique identity.
func (c *Connection) ID() string {
	return c.id
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes one pre-encoded frame. It fails with ErrConnectionClosed unless
// the connection is open.
func (c *Connection) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.State() != StateOpen {
		return ErrConnectionClosed
	}
	return c.write(ctx, data)
}

// Close releases the socket and marks the connection closed. It is safe to
// call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Connection) write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var deadline time.Time
	if c.listener.config.writeTimeout > 0 {
		deadline = time.Now().Add(c.listener.config.writeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}

	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// serve runs the connection until it closes. It blocks.
func (c *Connection) serve(ctx context.Context) {
	l := c.listener
	ctx, span := o11y.StartSpan(ctx, l.config.tracingProvider, "wsrelay.connection")
	span.SetAttributes(o11y.Label{Key: "conn_id", Value: c.id})
	defer span.End()

	defer func() {
		l.registry.Remove(c)
		l.metrics.RecordConnectionEnd(ctx, time.Since(c.started))
		c.logger.Debug("Connection closed", zap.Duration("duration", time.Since(c.started)))
	}()

	if err := c.handshake(ctx); err != nil {
		l.stats.handshakeFailures.Add(1)
		l.metrics.RecordHandshakeFailure(ctx, handshakeFailureReason(err))
		span.SetStatus(o11y.SpanStatusError, err.Error())
		c.logger.Debug("Handshake failed", zap.Error(err))
		return
	}

	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return
	}
	l.registry.Add(c)
	c.logger.Debug("WebSocket connection established")

	if err := c.receive(ctx); err != nil {
		span.SetStatus(o11y.SpanStatusError, err.Error())
		return
	}
	span.SetStatus(o11y.SpanStatusOK, "")
}

func (c *Connection) handshake(ctx context.Context) error {
	cfg := c.listener.config
	if cfg.handshakeTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(cfg.handshakeTimeout)); err != nil {
			return err
		}
	}

	req, err := handshake.ReadRequest(c.reader, handshake.MaxRequestSize)
	if err != nil {
		return err
	}

	resp, err := handshake.Negotiate(req)
	if err != nil {
		return err
	}

	if err := c.write(ctx, resp); err != nil {
		return err
	}

	return c.conn.SetReadDeadline(time.Time{})
}

// receive reads frames until the client closes, a protocol error occurs, or
// the socket fails. It returns nil for an orderly close.
func (c *Connection) receive(ctx context.Context) error {
	l := c.listener
	reader := frame.NewReader(c.reader, l.config.maxPayload)

	for {
		if l.config.idleTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(l.config.idleTimeout)); err != nil {
				return err
			}
		}

		f, err := reader.ReadFrame()
		if err != nil {
			return c.readFailed(ctx, err)
		}

		switch f.Opcode {
		case frame.OpText:
			l.stats.messagesReceived.Add(1)
			l.metrics.RecordMessageReceived(ctx, len(f.Payload))
			l.broadcast(ctx, f.Text(), c)

		case frame.OpClose:
			c.logger.Debug("Close frame received")
			_ = c.write(ctx, frame.EncodeClose(frame.StatusNormalClosure))
			return nil

		default:
			c.logger.Debug("Ignoring frame", zap.Stringer("opcode", f.Opcode))
		}
	}
}

func (c *Connection) readFailed(ctx context.Context, err error) error {
	var fe *frame.FrameError
	switch {
	case errors.As(err, &fe):
		c.listener.stats.frameErrors.Add(1)
		c.listener.metrics.RecordFrameError(ctx, frameErrorType(fe))
		c.logger.Warn("Protocol violation, closing connection", zap.Error(err))
		_ = c.write(ctx, frame.EncodeClose(fe.StatusCode()))
		return err

	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), c.State() == StateClosed:
		c.logger.Debug("Connection closed by peer")
		return nil

	case isTimeout(err):
		c.logger.Debug("Connection idle, closing")
		return err

	default:
		c.logger.Error("Failed to read frame", zap.Error(err))
		return err
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func frameErrorType(fe *frame.FrameError) string {
	switch {
	case errors.Is(fe, frame.ErrShortFrame):
		return "short_frame"
	case errors.Is(fe, frame.ErrUnmaskedFrame):
		return "unmasked"
	case errors.Is(fe, frame.ErrFrameTooLarge):
		return "too_large"
	case errors.Is(fe, frame.ErrInvalidUTF8):
		return "invalid_utf8"
	default:
		return "other"
	}
}

func handshakeFailureReason(err error) string {
	switch {
	case errors.Is(err, handshake.ErrNotUpgradeRequest):
		return "not_upgrade"
	case errors.Is(err, handshake.ErrMissingKey):
		return "missing_key"
	case errors.Is(err, handshake.ErrRequestTooLarge):
		return "too_large"
	case isTimeout(err):
		return "timeout"
	default:
		return "io"
	}
}
