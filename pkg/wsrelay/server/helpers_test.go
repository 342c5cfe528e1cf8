package server

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tsarna/wsrelay/pkg/wsrelay/frame"
)

const upgradeRequest = "GET /chat HTTP/1.1\r\n" +
	"Host: localhost\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n" +
	"\r\n"

// startListener serves a listener built from cfg on a loopback port and
// shuts it down when the test ends.
func startListener(t *testing.T, cfg *ListenerConfig) *Listener {
	t.Helper()

	if cfg == nil {
		cfg = NewListenerConfig()
	}
	l, err := cfg.WithLogger(zaptest.NewLogger(t)).Build()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- l.Serve(ctx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		require.NoError(t, l.Shutdown(shutdownCtx))
		require.NoError(t, <-served)
	})

	require.Eventually(t, func() bool { return l.Addr() != nil }, time.Second, time.Millisecond)
	return l
}

// rawClient speaks the wire protocol by hand.
type rawClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialRaw(t *testing.T, l *Listener) *rawClient {
	t.Helper()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &rawClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

// connect dials and completes the handshake, then waits until the listener
// has registered want connections.
func connect(t *testing.T, l *Listener, want int) *rawClient {
	t.Helper()

	c := dialRaw(t, l)
	c.handshake()
	require.Eventually(t, func() bool { return l.ConnectionCount() == want }, time.Second, time.Millisecond)
	return c
}

func (c *rawClient) handshake() {
	c.t.Helper()

	_, err := c.conn.Write([]byte(upgradeRequest))
	require.NoError(c.t, err)

	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var head strings.Builder
	for {
		line, err := c.r.ReadString('\n')
		require.NoError(c.t, err)
		head.WriteString(line)
		if line == "\r\n" {
			break
		}
	}

	require.Equal(c.t, "HTTP/1.1 101 Switching Protocols\r\n"+
		"Connection: Upgrade\r\n"+
		"Upgrade: websocket\r\n"+
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n"+
		"\r\n", head.String())
}

func (c *rawClient) send(op frame.Opcode, payload []byte) {
	c.t.Helper()

	key := [4]byte{0x01, 0x02, 0x03, 0x04}
	server := frame.Encode(op, payload)
	hdr := len(server) - len(payload)

	wire := append([]byte(nil), server[:hdr]...)
	wire[1] |= 0x80
	wire = append(wire, key[:]...)
	masked := append([]byte(nil), payload...)
	frame.Mask(masked, key)
	wire = append(wire, masked...)

	_, err := c.conn.Write(wire)
	require.NoError(c.t, err)
}

func (c *rawClient) sendText(text string) {
	c.send(frame.OpText, []byte(text))
}

// readFrame reads one unmasked server frame.
func (c *rawClient) readFrame() (frame.Opcode, []byte, error) {
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hdr [2]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return 0, nil, err
	}
	require.Zero(c.t, hdr[1]&0x80, "server frames must not be masked")

	length := uint64(hdr[1] & 0x7f)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(c.r, ext[:]); err != nil {
			return 0, nil, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(c.r, ext[:]); err != nil {
			return 0, nil, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return 0, nil, err
	}
	return frame.Opcode(hdr[0] & 0x0f), payload, nil
}

func (c *rawClient) readText() string {
	c.t.Helper()

	op, payload, err := c.readFrame()
	require.NoError(c.t, err)
	require.Equal(c.t, frame.OpText, op)
	return string(payload)
}

// expectClosed reads until the server closes the socket, returning any close
// status the server sent first.
func (c *rawClient) expectClosed() (status uint16) {
	c.t.Helper()

	for {
		op, payload, err := c.readFrame()
		if err != nil {
			// EOF, or a reset if the server discarded unread input.
			require.False(c.t, isTimeout(err), "server did not close the connection")
			return status
		}
		if op == frame.OpClose && len(payload) >= 2 {
			status = binary.BigEndian.Uint16(payload)
		}
	}
}
