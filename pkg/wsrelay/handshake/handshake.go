// Package handshake implements the server side of the WebSocket opening
// handshake: it recognises an HTTP upgrade request and produces the
// 101 Switching Protocols response that completes it.
package handshake

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// GUID is appended to the client key before hashing (RFC 6455 section 1.3).
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// MaxRequestSize bounds the size of an upgrade request head.
const MaxRequestSize = 8 << 10

const keyHeader = "sec-websocket-key"

var (
	ErrNotUpgradeRequest = errors.New("request does not start with GET")
	ErrMissingKey        = errors.New("missing Sec-WebSocket-Key header")
	ErrRequestTooLarge   = errors.New("upgrade request too large")
)

// Error is returned when a request is rejected.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return "websocket handshake rejected: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + GUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Key extracts the Sec-WebSocket-Key value from a raw request. The header
// name is matched case-insensitively and the value is trimmed.
func Key(request []byte) (string, bool) {
	for _, line := range strings.Split(string(request), "\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), keyHeader) {
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			return value, true
		}
	}
	return "", false
}

// Negotiate validates a raw upgrade request and returns the response that
// completes the handshake. Only the leading GET and the presence of
// Sec-WebSocket-Key are checked.
func Negotiate(request []byte) ([]byte, error) {
	if !bytes.HasPrefix(request, []byte("GET")) {
		return nil, &Error{Err: ErrNotUpgradeRequest}
	}

	key, ok := Key(request)
	if !ok {
		return nil, &Error{Err: ErrMissingKey}
	}

	return Response(AcceptKey(key)), nil
}

// Response renders the 101 response for an accept value.
func Response(accept string) []byte {
	return []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: websocket\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n" +
		"\r\n")
}

// ReadRequest reads an upgrade request head from r, up to and including the
// blank line that ends it. A first line that does not start with GET is
// rejected immediately, without waiting for the rest of the request. Bytes
// after the blank line are left buffered in r.
func ReadRequest(r *bufio.Reader, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = MaxRequestSize
	}

	var buf bytes.Buffer
	continued := false
	for {
		line, err := r.ReadSlice('\n')
		if buf.Len()+len(line) > limit {
			return nil, &Error{Err: ErrRequestTooLarge}
		}
		buf.Write(line)

		if buf.Len() >= 3 && !bytes.HasPrefix(buf.Bytes(), []byte("GET")) {
			return nil, &Error{Err: ErrNotUpgradeRequest}
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continued = true
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && buf.Len() > 0 {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("reading upgrade request: %w", err)
		}

		if !continued && len(bytes.TrimRight(line, "\r\n")) == 0 {
			return buf.Bytes(), nil
		}
		continued = false
	}
}
