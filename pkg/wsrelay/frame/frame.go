package frame

import (
	"errors"
	"fmt"
)

// Opcode identifies the purpose of a frame.
type Opcode uint8

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether the opcode is a control opcode (close, ping, pong
// and the reserved 0xB-0xF range).
func (o Opcode) IsControl() bool {
	return o >= 0x8
}

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(0x%x)", uint8(o))
	}
}

const (
	finBit  = 0x80
	maskBit = 0x80

	opcodeMask = 0x0f
	lengthMask = 0x7f

	// MaxSmallLength is the largest payload length carried in the 7-bit field.
	MaxSmallLength = 125
	length16       = 126
	length64       = 127

	// DefaultMaxPayload bounds the payload a decoder will accept.
	DefaultMaxPayload = 16 << 20

	// Status codes used in close frames.
	StatusNormalClosure   = 1000
	StatusGoingAway       = 1001
	StatusProtocolError   = 1002
	StatusInvalidPayload  = 1007
	StatusMessageTooLarge = 1009
)

// Frame is one decoded WebSocket frame. Payload is always unmasked.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	Length  uint64
	Key     [4]byte
	Payload []byte
}

// Text returns the payload as a string.
func (f *Frame) Text() string {
	return string(f.Payload)
}

var (
	// ErrShortFrame is returned when fewer bytes are available than the frame
	// header declares.
	ErrShortFrame = errors.New("short frame")
	// ErrUnmaskedFrame is returned for a client frame without the mask bit.
	ErrUnmaskedFrame = errors.New("client frame is not masked")
	// ErrFrameTooLarge is returned when the declared length exceeds the limit.
	ErrFrameTooLarge = errors.New("frame payload too large")
	// ErrInvalidUTF8 is returned for a text frame whose payload is not UTF-8.
	ErrInvalidUTF8 = errors.New("text frame is not valid UTF-8")
)

// FrameError describes a framing violation. It wraps one of the Err* sentinels.
type FrameError struct {
	Err    error
	Opcode Opcode
	Length uint64
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("websocket frame (%s, length %d): %v", e.Opcode, e.Length, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// StatusCode returns the close status that best describes the error.
func (e *FrameError) StatusCode() uint16 {
	switch {
	case errors.Is(e.Err, ErrFrameTooLarge):
		return StatusMessageTooLarge
	case errors.Is(e.Err, ErrInvalidUTF8):
		return StatusInvalidPayload
	default:
		return StatusProtocolError
	}
}

// Mask XORs payload in place with key. Applying it twice restores the input.
func Mask(payload []byte, key [4]byte) {
	for i := range payload {
		payload[i] ^= key[i%4]
	}
}
