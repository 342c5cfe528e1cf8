package frame

import (
	"encoding/binary"
)

// headerSize returns the size of an unmasked server frame header for a payload
// of n bytes.
func headerSize(n int) int {
	switch {
	case n <= MaxSmallLength:
		return 2
	case n <= 0xffff:
		return 4
	default:
		return 10
	}
}

// Encode builds a complete, unmasked server frame with FIN set. The length
// field always uses the smallest encoding that fits the payload.
func Encode(op Opcode, payload []byte) []byte {
	n := len(payload)
	buf := make([]byte, headerSize(n)+n)
	buf[0] = finBit | byte(op&opcodeMask)

	pos := 2
	switch {
	case n <= MaxSmallLength:
		buf[1] = byte(n)
	case n <= 0xffff:
		buf[1] = length16
		binary.BigEndian.PutUint16(buf[2:4], uint16(n))
		pos = 4
	default:
		buf[1] = length64
		binary.BigEndian.PutUint64(buf[2:10], uint64(n))
		pos = 10
	}

	copy(buf[pos:], payload)
	return buf
}

// EncodeText builds a server text frame (first byte 0x81) carrying text.
func EncodeText(text string) []byte {
	return Encode(OpText, []byte(text))
}

// EncodeClose builds a server close frame carrying a status code.
func EncodeClose(code uint16) []byte {
	var payload [2]byte
	binary.BigEndian.PutUint16(payload[:], code)
	return Encode(OpClose, payload[:])
}
