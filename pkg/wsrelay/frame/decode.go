package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"unicode/utf8"
)

// parseHeader fills the fixed fields of f from the first two header bytes and
// returns how many extended length bytes follow.
func parseHeader(f *Frame, b0, b1 byte) int {
	f.Fin = b0&finBit != 0
	f.Opcode = Opcode(b0 & opcodeMask)
	f.Masked = b1&maskBit != 0
	f.Length = uint64(b1 & lengthMask)

	switch f.Length {
	case length16:
		return 2
	case length64:
		return 8
	default:
		return 0
	}
}

func parseExtendedLength(f *Frame, ext []byte) {
	switch len(ext) {
	case 2:
		f.Length = uint64(binary.BigEndian.Uint16(ext))
	case 8:
		f.Length = binary.BigEndian.Uint64(ext)
	}
}

// unmaskPayload removes the client mask and validates text payloads.
func unmaskPayload(f *Frame) error {
	Mask(f.Payload, f.Key)
	if f.Opcode == OpText && !utf8.Valid(f.Payload) {
		return f.fail(ErrInvalidUTF8)
	}
	return nil
}

func (f *Frame) fail(err error) *FrameError {
	return &FrameError{Err: err, Opcode: f.Opcode, Length: f.Length}
}

// Decode decodes exactly one client frame from the start of buf and returns it
// along with the number of bytes consumed. The returned payload is a copy and
// has already been unmasked. A buffer that ends before the declared header,
// masking key or payload yields ErrShortFrame; no partial frame is returned.
// A declared length above maxPayload yields ErrFrameTooLarge. A non-positive
// maxPayload selects DefaultMaxPayload.
func Decode(buf []byte, maxPayload int64) (*Frame, int, error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	f := &Frame{}
	if len(buf) < 2 {
		return nil, 0, f.fail(ErrShortFrame)
	}

	extra := parseHeader(f, buf[0], buf[1])
	if !f.Masked {
		return nil, 0, f.fail(ErrUnmaskedFrame)
	}

	keyStart := 2 + extra
	if len(buf) < keyStart {
		return nil, 0, f.fail(ErrShortFrame)
	}
	parseExtendedLength(f, buf[2:keyStart])
	if f.Length > uint64(maxPayload) {
		return nil, 0, f.fail(ErrFrameTooLarge)
	}

	payloadStart := keyStart + 4
	if len(buf) < payloadStart || uint64(len(buf)-payloadStart) < f.Length {
		return nil, 0, f.fail(ErrShortFrame)
	}
	copy(f.Key[:], buf[keyStart:payloadStart])

	end := payloadStart + int(f.Length)
	f.Payload = make([]byte, f.Length)
	copy(f.Payload, buf[payloadStart:end])

	if err := unmaskPayload(f); err != nil {
		return nil, 0, err
	}
	return f, end, nil
}

// Reader decodes client frames from a blocking stream.
type Reader struct {
	r          *bufio.Reader
	maxPayload uint64
	hdr        [8]byte
}

// NewReader returns a Reader that rejects payloads longer than maxPayload.
// A non-positive maxPayload selects DefaultMaxPayload.
func NewReader(r io.Reader, maxPayload int64) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Reader{r: br, maxPayload: uint64(maxPayload)}
}

// ReadFrame blocks until one complete frame has been read. It returns io.EOF
// if the stream ends cleanly before a new frame starts, and a *FrameError
// wrapping ErrShortFrame if the stream ends in the middle of a frame. Other
// read errors are returned unchanged.
func (fr *Reader) ReadFrame() (*Frame, error) {
	f := &Frame{}

	if _, err := io.ReadFull(fr.r, fr.hdr[:2]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, f.fail(ErrShortFrame)
		}
		return nil, err
	}

	extra := parseHeader(f, fr.hdr[0], fr.hdr[1])
	if !f.Masked {
		return nil, f.fail(ErrUnmaskedFrame)
	}

	if extra > 0 {
		if err := fr.readFull(f, fr.hdr[:extra]); err != nil {
			return nil, err
		}
		parseExtendedLength(f, fr.hdr[:extra])
	}

	if f.Length > fr.maxPayload {
		return nil, f.fail(ErrFrameTooLarge)
	}

	if err := fr.readFull(f, f.Key[:]); err != nil {
		return nil, err
	}

	f.Payload = make([]byte, f.Length)
	if err := fr.readFull(f, f.Payload); err != nil {
		return nil, err
	}

	if err := unmaskPayload(f); err != nil {
		return nil, err
	}
	return f, nil
}

// readFull reads the remainder of a frame that has already started, so any
// EOF means the frame was cut short.
func (fr *Reader) readFull(f *Frame, buf []byte) error {
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return f.fail(ErrShortFrame)
		}
		return err
	}
	return nil
}
