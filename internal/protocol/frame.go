// Package protocol implements the chat wire format: length-prefixed frames
// carrying UTF-8 JSON envelopes.
//
// Each frame is a 4-byte big-endian unsigned payload length followed by the
// payload itself. There is no terminator and, unless a Reader is configured
// with a maximum, no upper bound on the length.
package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// headerLength is the size of the length prefix.
const headerLength = 4

var (
	// ErrTruncated is returned when the stream ends after a frame has started
	// but before it is complete. The connection cannot be resynchronized.
	ErrTruncated = errors.New("protocol: truncated frame")

	// ErrFrameTooLarge is returned when a frame header announces a payload
	// longer than the reader's configured maximum.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")
)

// Encode returns payload framed with its length prefix.
func Encode(payload []byte) []byte {
	frame := make([]byte, headerLength+len(payload))
	binary.BigEndian.PutUint32(frame[:headerLength], uint32(len(payload)))
	copy(frame[headerLength:], payload)
	return frame
}

// WriteFrame writes payload to w as a single frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if _, err := w.Write(Encode(payload)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Reader decodes frames from a byte stream.
type Reader struct {
	r       *bufio.Reader
	maxSize int64
}

// NewReader returns a Reader over r. A maxSize of zero or less disables the
// payload length check.
func NewReader(r io.Reader, maxSize int64) *Reader {
	return &Reader{r: bufio.NewReader(r), maxSize: maxSize}
}

// ReadFrame blocks until a whole frame is available and returns its payload.
//
// It returns io.EOF if the stream closes cleanly before any header byte
// arrives, ErrTruncated if it closes partway through a frame, and
// ErrFrameTooLarge if the announced length exceeds the configured maximum.
// Other read errors are returned wrapped.
func (fr *Reader) ReadFrame() ([]byte, error) {
	return readFrame(fr.r, fr.maxSize)
}

// ReadFrame reads a single frame from r without a size limit. It reads no
// more bytes than the frame occupies.
func ReadFrame(r io.Reader) ([]byte, error) {
	return readFrame(r, 0)
}

func readFrame(r io.Reader, maxSize int64) ([]byte, error) {
	var header [headerLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, ErrTruncated
		default:
			return nil, fmt.Errorf("read frame header: %w", err)
		}
	}

	length := binary.BigEndian.Uint32(header[:])
	if maxSize > 0 && int64(length) > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}
