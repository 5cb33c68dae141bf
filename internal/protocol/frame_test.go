package protocol_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/tcpchat/internal/protocol"
)

func TestEncodePrependsBigEndianLength(t *testing.T) {
	frame := protocol.Encode([]byte("hello"))

	require.Len(t, frame, 9)
	assert.Equal(t, uint32(5), binary.BigEndian.Uint32(frame[:4]))
	assert.Equal(t, "hello", string(frame[4:]))
}

func TestReaderRoundTripsSeveralFrames(t *testing.T) {
	var buf bytes.Buffer
	payloads := []string{`{"type":"login"}`, "", "ünïcødé"}
	for _, p := range payloads {
		require.NoError(t, protocol.WriteFrame(&buf, []byte(p)))
	}

	r := protocol.NewReader(&buf, 0)
	for _, want := range payloads {
		got, err := r.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameEndOfStreamBeforeHeader(t *testing.T) {
	_, err := protocol.ReadFrame(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTruncated(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"partial header", []byte{0, 0}},
		{"partial payload", append([]byte{0, 0, 0, 10}, []byte("abc")...)},
		{"header only", []byte{0, 0, 0, 1}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := protocol.ReadFrame(bytes.NewReader(tc.input))
			assert.ErrorIs(t, err, protocol.ErrTruncated)
			assert.False(t, errors.Is(err, io.EOF), "truncation must not look like a clean close")
		})
	}
}

func TestReaderEnforcesMaximum(t *testing.T) {
	frame := protocol.Encode(bytes.Repeat([]byte("x"), 33))

	_, err := protocol.NewReader(bytes.NewReader(frame), 32).ReadFrame()
	assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)

	got, err := protocol.NewReader(bytes.NewReader(frame), 33).ReadFrame()
	require.NoError(t, err)
	assert.Len(t, got, 33)
}

func TestReadFrameWrapsUnderlyingErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := protocol.ReadFrame(failingReader{err: boom})
	assert.ErrorIs(t, err, boom)
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }
