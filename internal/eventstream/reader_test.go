package eventstream

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedReader hands back src in fixed-size pieces to exercise the Reader's
// rolling-buffer accumulation across multiple short reads.
type chunkedReader struct {
	data      []byte
	chunkSize int
	pos       int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	n := c.chunkSize
	if n > len(p) {
		n = len(p)
	}
	if c.pos+n > len(c.data) {
		n = len(c.data) - c.pos
	}
	copy(p, c.data[c.pos:c.pos+n])
	c.pos += n
	return n, nil
}

func drain(t *testing.T, r *Reader) ([]*Frame, error) {
	t.Helper()
	var frames []*Frame
	for {
		f, err := r.Next(context.Background())
		if err != nil {
			return frames, err
		}
		if f == nil {
			return frames, nil
		}
		frames = append(frames, f)
	}
}

func TestReader_SingleFrameAcrossSmallChunks(t *testing.T) {
	headers := stringHeader(":event-type", "assistantResponseEvent")
	frame := buildFrame(t, headers, []byte(`{"content":"hi"}`))

	src := &chunkedReader{data: frame, chunkSize: 3}
	r := NewReader(src)

	frames, err := drain(t, r)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "assistantResponseEvent", frames[0].Headers.EventType())
}

func TestReader_MultipleFramesBackToBack(t *testing.T) {
	f1 := buildFrame(t, stringHeader(":event-type", "a"), []byte(`{"n":1}`))
	f2 := buildFrame(t, stringHeader(":event-type", "b"), []byte(`{"n":2}`))
	f3 := buildFrame(t, stringHeader(":event-type", "c"), []byte(`{"n":3}`))

	all := append(append(append([]byte(nil), f1...), f2...), f3...)
	src := &chunkedReader{data: all, chunkSize: 7}
	r := NewReader(src)

	frames, err := drain(t, r)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, "a", frames[0].Headers.EventType())
	assert.Equal(t, "b", frames[1].Headers.EventType())
	assert.Equal(t, "c", frames[2].Headers.EventType())
}

func TestReader_CleanEOFAfterLastFrame(t *testing.T) {
	frame := buildFrame(t, stringHeader(":event-type", "only"), []byte(`{}`))
	src := &chunkedReader{data: frame, chunkSize: 1024}
	r := NewReader(src)

	frames, err := drain(t, r)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	f, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestReader_TrailingGarbageAtEOFIsAnError(t *testing.T) {
	frame := buildFrame(t, stringHeader(":event-type", "only"), []byte(`{}`))
	data := append(append([]byte(nil), frame...), 0x01, 0x02, 0x03)
	src := &chunkedReader{data: data, chunkSize: 1024}
	r := NewReader(src)

	frames, err := drain(t, r)
	require.Error(t, err)
	require.Len(t, frames, 1)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, ErrMalformedHeader, decodeErr.Kind)
}

func TestReader_CorruptFrameIsTerminal(t *testing.T) {
	buf := buildFrame(t, stringHeader(":event-type", "x"), []byte(`{}`))
	buf[len(buf)-1] ^= 0xFF // corrupt trailing CRC
	src := &chunkedReader{data: buf, chunkSize: 1024}
	r := NewReader(src)

	_, err := r.Next(context.Background())
	require.Error(t, err)

	// A second call after a terminal error must not attempt resync.
	_, err2 := r.Next(context.Background())
	require.Error(t, err2)
}

type errReader struct{ err error }

func (e *errReader) Read([]byte) (int, error) { return 0, e.err }

func TestReader_UnderlyingReadErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	r := NewReader(&errReader{err: boom})
	_, err := r.Next(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestReader_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewReader(&chunkedReader{data: nil, chunkSize: 1})
	_, err := r.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
