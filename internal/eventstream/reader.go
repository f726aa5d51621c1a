package eventstream

import (
	"context"
	"errors"
	"io"
)

// ErrClosed is returned by Next after the Reader has been closed.
var ErrClosed = errors.New("eventstream: reader closed")

// Reader wraps a chunked byte source (an HTTPS response body) and turns it
// into a lazy, finite, single-pass sequence of decoded Frames. It owns a
// grow-only buffer that is appended to on each read and drained as frames
// are decoded off the front.
type Reader struct {
	src     io.Reader
	dec     *Decoder
	buf     []byte
	readBuf []byte
	err     error
	closed  bool
}

// NewReader wraps src with the default frame size cap.
func NewReader(src io.Reader) *Reader {
	return &Reader{
		src:     src,
		dec:     NewDecoder(),
		readBuf: make([]byte, 32*1024),
	}
}

// NewReaderWithDecoder wraps src using a caller-supplied Decoder (e.g. one
// configured with a non-default frame size cap).
func NewReaderWithDecoder(src io.Reader, dec *Decoder) *Reader {
	return &Reader{src: src, dec: dec, readBuf: make([]byte, 32*1024)}
}

// Next returns the next decoded Frame, or (nil, nil) when the source has
// closed and the buffer has fully drained (end of stream). A non-nil error
// is terminal: the Reader does not attempt resync, and the caller should
// treat it as an upstream failure (spec.md §4.2, §7 DecodeError).
func (r *Reader) Next(ctx context.Context) (*Frame, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if r.err != nil {
		return nil, r.err
	}

	for {
		frame, consumed, decErr := r.dec.DecodeOne(r.buf)
		if decErr != nil {
			r.err = decErr
			r.closed = true
			return nil, decErr
		}
		if frame != nil {
			r.consume(consumed)
			return frame, nil
		}

		select {
		case <-ctx.Done():
			r.err = ctx.Err()
			return nil, r.err
		default:
		}

		n, readErr := r.src.Read(r.readBuf)
		if n > 0 {
			r.buf = append(r.buf, r.readBuf[:n]...)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				r.closed = true
				if len(r.buf) > 0 {
					// Trailing bytes that never formed a complete frame.
					r.err = newDecodeError(ErrMalformedHeader, "stream closed with %d unconsumed trailing bytes", len(r.buf))
					return nil, r.err
				}
				return nil, nil
			}
			r.err = readErr
			r.closed = true
			return nil, readErr
		}
	}
}

// consume drops the first n bytes of the rolling buffer. Grow strategy is
// exponential (via append) up to the decoder's configured cap; consume never
// reallocates beyond shrinking the live slice.
func (r *Reader) consume(n int) {
	if n <= 0 {
		return
	}
	remaining := len(r.buf) - n
	if remaining <= 0 {
		r.buf = r.buf[:0]
		return
	}
	copy(r.buf, r.buf[n:])
	r.buf = r.buf[:remaining]
}

// Close releases the underlying source, if it implements io.Closer.
func (r *Reader) Close() error {
	r.closed = true
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

