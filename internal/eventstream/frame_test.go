package eventstream

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFrame constructs a well-formed frame with the given headers-bytes and payload.
func buildFrame(t *testing.T, headerBytes, payload []byte) []byte {
	t.Helper()
	totalLen := uint32(16 + len(headerBytes) + len(payload))
	buf := make([]byte, 12, totalLen)
	binary.BigEndian.PutUint32(buf[0:4], totalLen)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(headerBytes)))
	preludeCRC := crc32.ChecksumIEEE(buf[0:8])
	binary.BigEndian.PutUint32(buf[8:12], preludeCRC)
	buf = append(buf, headerBytes...)
	buf = append(buf, payload...)
	trailingCRC := crc32.ChecksumIEEE(buf)
	trailer := make([]byte, 4)
	binary.BigEndian.PutUint32(trailer, trailingCRC)
	return append(buf, trailer...)
}

func stringHeader(name, value string) []byte {
	out := []byte{byte(len(name))}
	out = append(out, []byte(name)...)
	out = append(out, tagString)
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(value)))
	out = append(out, lenBuf...)
	out = append(out, []byte(value)...)
	return out
}

func TestDecodeOne_Success(t *testing.T) {
	headers := stringHeader(":event-type", "assistantResponseEvent")
	payload := []byte(`{"content":"hi"}`)
	frame := buildFrame(t, headers, payload)

	d := NewDecoder()
	f, consumed, err := d.DecodeOne(frame)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, len(frame), consumed)
	assert.Equal(t, "assistantResponseEvent", f.Headers.EventType())
	assert.Equal(t, payload, f.Payload)
}

func TestDecodeOne_NeedMore(t *testing.T) {
	headers := stringHeader(":event-type", "x")
	full := buildFrame(t, headers, []byte(`{}`))

	d := NewDecoder()
	f, consumed, err := d.DecodeOne(full[:len(full)-1])
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.Equal(t, 0, consumed)

	f, consumed, err = d.DecodeOne(full[:4])
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.Equal(t, 0, consumed)
}

// Scenario 1 from spec.md §8: total_len=32, header_len=0, correct prelude
// CRC, payload "{}" bytes, trailing CRC flipped by one bit -> CorruptFrame,
// zero bytes consumed.
func TestDecodeOne_CorruptTrailingCRC(t *testing.T) {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], 32)
	binary.BigEndian.PutUint32(buf[4:8], 0)
	binary.BigEndian.PutUint32(buf[8:12], crc32.ChecksumIEEE(buf[0:8]))
	payload := make([]byte, 32-16)
	copy(payload, []byte("{}"))
	buf = append(buf, payload...)
	trailingCRC := crc32.ChecksumIEEE(buf)
	trailer := make([]byte, 4)
	binary.BigEndian.PutUint32(trailer, trailingCRC^1) // flip one bit
	frame := append(buf, trailer...)

	d := NewDecoder()
	f, consumed, err := d.DecodeOne(frame)
	require.Error(t, err)
	assert.Nil(t, f)
	assert.Equal(t, 0, consumed)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, ErrCorruptFrame, decodeErr.Kind)
}

func TestDecodeOne_CorruptPreludeCRC(t *testing.T) {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], 20)
	binary.BigEndian.PutUint32(buf[4:8], 0)
	binary.BigEndian.PutUint32(buf[8:12], 0xDEADBEEF) // wrong on purpose
	buf = append(buf, make([]byte, 20-12)...)

	d := NewDecoder()
	f, consumed, err := d.DecodeOne(buf)
	require.Error(t, err)
	assert.Nil(t, f)
	assert.Equal(t, 0, consumed)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, ErrCorruptPrelude, decodeErr.Kind)
}

func TestDecodeOne_LengthOverflow(t *testing.T) {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], DefaultMaxFrameSize+1)
	binary.BigEndian.PutUint32(buf[4:8], 0)
	binary.BigEndian.PutUint32(buf[8:12], crc32.ChecksumIEEE(buf[0:8]))

	d := NewDecoder()
	_, consumed, err := d.DecodeOne(buf)
	require.Error(t, err)
	assert.Equal(t, 0, consumed)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, ErrLengthOverflow, decodeErr.Kind)
}

func TestDecodeOne_RoundTripConsumesExactLength(t *testing.T) {
	headers := stringHeader(":event-type", "toolUseEvent")
	payload := []byte(`{"toolUseId":"t1","name":"calc","input":"{}","stop":true}`)
	frame := buildFrame(t, headers, payload)
	trailing := []byte{0xAA, 0xBB} // extra bytes belonging to the next frame

	buf := append(append([]byte(nil), frame...), trailing...)
	d := NewDecoder()
	f, consumed, err := d.DecodeOne(buf)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, len(frame), consumed)
}

func TestExceptionTypeHeader(t *testing.T) {
	headers := stringHeader(":exception-type", "ThrottlingException")
	frame := buildFrame(t, headers, []byte(`{"message":"slow down"}`))

	d := NewDecoder()
	f, _, err := d.DecodeOne(frame)
	require.NoError(t, err)
	excType, ok := f.Headers.ExceptionType()
	assert.True(t, ok)
	assert.Equal(t, "ThrottlingException", excType)
}
