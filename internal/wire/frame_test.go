package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1/S2 — handshake.
func TestReadMagic(t *testing.T) {
	require.NoError(t, ReadMagic(bytes.NewReader([]byte{0xAB, 0xBA, 0xAB, 0xBA})))

	err := ReadMagic(bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x00}))
	assert.ErrorIs(t, err, ErrBadMagic)

	err = ReadMagic(bytes.NewReader([]byte{0xAB, 0xBA}))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestWriteMagicAck(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMagicAck(&buf))
	assert.Equal(t, []byte{0xAB, 0xBA, 0xAB, 0xBA}, buf.Bytes())
}

// S3 — minimal GET frame.
func TestDecodeFrame_MinimalGet(t *testing.T) {
	raw := []byte{
		0x01,       // session
		0x01,       // cmd = REQUEST_GET
		0x01,       // type = URL
		0x11,       // len = 17
		'h', 't', 't', 'p', ':', '/', '/', 'g', 'o', 'o', 'g', 'l', 'e', '.', 'c', 'o', 'm',
	}

	frame, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.EqualValues(t, 1, frame.Session)
	assert.Equal(t, RequestGet, frame.Command)

	url, ok := frame.URL()
	require.True(t, ok)
	assert.Equal(t, "http://google.com", url)
}

// S4 — TLV bounds check.
func TestDecodeFrame_TLVOverrun(t *testing.T) {
	raw := []byte{0x01, 0x01, 0x01, 0xFF, 0x41}
	_, err := DecodeFrame(raw)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestDecodeFrame_UnknownCommand(t *testing.T) {
	_, err := DecodeFrame([]byte{0x01, 0x09})
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestDecodeFrame_UnknownTLVType(t *testing.T) {
	_, err := DecodeFrame([]byte{0x01, 0x01, 0x09, 0x00})
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestDecodeFrame_TooLarge(t *testing.T) {
	_, err := DecodeFrame(make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeFrame_TooShort(t *testing.T) {
	_, err := DecodeFrame([]byte{0x01})
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

// Invariant 5/6 of spec.md §8: round-trip and idempotence.
func TestFrameRoundTrip(t *testing.T) {
	frame := Frame{
		Session: 7,
		Command: RequestPost,
		TLVs: []TLV{
			{Type: TLVURL, Value: []byte("http://example.com")},
			{Type: TLVHeader, Value: []byte("X-Test: 1")},
			{Type: TLVData, Value: []byte("hello")},
		},
	}

	encoded, err := frame.Encode()
	require.NoError(t, err)

	decoded, err := DecodeFrame(encoded)
	require.NoError(t, err)
	assert.Equal(t, frame, decoded)

	// idempotence: decoding again yields the identical frame
	decodedAgain, err := DecodeFrame(encoded)
	require.NoError(t, err)
	assert.Equal(t, decoded, decodedAgain)
}

func TestFrame_Accessors(t *testing.T) {
	frame := Frame{
		TLVs: []TLV{
			{Type: TLVURL, Value: []byte("http://a")},
			{Type: TLVHeader, Value: []byte("A: 1")},
			{Type: TLVHeader, Value: []byte("B: 2")},
			{Type: TLVData, Value: []byte("payload")},
		},
	}

	url, ok := frame.URL()
	require.True(t, ok)
	assert.Equal(t, "http://a", url)

	headers := frame.Headers()
	assert.Len(t, headers, 2)

	data, ok := frame.Data()
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)
}

func TestEncode_RejectsOversizedTLV(t *testing.T) {
	frame := Frame{TLVs: []TLV{{Type: TLVData, Value: make([]byte, 256)}}}
	_, err := frame.Encode()
	assert.True(t, errors.Is(err, ErrInvalidFrame))
}
