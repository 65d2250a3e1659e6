package transport

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rendercast/limits"
)

func TestChecksumKnownValue(t *testing.T) {
	// CRC-32C check value from RFC 3720.
	assert.Equal(t, uint32(0xE3069283), Checksum([]byte("123456789")))
}

func TestFrameRequestRoundTrip(t *testing.T) {
	req := &FrameRequest{SessionID: 7, FrameSeq: -2, Scene: []byte("scene-bytes")}
	data, err := req.Marshal()
	require.NoError(t, err)
	require.Len(t, data, RequestHeaderSize+len(req.Scene)+ChecksumSize)

	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(data[0:4]))

	parsed, err := ParseFrameRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req, parsed)
}

func TestFrameRequestEmptyScene(t *testing.T) {
	_, err := (&FrameRequest{SessionID: 1}).Marshal()
	assert.ErrorIs(t, err, ErrEmptyScene)
}

func TestParseFrameRequestTooShort(t *testing.T) {
	for n := 0; n < MinRequestSize; n++ {
		_, err := ParseFrameRequest(make([]byte, n))
		assert.ErrorIs(t, err, ErrPacketTooShort, "length %d", n)
	}
}

func TestParseFrameRequestDetectsSingleBitFlips(t *testing.T) {
	req := &FrameRequest{SessionID: 3, FrameSeq: 41, Scene: []byte{0xde, 0xad, 0xbe, 0xef, 0x01}}
	data, err := req.Marshal()
	require.NoError(t, err)

	for i := 0; i < len(data)*8; i++ {
		corrupted := append([]byte(nil), data...)
		corrupted[i/8] ^= 1 << (i % 8)
		_, err := ParseFrameRequest(corrupted)
		assert.ErrorIs(t, err, ErrChecksumMismatch, "bit %d", i)
	}
}

func TestFrameResponseRoundTrip(t *testing.T) {
	resp := &FrameResponse{FrameSeq: 1234, Payload: []byte{1, 2, 3}}
	data, err := resp.Marshal()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xd2, 0x04, 0, 0, 1, 2, 3}, data)

	parsed, err := ParseFrameResponse(data)
	require.NoError(t, err)
	assert.Equal(t, resp, parsed)
}

func TestMarshalRejectsUnreassemblableMessages(t *testing.T) {
	big := make([]byte, limits.MaxReassemblyBuffer)

	_, err := (&FrameRequest{Scene: big}).Marshal()
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)
	_, err = (&FrameResponse{Payload: big}).Marshal()
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)

	data, err := (&FrameResponse{Payload: big[:limits.MaxReassemblyBuffer-ResponseHeaderSize]}).Marshal()
	require.NoError(t, err)
	assert.Len(t, data, limits.MaxReassemblyBuffer)

	data, err = (&FrameRequest{Scene: big[:limits.MaxReassemblyBuffer-RequestHeaderSize-ChecksumSize]}).Marshal()
	require.NoError(t, err)
	assert.Len(t, data, limits.MaxReassemblyBuffer)
}

func TestParseFrameResponseTooShort(t *testing.T) {
	_, err := ParseFrameResponse([]byte{1, 0, 0, 0})
	assert.ErrorIs(t, err, ErrPacketTooShort)

	_, err = (&FrameResponse{FrameSeq: 1}).Marshal()
	assert.ErrorIs(t, err, ErrEmptyPayload)
}
