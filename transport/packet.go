package transport

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/opd-ai/rendercast/limits"
)

// Wire layout sizes. All integers are little-endian.
const (
	// RequestHeaderSize is sessionId:int32 followed by frameSeq:int32.
	RequestHeaderSize = 8
	// ChecksumSize is the trailing CRC-32C of a frame request.
	ChecksumSize = 4
	// MinRequestSize is the smallest valid request: header, one scene byte, checksum.
	MinRequestSize = RequestHeaderSize + 1 + ChecksumSize
	// ResponseHeaderSize is frameSeq:int32.
	ResponseHeaderSize = 4
	// MinResponseSize is the smallest valid response: header plus one payload byte.
	MinResponseSize = ResponseHeaderSize + 1
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the CRC-32C (Castagnoli) of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// FrameRequest is the client-to-server message asking a render server to
// render one frame of the given scene.
type FrameRequest struct {
	SessionID int32
	FrameSeq  int32
	Scene     []byte
}

// Marshal serializes the request and appends its CRC-32C.
//
// Returns:
//   - []byte: Wire representation sessionId | frameSeq | scene | crc32c
//   - error: ErrEmptyScene if the request carries no scene, or
//     limits.ErrMessageTooLarge if the receiver could not reassemble it
func (r *FrameRequest) Marshal() ([]byte, error) {
	if len(r.Scene) == 0 {
		return nil, ErrEmptyScene
	}
	if err := limits.ValidateMessageSize(r.Scene, limits.MaxReassemblyBuffer-RequestHeaderSize-ChecksumSize); err != nil {
		return nil, err
	}

	data := make([]byte, RequestHeaderSize+len(r.Scene)+ChecksumSize)
	binary.LittleEndian.PutUint32(data[0:4], uint32(r.SessionID))
	binary.LittleEndian.PutUint32(data[4:8], uint32(r.FrameSeq))
	n := copy(data[RequestHeaderSize:], r.Scene)
	end := RequestHeaderSize + n
	binary.LittleEndian.PutUint32(data[end:], Checksum(data[:end]))
	return data, nil
}

// ParseFrameRequest validates and decodes a frame request.
//
// The scene slice aliases data; callers that keep it past the lifetime of
// data must copy it.
//
// Parameters:
//   - data: A complete reassembled message
//
// Returns:
//   - *FrameRequest: The decoded request
//   - error: ErrPacketTooShort or ErrChecksumMismatch
func ParseFrameRequest(data []byte) (*FrameRequest, error) {
	if len(data) < MinRequestSize {
		return nil, fmt.Errorf("%w: frame request of %d bytes, need %d", ErrPacketTooShort, len(data), MinRequestSize)
	}

	end := len(data) - ChecksumSize
	want := binary.LittleEndian.Uint32(data[end:])
	if got := Checksum(data[:end]); got != want {
		return nil, fmt.Errorf("%w: computed %08x, received %08x", ErrChecksumMismatch, got, want)
	}

	return &FrameRequest{
		SessionID: int32(binary.LittleEndian.Uint32(data[0:4])),
		FrameSeq:  int32(binary.LittleEndian.Uint32(data[4:8])),
		Scene:     data[RequestHeaderSize:end],
	}, nil
}

// FrameResponse is the server-to-client message carrying one encoded frame.
// Responses are not checksummed; the decoder rejects damaged payloads.
type FrameResponse struct {
	FrameSeq int32
	Payload  []byte
}

// Marshal serializes the response as frameSeq | payload. Payloads the client
// could not reassemble are rejected with limits.ErrMessageTooLarge.
func (r *FrameResponse) Marshal() ([]byte, error) {
	if len(r.Payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if err := limits.ValidateMessageSize(r.Payload, limits.MaxReassemblyBuffer-ResponseHeaderSize); err != nil {
		return nil, err
	}

	data := make([]byte, ResponseHeaderSize+len(r.Payload))
	binary.LittleEndian.PutUint32(data[0:4], uint32(r.FrameSeq))
	copy(data[ResponseHeaderSize:], r.Payload)
	return data, nil
}

// ParseFrameResponse decodes a frame response. The payload aliases data.
func ParseFrameResponse(data []byte) (*FrameResponse, error) {
	if len(data) < MinResponseSize {
		return nil, fmt.Errorf("%w: frame response of %d bytes, need %d", ErrPacketTooShort, len(data), MinResponseSize)
	}

	return &FrameResponse{
		FrameSeq: int32(binary.LittleEndian.Uint32(data[0:4])),
		Payload:  data[ResponseHeaderSize:],
	}, nil
}
