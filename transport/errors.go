package transport

import "errors"

// Common transport errors
var (
	// ErrPacketTooShort indicates a message shorter than its fixed header.
	ErrPacketTooShort = errors.New("packet too short")

	// ErrChecksumMismatch indicates a frame request whose CRC-32C does not match.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrEmptyScene is returned when marshalling a request without scene bytes.
	ErrEmptyScene = errors.New("frame request has no scene data")

	// ErrEmptyPayload is returned when marshalling a response without payload.
	ErrEmptyPayload = errors.New("frame response has no payload")

	// ErrSessionClosed is returned by operations on a closed session or listener.
	ErrSessionClosed = errors.New("transport closed")

	// ErrQueueFull is returned when a bounded hand-off queue has no room.
	ErrQueueFull = errors.New("queue full")
)
