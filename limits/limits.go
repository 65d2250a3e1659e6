// Package limits provides centralized size limits for the rendercast wire protocol.
// This ensures consistent validation across the framer, the sockets and the codecs.
package limits

import (
	"errors"
	"fmt"
)

const (
	// FragmentHeaderSize is the control header prefixed to every datagram.
	FragmentHeaderSize = 1

	// MinMTU is the smallest fragment payload the framer accepts.
	MinMTU = 1

	// DefaultMTU keeps a fragment (header included) inside a 1500 byte Ethernet frame
	// after IPv6 and UDP headers.
	DefaultMTU = 1400

	// MaxMTU is the largest fragment payload that still fits a single UDP datagram
	// (65535 - 8 byte UDP header - 20 byte IPv4 header - fragment header).
	MaxMTU = 65506

	// MaxReassemblyBuffer bounds a single reassembled message (5MB).
	// A message that grows past it is discarded and the buffer reset.
	MaxReassemblyBuffer = 5 * 1024 * 1024

	// MaxSceneSnapshot bounds a serialized scene snapshot (5MB).
	MaxSceneSnapshot = 5 * 1024 * 1024

	// ReadBufferSize is the per-socket datagram read buffer.
	ReadBufferSize = 64 * 1024
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrInvalidMTU indicates an MTU outside [MinMTU, MaxMTU]
	ErrInvalidMTU = errors.New("invalid MTU")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateMTU checks that mtu can carry at least one payload byte and that a full
// fragment still fits in one UDP datagram.
func ValidateMTU(mtu int) error {
	if mtu < MinMTU || mtu > MaxMTU {
		return fmt.Errorf("%w: %d (must be %d-%d)", ErrInvalidMTU, mtu, MinMTU, MaxMTU)
	}
	return nil
}

// ValidateSceneSnapshot validates a serialized scene against MaxSceneSnapshot.
// Returns an error with context if the snapshot is empty or exceeds the limit.
func ValidateSceneSnapshot(snapshot []byte) error {
	if len(snapshot) == 0 {
		return ErrMessageEmpty
	}
	if len(snapshot) > MaxSceneSnapshot {
		return fmt.Errorf("%w: scene size %d exceeds limit %d", ErrMessageTooLarge, len(snapshot), MaxSceneSnapshot)
	}
	return nil
}
