package av

import "errors"

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Frame ring errors.
var (
	// ErrOutOfWindow indicates a sequence number outside the ring's live window.
	ErrOutOfWindow = errors.New("frame outside ring window")

	// ErrStaleFrame indicates the slot has been reissued to a newer sequence.
	ErrStaleFrame = errors.New("frame slot reissued to newer sequence")

	// ErrLateFrame indicates the frame arrived after it was already folded.
	// The display delay may be too short for the current network.
	ErrLateFrame = errors.New("frame arrived after its display deadline")

	// ErrDuplicateFrame indicates a second response for an already decoded frame.
	ErrDuplicateFrame = errors.New("frame already completed")

	// ErrSlotBusy indicates the slot for a new sequence still holds an unconsumed
	// frame or is being decoded into.
	ErrSlotBusy = errors.New("frame slot busy")

	// ErrDecodeFailed wraps decoder errors surfaced by Complete.
	ErrDecodeFailed = errors.New("frame decode failed")
)

// Configuration errors.
var (
	// ErrInvalidCapacity indicates a ring capacity below one.
	ErrInvalidCapacity = errors.New("ring capacity must be positive")

	// ErrInvalidFrameRate indicates a non-positive frame rate.
	ErrInvalidFrameRate = errors.New("frame rate must be positive")

	// ErrInvalidHistoryLength indicates a history window outside 1..64.
	ErrInvalidHistoryLength = errors.New("history length must be within 1..64")
)
