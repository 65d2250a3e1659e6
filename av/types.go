package av

import "fmt"

// FrameState is the lifecycle state of one ring slot.
type FrameState int32

const (
	// FrameIdle means the slot holds no frame in flight.
	FrameIdle FrameState = iota
	// FramePending means a request was issued and no response has been decoded.
	FramePending
	// FrameReady means the response was decoded into the slot's pixels.
	FrameReady
	// FrameFailed means a response arrived but could not be decoded.
	FrameFailed
)

// String returns a human-readable state name.
func (s FrameState) String() string {
	switch s {
	case FrameIdle:
		return "idle"
	case FramePending:
		return "pending"
	case FrameReady:
		return "ready"
	case FrameFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Arrived reports whether a response was received for the frame, decoded or
// not. Both count as on time when the frame is folded.
func (s FrameState) Arrived() bool {
	return s == FrameReady || s == FrameFailed
}

// SessionHandle is a weak reference to a client session: an arena index plus
// the generation the slot had when the handle was taken. A handle whose
// generation no longer matches resolves to nothing.
type SessionHandle struct {
	Index      uint32
	Generation uint32
}

// NoSession is the zero handle; generations start at one so it never resolves.
var NoSession = SessionHandle{}

// Valid reports whether the handle could refer to a session.
func (h SessionHandle) Valid() bool {
	return h.Generation != 0
}

// String formats the handle for logs.
func (h SessionHandle) String() string {
	return fmt.Sprintf("%d#%d", h.Index, h.Generation)
}
