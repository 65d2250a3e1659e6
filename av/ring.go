package av

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DecodeFunc decodes one response into the slot's pixel buffer.
// It returns false when the decoder needs more input before producing a picture.
type DecodeFunc func(pixels []byte) (bool, error)

// FrameResult describes the slot a response was decoded into.
type FrameResult struct {
	Handle   SessionHandle
	IssuedAt time.Time
	State    FrameState
}

// FrameSlot is one entry of the frame ring.
//
// Metadata and state transitions are guarded by the slot mutex. The pixel
// buffer is written without the lock while the decoding flag is set; the state
// machine guarantees no reader looks at it until the slot becomes Ready.
type FrameSlot struct {
	mu       sync.Mutex
	seq      int32
	issuedAt time.Time
	handle   SessionHandle
	state    FrameState
	decoding bool

	pixels []byte
}

// FrameRing is a fixed-capacity ring of frame slots indexed by sequence
// number modulo capacity. It correlates outbound frame requests with inbound
// responses and holds decoded pictures until their display deadline.
//
// The send goroutine calls Next, Begin and Skip. Receive goroutines call
// Complete. The fold goroutine calls Consume.
type FrameRing struct {
	slots []FrameSlot
	next  atomic.Int32
}

// NewFrameRing allocates a ring of capacity slots, each with a pixel buffer
// of pixelBytes bytes allocated once.
//
// Parameters:
//   - capacity: Number of slots (frames in flight), at least 1
//   - pixelBytes: Size of one decoded picture
//
// Returns:
//   - *FrameRing: The new ring with every slot Idle
//   - error: ErrInvalidCapacity if capacity < 1
func NewFrameRing(capacity, pixelBytes int) (*FrameRing, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	r := &FrameRing{slots: make([]FrameSlot, capacity)}
	for i := range r.slots {
		r.slots[i].seq = -1
		r.slots[i].pixels = make([]byte, pixelBytes)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewFrameRing",
		"capacity":    capacity,
		"pixel_bytes": pixelBytes,
	}).Debug("Frame ring allocated")

	return r, nil
}

// Capacity returns the number of slots.
func (r *FrameRing) Capacity() int {
	return len(r.slots)
}

// Next allocates the sequence number for the current tick. Sequence numbers
// are consecutive from zero.
func (r *FrameRing) Next() int32 {
	return r.next.Add(1) - 1
}

// Current returns the next sequence number to be allocated.
func (r *FrameRing) Current() int32 {
	return r.next.Load()
}

func (r *FrameRing) slot(seq int32) *FrameSlot {
	return &r.slots[uint32(seq)%uint32(len(r.slots))]
}

// inWindow reports whether seq may still have a live slot: it was issued and
// at most capacity-1 later sequences have been allocated since.
func (r *FrameRing) inWindow(seq int32) bool {
	age := r.next.Load() - seq
	return age >= 0 && int(age) < len(r.slots)
}

// Begin marks the slot for seq Pending, owned by handle and issued at now.
//
// Returns:
//   - error: ErrSlotBusy if the previous occupant has not been consumed or a
//     late decode is still writing the slot's pixels
func (r *FrameRing) Begin(seq int32, handle SessionHandle, now time.Time) error {
	s := r.slot(seq)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != FrameIdle || s.decoding {
		return fmt.Errorf("%w: sequence %d, previous %d is %s", ErrSlotBusy, seq, s.seq, s.state)
	}

	s.seq = seq
	s.issuedAt = now
	s.handle = handle
	s.state = FramePending
	return nil
}

// Skip records that no request was issued for seq. The slot is claimed for
// seq only once its previous occupant has been consumed; an unconsumed frame
// is left in place for its fold.
//
// Returns:
//   - error: ErrSlotBusy if the previous occupant is still held or decoding
func (r *FrameRing) Skip(seq int32) error {
	s := r.slot(seq)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != FrameIdle || s.decoding {
		return fmt.Errorf("%w: sequence %d, previous %d is %s", ErrSlotBusy, seq, s.seq, s.state)
	}

	s.seq = seq
	s.handle = NoSession
	return nil
}

// Complete decodes a response for seq into its slot.
//
// Sequences outside the live window are rejected without touching the ring.
// A slot reissued to a different sequence yields ErrStaleFrame, an Idle slot
// (already folded) ErrLateFrame and a slot that is no longer Pending
// ErrDuplicateFrame. Otherwise decode runs against the slot's pixels and the
// slot becomes Ready on success or Failed when decode returns false or an
// error; decoder errors are returned wrapped in ErrDecodeFailed.
//
// Parameters:
//   - seq: Sequence number carried by the response
//   - decode: Decoder callback writing into the slot pixels
//
// Returns:
//   - FrameResult: Owner, issue time and final state of the slot
//   - error: Classification of a rejected or failed response
func (r *FrameRing) Complete(seq int32, decode DecodeFunc) (FrameResult, error) {
	if !r.inWindow(seq) {
		return FrameResult{}, fmt.Errorf("%w: sequence %d, current %d", ErrOutOfWindow, seq, r.next.Load())
	}

	s := r.slot(seq)
	s.mu.Lock()
	result := FrameResult{Handle: s.handle, IssuedAt: s.issuedAt, State: s.state}
	switch held := s.seq; {
	case held != seq:
		s.mu.Unlock()
		return result, fmt.Errorf("%w: sequence %d, slot holds %d", ErrStaleFrame, seq, held)
	case s.state == FrameIdle:
		s.mu.Unlock()
		return result, fmt.Errorf("%w: sequence %d", ErrLateFrame, seq)
	case s.state != FramePending || s.decoding:
		s.mu.Unlock()
		return result, fmt.Errorf("%w: sequence %d", ErrDuplicateFrame, seq)
	}
	s.decoding = true
	s.mu.Unlock()

	ok, err := decode(s.pixels)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.decoding = false

	final := FrameFailed
	if ok && err == nil {
		final = FrameReady
	}
	if s.seq == seq && s.state == FramePending {
		s.state = final
	}
	result.State = final

	if err != nil {
		return result, fmt.Errorf("%w: sequence %d: %v", ErrDecodeFailed, seq, err)
	}
	return result, nil
}

// Consume folds the slot for seq: fn, when not nil, is called with the
// slot's pixels if the frame is Ready, and the slot is then Idle. The state
// observed at fold time is returned; a slot reissued to another sequence
// reports Idle.
func (r *FrameRing) Consume(seq int32, fn func(pixels []byte)) FrameState {
	s := r.slot(seq)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seq != seq {
		return FrameIdle
	}

	state := s.state
	if state == FrameReady && fn != nil {
		fn(s.pixels)
	}
	s.state = FrameIdle
	return state
}

// State returns the current state of the slot for seq, or Idle if the slot
// holds another sequence.
func (r *FrameRing) State(seq int32) FrameState {
	s := r.slot(seq)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seq != seq {
		return FrameIdle
	}
	return s.state
}
