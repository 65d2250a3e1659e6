package av

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(value byte) DecodeFunc {
	return func(pixels []byte) (bool, error) {
		for i := range pixels {
			pixels[i] = value
		}
		return true, nil
	}
}

func TestFrameStateString(t *testing.T) {
	tests := []struct {
		state    FrameState
		expected string
		arrived  bool
	}{
		{FrameIdle, "idle", false},
		{FramePending, "pending", false},
		{FrameReady, "ready", true},
		{FrameFailed, "failed", true},
		{FrameState(9), "unknown(9)", false},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
			assert.Equal(t, tt.arrived, tt.state.Arrived())
		})
	}
}

func TestNewFrameRingInvalidCapacity(t *testing.T) {
	_, err := NewFrameRing(0, 4)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestFrameRingLifecycle(t *testing.T) {
	ring, err := NewFrameRing(3, 4)
	require.NoError(t, err)
	handle := SessionHandle{Index: 2, Generation: 1}
	now := time.Now()

	seq := ring.Next()
	require.Equal(t, int32(0), seq)
	require.NoError(t, ring.Begin(seq, handle, now))
	assert.Equal(t, FramePending, ring.State(seq))

	result, err := ring.Complete(seq, fill(7))
	require.NoError(t, err)
	assert.Equal(t, FrameReady, result.State)
	assert.Equal(t, handle, result.Handle)
	assert.Equal(t, now, result.IssuedAt)

	var shown []byte
	state := ring.Consume(seq, func(p []byte) { shown = append([]byte(nil), p...) })
	assert.Equal(t, FrameReady, state)
	assert.Equal(t, []byte{7, 7, 7, 7}, shown)
	assert.Equal(t, FrameIdle, ring.State(seq))
}

func TestFrameRingConsumeAlwaysEndsIdle(t *testing.T) {
	decoders := map[string]DecodeFunc{
		"ready":  fill(1),
		"needs":  func([]byte) (bool, error) { return false, nil },
		"broken": func([]byte) (bool, error) { return true, errors.New("corrupt") },
	}

	for name, decode := range decoders {
		t.Run(name, func(t *testing.T) {
			ring, err := NewFrameRing(2, 1)
			require.NoError(t, err)

			seq := ring.Next()
			require.NoError(t, ring.Begin(seq, SessionHandle{Generation: 1}, time.Now()))
			_, _ = ring.Complete(seq, decode)

			state := ring.Consume(seq, nil)
			assert.True(t, state.Arrived())
			assert.Equal(t, FrameIdle, ring.State(seq))
		})
	}
}

func TestFrameRingDecodeOutcomes(t *testing.T) {
	ring, err := NewFrameRing(4, 1)
	require.NoError(t, err)

	failed := ring.Next()
	require.NoError(t, ring.Begin(failed, SessionHandle{Generation: 1}, time.Now()))
	result, err := ring.Complete(failed, func([]byte) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.Equal(t, FrameFailed, result.State)

	broken := ring.Next()
	require.NoError(t, ring.Begin(broken, SessionHandle{Generation: 1}, time.Now()))
	result, err = ring.Complete(broken, func([]byte) (bool, error) { return false, errors.New("bad data") })
	assert.ErrorIs(t, err, ErrDecodeFailed)
	assert.Equal(t, FrameFailed, result.State)
	assert.Equal(t, FrameFailed, ring.State(broken))
}

func TestFrameRingOutOfWindowNeverMutates(t *testing.T) {
	ring, err := NewFrameRing(3, 1)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		seq := ring.Next()
		if seq >= 3 {
			ring.Consume(seq-3, nil)
		}
		require.NoError(t, ring.Begin(seq, SessionHandle{Generation: 1}, time.Now()))
	}
	// Sequences 0..4 issued; window is current(5) - seq in [0, 3).
	called := false
	decode := func([]byte) (bool, error) {
		called = true
		return true, nil
	}

	for _, seq := range []int32{0, 1, 2, 6, 100, -1} {
		_, err := ring.Complete(seq, decode)
		assert.ErrorIs(t, err, ErrOutOfWindow, "sequence %d", seq)
	}
	assert.False(t, called)
	assert.Equal(t, FramePending, ring.State(3))
	assert.Equal(t, FramePending, ring.State(4))
}

func TestFrameRingLateAndDuplicate(t *testing.T) {
	ring, err := NewFrameRing(4, 1)
	require.NoError(t, err)

	seq := ring.Next()
	require.NoError(t, ring.Begin(seq, SessionHandle{Generation: 1}, time.Now()))
	assert.Equal(t, FramePending, ring.Consume(seq, nil))

	_, err = ring.Complete(seq, fill(1))
	assert.ErrorIs(t, err, ErrLateFrame)

	next := ring.Next()
	require.NoError(t, ring.Begin(next, SessionHandle{Generation: 1}, time.Now()))
	_, err = ring.Complete(next, fill(1))
	require.NoError(t, err)
	_, err = ring.Complete(next, fill(2))
	assert.ErrorIs(t, err, ErrDuplicateFrame)
}

func TestFrameRingStaleSlot(t *testing.T) {
	ring, err := NewFrameRing(2, 1)
	require.NoError(t, err)

	first := ring.Next()
	require.NoError(t, ring.Begin(first, SessionHandle{Generation: 1}, time.Now()))
	ring.Consume(first, nil)

	// Skip the tick that would have reused the slot at sequence 2.
	ring.Next()
	skipped := ring.Next()
	require.NoError(t, ring.Skip(skipped))

	_, err = ring.Complete(skipped, fill(1))
	assert.ErrorIs(t, err, ErrLateFrame)
	assert.Equal(t, FrameIdle, ring.Consume(first, nil), "slot reissued to another sequence")
}

func TestFrameRingBeginBusy(t *testing.T) {
	ring, err := NewFrameRing(1, 1)
	require.NoError(t, err)

	first := ring.Next()
	require.NoError(t, ring.Begin(first, SessionHandle{Generation: 1}, time.Now()))

	second := ring.Next()
	assert.ErrorIs(t, ring.Begin(second, SessionHandle{Generation: 1}, time.Now()), ErrSlotBusy)

	ring.Consume(first, nil)
	assert.NoError(t, ring.Begin(second, SessionHandle{Generation: 1}, time.Now()))
}

func TestFrameRingSkipKeepsUnconsumedFrame(t *testing.T) {
	ring, err := NewFrameRing(1, 1)
	require.NoError(t, err)

	first := ring.Next()
	require.NoError(t, ring.Begin(first, SessionHandle{Generation: 1}, time.Now()))
	_, err = ring.Complete(first, fill(7))
	require.NoError(t, err)

	second := ring.Next()
	assert.ErrorIs(t, ring.Skip(second), ErrSlotBusy)
	assert.Equal(t, FrameReady, ring.State(first))

	var shown []byte
	assert.Equal(t, FrameReady, ring.Consume(first, func(p []byte) { shown = append(shown, p...) }))
	assert.Equal(t, []byte{7}, shown)

	third := ring.Next()
	assert.NoError(t, ring.Skip(third))
	assert.Equal(t, FrameIdle, ring.Consume(first, nil), "slot now belongs to a later sequence")
}

func TestFrameRingBeginWaitsForLateDecode(t *testing.T) {
	ring, err := NewFrameRing(2, 1)
	require.NoError(t, err)

	seq := ring.Next()
	require.NoError(t, ring.Begin(seq, SessionHandle{Generation: 1}, time.Now()))

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan FrameResult)
	go func() {
		result, _ := ring.Complete(seq, func(p []byte) (bool, error) {
			close(started)
			<-release
			return true, nil
		})
		done <- result
	}()
	<-started

	// The fold happens while the decode is still running: the frame is late.
	assert.Equal(t, FramePending, ring.Consume(seq, nil))
	ring.Next()
	reuse := ring.Next()
	assert.ErrorIs(t, ring.Begin(reuse, SessionHandle{Generation: 1}, time.Now()), ErrSlotBusy)

	close(release)
	result := <-done
	assert.Equal(t, FrameReady, result.State)
	assert.Equal(t, FrameIdle, ring.State(seq), "late decode must not resurrect the slot")
	assert.NoError(t, ring.Begin(reuse, SessionHandle{Generation: 1}, time.Now()))
}
