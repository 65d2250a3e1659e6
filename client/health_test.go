package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opd-ai/rendercast/av"
)

func TestHealthTrackerCountdown(t *testing.T) {
	h := newHealthTracker(100*time.Millisecond, 0.6)

	assert.False(t, h.check(0.5, 40*time.Millisecond))
	assert.False(t, h.check(0.5, 40*time.Millisecond))
	assert.True(t, h.check(0.5, 40*time.Millisecond), "grace time exhausted")
}

func TestHealthTrackerResetsOnRecovery(t *testing.T) {
	h := newHealthTracker(100*time.Millisecond, 0.6)

	assert.False(t, h.check(0.1, 90*time.Millisecond))
	assert.False(t, h.check(0.6, 10*time.Millisecond), "rate at the requirement is healthy")
	assert.Equal(t, 100*time.Millisecond, h.remaining)
	assert.False(t, h.check(0.1, 90*time.Millisecond))
}

func TestHealthTrackerAlternatingHistory(t *testing.T) {
	history := av.NewDeliveryHistory()
	for i := 0; i < 32; i++ {
		history.Record(i%2 == 0)
	}
	rate := history.Rate(32)
	assert.InDelta(t, 0.5, rate, 1e-9)

	h := newHealthTracker(50*time.Millisecond, 0.6)
	evicted := false
	for i := 0; i < 10 && !evicted; i++ {
		evicted = h.check(rate, 10*time.Millisecond)
	}
	assert.True(t, evicted)
}
